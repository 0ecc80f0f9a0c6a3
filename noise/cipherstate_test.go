package noise

import "testing"

func testKey(b byte) [KeySize]byte {
	var k [KeySize]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestCipherStateCounterSyncRoundTrip(t *testing.T) {
	c1 := NewCipherState(NonceCounterSync)
	c1.InitializeKey(testKey(1))
	c2 := NewCipherState(NonceCounterSync)
	c2.InitializeKey(testKey(1))

	for i := 0; i < 3; i++ {
		ct, err := c1.Encrypt([]byte("hello"), []byte("ad"))
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		pt, err := c2.Decrypt(ct, []byte("ad"))
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if string(pt) != "hello" {
			t.Fatalf("got %q", pt)
		}
	}
}

func TestCipherStateExtractedNonceOutOfOrder(t *testing.T) {
	sender := NewCipherState(NonceExtracted)
	sender.InitializeKey(testKey(7))
	receiver := NewCipherState(NonceExtracted)
	receiver.InitializeKey(testKey(7))

	var records [][]byte
	for i := 0; i < 5; i++ {
		ct, err := sender.Encrypt([]byte{byte(i)}, nil)
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		records = append(records, ct)
	}

	order := []int{0, 2, 1, 4, 3}
	for _, idx := range order {
		pt, err := receiver.Decrypt(records[idx], nil)
		if err != nil {
			t.Fatalf("decrypt record %d: %v", idx, err)
		}
		if pt[0] != byte(idx) {
			t.Fatalf("record %d: got %v", idx, pt)
		}
	}
}

func TestCipherStateReplayRejected(t *testing.T) {
	sender := NewCipherState(NonceExtracted)
	sender.InitializeKey(testKey(3))
	receiver := NewCipherState(NonceExtracted)
	receiver.InitializeKey(testKey(3))

	var records [][]byte
	for i := 0; i < 5; i++ {
		ct, _ := sender.Encrypt([]byte{byte(i)}, nil)
		records = append(records, ct)
	}
	for _, idx := range []int{0, 1, 2, 3, 4} {
		if _, err := receiver.Decrypt(records[idx], nil); err != nil {
			t.Fatalf("initial delivery %d: %v", idx, err)
		}
	}
	if _, err := receiver.Decrypt(records[2], nil); err != ErrReplayDetected {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
}

func TestCipherStateReplayTooOldRejected(t *testing.T) {
	sender := NewCipherState(NonceExtracted)
	sender.InitializeKey(testKey(9))
	receiver := NewCipherState(NonceExtracted)
	receiver.InitializeKey(testKey(9))

	var records [][]byte
	for i := 0; i < 1100; i++ {
		ct, _ := sender.Encrypt([]byte{byte(i % 256)}, nil)
		records = append(records, ct)
	}
	if _, err := receiver.Decrypt(records[1099], nil); err != nil {
		t.Fatalf("deliver latest: %v", err)
	}
	if _, err := receiver.Decrypt(records[0], nil); err != ErrReplayDetected {
		t.Fatalf("expected stale nonce rejected, got %v", err)
	}
}

func TestCipherStateNonceExceeded(t *testing.T) {
	c := NewCipherState(NonceCounterSync)
	c.InitializeKey(testKey(5))
	c.sendCounter = MaxNonce + 1
	if _, err := c.Encrypt([]byte("x"), nil); err != ErrNonceExceeded {
		t.Fatalf("expected ErrNonceExceeded, got %v", err)
	}
}

func TestCipherStateUninitialized(t *testing.T) {
	c := NewCipherState(NonceCounterSync)
	if _, err := c.Encrypt([]byte("x"), nil); err != ErrUninitializedCipher {
		t.Fatalf("expected ErrUninitializedCipher, got %v", err)
	}
}

func TestCipherStateClearZeroizes(t *testing.T) {
	c := NewCipherState(NonceCounterSync)
	c.InitializeKey(testKey(1))
	c.Clear()
	if c.HasKey() {
		t.Fatal("expected key cleared")
	}
	var zero [KeySize]byte
	if c.key != zero {
		t.Fatal("expected key bytes zeroized")
	}
}
