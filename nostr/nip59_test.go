package nostr

import "testing"

func TestGiftWrapRoundTrip(t *testing.T) {
	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate sender: %v", err)
	}
	recipient, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate recipient: %v", err)
	}

	now := int64(1700000000)
	wrap, err := CreatePrivateMessage("ping", recipient.Pub, sender.Pub, now, false)
	if err != nil {
		t.Fatalf("create private message: %v", err)
	}
	if wrap.Kind != KindGiftWrap {
		t.Fatalf("expected kind %d, got %d", KindGiftWrap, wrap.Kind)
	}
	if !Verify(wrap) {
		t.Fatal("expected gift wrap signature to verify")
	}
	if wrap.PubKey == sender.Pub {
		t.Fatal("expected gift wrap outer pubkey to differ from sender identity")
	}

	msg, err := DecryptPrivateMessage(wrap, recipient.Priv, false)
	if err != nil {
		t.Fatalf("decrypt private message: %v", err)
	}
	if msg.Content != "ping" {
		t.Fatalf("expected content ping, got %q", msg.Content)
	}
	if msg.Sender != sender.Pub {
		t.Fatalf("expected sender %s, got %s", sender.Pub, msg.Sender)
	}
	if msg.Timestamp != now {
		t.Fatalf("expected real rumor timestamp %d, got %d", now, msg.Timestamp)
	}
}

func TestGiftWrapOuterPubKeyVariesAcrossWraps(t *testing.T) {
	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate sender: %v", err)
	}
	recipient, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate recipient: %v", err)
	}

	seen := make(map[string]bool)
	const n = 20
	for i := 0; i < n; i++ {
		wrap, err := CreatePrivateMessage("same plaintext", recipient.Pub, sender.Pub, 1700000000, false)
		if err != nil {
			t.Fatalf("create private message %d: %v", i, err)
		}
		seen[wrap.PubKey] = true
	}
	if len(seen) < n/2 {
		t.Fatalf("expected outer pubkeys to be statistically distinct, got %d distinct of %d", len(seen), n)
	}
}

func TestGiftWrapTimestampIsRandomizedButRumorIsNot(t *testing.T) {
	sender, _ := GenerateKeyPair()
	recipient, _ := GenerateKeyPair()

	now := int64(1700000000)
	wrap, err := CreatePrivateMessage("ping", recipient.Pub, sender.Pub, now, false)
	if err != nil {
		t.Fatalf("create private message: %v", err)
	}

	msg, err := DecryptPrivateMessage(wrap, recipient.Priv, false)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if msg.Timestamp != now {
		t.Fatal("expected rumor timestamp to be the real send time")
	}

	diff := wrap.CreatedAt - now
	if diff < -900 || diff > 900 {
		t.Fatalf("expected wrap timestamp within 900s of now, got diff %d", diff)
	}
}
