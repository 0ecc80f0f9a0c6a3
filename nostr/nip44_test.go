package nostr

import "testing"

func TestNIP44RoundTrip(t *testing.T) {
	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate sender: %v", err)
	}
	recipient, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate recipient: %v", err)
	}

	recipientPub, err := decodePubKeyHex(recipient.Pub)
	if err != nil {
		t.Fatalf("decode recipient pub: %v", err)
	}
	senderPub, err := decodePubKeyHex(sender.Pub)
	if err != nil {
		t.Fatalf("decode sender pub: %v", err)
	}

	ciphertext, err := EncryptNIP44("hello nostr", recipientPub, sender.Priv, false)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(ciphertext) < 4 || ciphertext[:3] != "v2:" {
		t.Fatalf("expected v2: prefix, got %q", ciphertext)
	}

	plaintext, err := DecryptNIP44(ciphertext, senderPub, recipient.Priv, false)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plaintext != "hello nostr" {
		t.Fatalf("got %q", plaintext)
	}
}

func TestNIP44RoundTripWithOddParityPreference(t *testing.T) {
	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate sender: %v", err)
	}
	recipient, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate recipient: %v", err)
	}
	recipientPub, _ := decodePubKeyHex(recipient.Pub)
	senderPub, _ := decodePubKeyHex(sender.Pub)

	ciphertext, err := EncryptNIP44("hello nostr", recipientPub, sender.Priv, true)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// A decrypting side configured with the opposite preference must still
	// succeed: DecryptNIP44 always falls back to the other parity.
	plaintext, err := DecryptNIP44(ciphertext, senderPub, recipient.Priv, false)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plaintext != "hello nostr" {
		t.Fatalf("got %q", plaintext)
	}
}

func TestNIP44RejectsBadVersionPrefix(t *testing.T) {
	recipient, _ := GenerateKeyPair()
	recipientPub, _ := decodePubKeyHex(recipient.Pub)
	if _, err := DecryptNIP44("v1:abc", recipientPub, recipient.Priv, false); err != ErrInvalidVersion {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestNIP44RejectsShortPayload(t *testing.T) {
	recipient, _ := GenerateKeyPair()
	recipientPub, _ := decodePubKeyHex(recipient.Pub)
	if _, err := DecryptNIP44("v2:YWJj", recipientPub, recipient.Priv, false); err != ErrInvalidCiphertext {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestNIP44TamperedCiphertextFails(t *testing.T) {
	sender, _ := GenerateKeyPair()
	recipient, _ := GenerateKeyPair()
	recipientPub, _ := decodePubKeyHex(recipient.Pub)
	senderPub, _ := decodePubKeyHex(sender.Pub)

	ciphertext, err := EncryptNIP44("secret", recipientPub, sender.Priv, false)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := []byte(ciphertext)
	tampered[len(tampered)-1] ^= 1
	if _, err := DecryptNIP44(string(tampered), senderPub, recipient.Priv, false); err != ErrInvalidCiphertext {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
}
