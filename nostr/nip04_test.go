package nostr

import "testing"

func TestNIP04RoundTrip(t *testing.T) {
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

	ciphertext, err := EncryptNIP04("legacy message", recipientPub, sender.Priv)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	plaintext, err := DecryptNIP04(ciphertext, senderPub, recipient.Priv)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plaintext != "legacy message" {
		t.Fatalf("got %q", plaintext)
	}
}

func TestNIP04AcceptsIVFirstFieldOrder(t *testing.T) {
	sender, _ := GenerateKeyPair()
	recipient, _ := GenerateKeyPair()
	recipientPub, _ := decodePubKeyHex(recipient.Pub)
	senderPub, _ := decodePubKeyHex(sender.Pub)

	ciphertext, err := EncryptNIP04("legacy message", recipientPub, sender.Priv)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ct, iv, err := splitNIP04Payload(ciphertext)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	reordered := "iv=" + iv + "?" + ct

	plaintext, err := DecryptNIP04(reordered, senderPub, recipient.Priv)
	if err != nil {
		t.Fatalf("decrypt reordered payload: %v", err)
	}
	if plaintext != "legacy message" {
		t.Fatalf("got %q", plaintext)
	}
}

func TestNIP04RejectsMissingIVField(t *testing.T) {
	recipient, _ := GenerateKeyPair()
	recipientPub, _ := decodePubKeyHex(recipient.Pub)
	if _, err := DecryptNIP04("aGVsbG8=", recipientPub, recipient.Priv); err != ErrInvalidNIP04Payload {
		t.Fatalf("expected ErrInvalidNIP04Payload, got %v", err)
	}
}
