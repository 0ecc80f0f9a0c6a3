package nostr

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
)

var ErrInvalidPublicKeyHex = errors.New("nostr: invalid hex pubkey")

// randomizedTimestamp draws uniformly from [now-900, now+900] seconds, used
// to mask the real creation time of seals and gift-wraps. The rumor inside
// always keeps the real timestamp.
func randomizedTimestamp(now int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1801))
	if err != nil {
		return 0, err
	}
	return now - 900 + n.Int64(), nil
}

func decodePubKeyHex(pubHex string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != 32 {
		return out, ErrInvalidPublicKeyHex
	}
	copy(out[:], raw)
	return out, nil
}

// NewRumor builds the kind-14 unsigned message event carried inside a seal.
// Its ID is computed (so the rumor is self-identifying once unwrapped) but
// it is never signed and never sent on the wire on its own.
func NewRumor(senderPub string, content string, now int64) (*Event, error) {
	rumor := NewEvent(senderPub, now, KindRumor, nil, content)
	id, err := ComputeID(rumor)
	if err != nil {
		return nil, err
	}
	rumor.ID = id
	return rumor, nil
}

// Seal builds the NIP-17 kind-13 seal event: a rumor (kind 14, the sender's
// identity pubkey, left unsigned) encrypted under NIP-44 to the recipient,
// and signed by a fresh ephemeral key distinct from the sender's identity.
// preferOddParity selects the ECDH parity tried first, per the keystore's
// configured NIP-44 preference.
func Seal(rumor *Event, recipientPub string, now int64, preferOddParity bool) (*Event, error) {
	recipient, err := decodePubKeyHex(recipientPub)
	if err != nil {
		return nil, err
	}

	rumorBytes, err := serializeEventJSON(rumor)
	if err != nil {
		return nil, err
	}

	sealKey, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer sealKey.Zero()

	ciphertext, err := EncryptNIP44(string(rumorBytes), recipient, sealKey.Priv, preferOddParity)
	if err != nil {
		return nil, err
	}

	ts, err := randomizedTimestamp(now)
	if err != nil {
		return nil, err
	}

	seal := NewEvent(sealKey.Pub, ts, KindSeal, nil, ciphertext)
	if err := Sign(seal, sealKey.Priv); err != nil {
		return nil, err
	}
	return seal, nil
}
