package nostr

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// KeyPair is a secp256k1 identity or ephemeral key pair, exposed in the
// 32-byte secret scalar / x-only hex pubkey form Nostr events use.
type KeyPair struct {
	Priv [32]byte
	Pub  string
}

// GenerateKeyPair draws a fresh secp256k1 scalar, used for identity keys and
// for the per-message ephemeral keys required by NIP-17/NIP-59.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return KeyPair{}, err
	}
	var kp KeyPair
	copy(kp.Priv[:], priv.Serialize())
	kp.Pub = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	return kp, nil
}

// Zero zeroizes the secret scalar, as required of every ephemeral key once
// consumed.
func (k *KeyPair) Zero() {
	for i := range k.Priv {
		k.Priv[i] = 0
	}
}
