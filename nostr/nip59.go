package nostr

import "errors"

var ErrGiftWrapNotAddressed = errors.New("nostr: gift wrap not addressed to this recipient")

// GiftWrap builds the NIP-59 kind-1059 event wrapping a seal: a fresh
// ephemeral key encrypts the seal's full JSON under NIP-44 and signs the
// result, with a single ["p", recipient] tag and a randomized timestamp.
// preferOddParity selects the ECDH parity tried first, per the keystore's
// configured NIP-44 preference.
func GiftWrap(seal *Event, recipientPub string, now int64, preferOddParity bool) (*Event, error) {
	recipient, err := decodePubKeyHex(recipientPub)
	if err != nil {
		return nil, err
	}

	sealBytes, err := serializeEventJSON(seal)
	if err != nil {
		return nil, err
	}

	wrapKey, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer wrapKey.Zero()

	ciphertext, err := EncryptNIP44(string(sealBytes), recipient, wrapKey.Priv, preferOddParity)
	if err != nil {
		return nil, err
	}

	ts, err := randomizedTimestamp(now)
	if err != nil {
		return nil, err
	}

	wrap := NewEvent(wrapKey.Pub, ts, KindGiftWrap, [][]string{{"p", recipientPub}}, ciphertext)
	if err := Sign(wrap, wrapKey.Priv); err != nil {
		return nil, err
	}
	return wrap, nil
}

// PrivateMessage is the result of unwrapping a gift-wrap: the plaintext, the
// cryptographically attested sender identity (the rumor's pubkey field),
// and the real (non-randomized) send time.
type PrivateMessage struct {
	Content   string
	Sender    string
	Timestamp int64
}

// CreatePrivateMessage composes NewRumor, Seal, and GiftWrap into the full
// three-layer onion described by §4.5, addressed from senderIdentityPub to
// recipientPub. The seal and the gift-wrap are each signed by a fresh
// ephemeral key, not the sender's long-term identity key, per the onion's
// sender-hiding design; the rumor is left unsigned.
// preferOddParity is threaded down to every NIP-44 encryption in the onion,
// per the keystore's configured ECDH parity preference.
func CreatePrivateMessage(content string, recipientPub string, senderIdentityPub string, now int64, preferOddParity bool) (*Event, error) {
	rumor, err := NewRumor(senderIdentityPub, content, now)
	if err != nil {
		return nil, err
	}
	seal, err := Seal(rumor, recipientPub, now, preferOddParity)
	if err != nil {
		return nil, err
	}
	return GiftWrap(seal, recipientPub, now, preferOddParity)
}

// DecryptPrivateMessage reverses CreatePrivateMessage: it opens the
// gift-wrap and the seal in turn using the recipient's identity key, and
// returns the rumor's content, sender, and real timestamp. preferOddParity
// only affects which ECDH parity is probed first; DecryptNIP44 always
// falls back to the other parity, so decryption succeeds regardless of the
// sender's own preference.
func DecryptPrivateMessage(wrap *Event, recipientIdentityPriv [32]byte, preferOddParity bool) (*PrivateMessage, error) {
	wrapPub, err := decodePubKeyHex(wrap.PubKey)
	if err != nil {
		return nil, err
	}
	sealJSON, err := DecryptNIP44(wrap.Content, wrapPub, recipientIdentityPriv, preferOddParity)
	if err != nil {
		return nil, err
	}
	seal, err := parseEventJSON([]byte(sealJSON))
	if err != nil {
		return nil, err
	}

	sealPub, err := decodePubKeyHex(seal.PubKey)
	if err != nil {
		return nil, err
	}
	rumorJSON, err := DecryptNIP44(seal.Content, sealPub, recipientIdentityPriv, preferOddParity)
	if err != nil {
		return nil, err
	}
	rumor, err := parseEventJSON([]byte(rumorJSON))
	if err != nil {
		return nil, err
	}

	return &PrivateMessage{
		Content:   rumor.Content,
		Sender:    rumor.PubKey,
		Timestamp: rumor.CreatedAt,
	}, nil
}
