// Package nostr implements the event model, canonical signing, and
// encryption schemes (NIP-44, NIP-17, NIP-59, NIP-04) used by the private
// messaging stack built on top of the identity keystore's secp256k1 key.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Recognized event kinds.
const (
	KindMetadata    = 0
	KindTextNote    = 1
	KindLegacyDM    = 4
	KindSeal        = 13
	KindRumor       = 14
	KindGiftWrap    = 1059
	KindGeohashNote = 20000
	KindGeohashPres = 20001
)

var (
	ErrInvalidEvent     = errors.New("nostr: invalid event")
	ErrInvalidSignature = errors.New("nostr: invalid signature encoding")
	ErrInvalidPubKey    = errors.New("nostr: invalid pubkey encoding")
)

// Event is the canonical Nostr event tuple. Tags must never be nil when an
// event is serialized; use NewEvent or set Tags to an empty slice explicitly.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// NewEvent builds an unsigned event with a non-nil Tags slice.
func NewEvent(pubkey string, createdAt int64, kind int, tags [][]string, content string) *Event {
	if tags == nil {
		tags = [][]string{}
	}
	return &Event{
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

// SerializeCanonical produces the minimal JSON array [0, pubkey, created_at,
// kind, tags, content] per §4.5, with HTML escaping disabled so that
// characters like '&' and '<' are not rewritten.
func SerializeCanonical(e *Event) ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	arr := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID returns the lowercase hex SHA-256 digest of the canonical
// serialization.
func ComputeID(e *Event) (string, error) {
	data, err := SerializeCanonical(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// PubKeyFromPrivate derives the BIP-340 x-only hex pubkey for a secp256k1
// secret scalar.
func PubKeyFromPrivate(priv [32]byte) (string, error) {
	_, pub := btcec.PrivKeyFromBytes(priv[:])
	return hex.EncodeToString(schnorr.SerializePubKey(pub)), nil
}

// Sign computes the event ID and produces a BIP-340 Schnorr signature over
// it, filling in both ID and Sig.
func Sign(e *Event, priv [32]byte) error {
	id, err := ComputeID(e)
	if err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return err
	}
	privKey, _ := btcec.PrivKeyFromBytes(priv[:])
	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return err
	}
	e.ID = id
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// serializeEventJSON marshals the full event struct (used as the content of
// a seal or gift-wrap, which carries the inner event verbatim rather than
// its canonical array form).
func serializeEventJSON(e *Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func parseEventJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Tags == nil {
		e.Tags = [][]string{}
	}
	return &e, nil
}

// Verify recomputes the canonical ID and checks the Schnorr signature. Any
// failure — mismatched ID, malformed hex, bad signature — returns false
// rather than an error, per §4.5.
func Verify(e *Event) bool {
	expectedID, err := ComputeID(e)
	if err != nil || expectedID != e.ID {
		return false
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pubBytes) != 32 {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	return schnorr.Verify(sig, idBytes, pubKey)
}
