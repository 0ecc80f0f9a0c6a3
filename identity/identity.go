// Package identity persists the two long-term key slots this module needs:
// the Noise static X25519 key and the Nostr secp256k1 identity key. The
// on-disk layout and JSON-file persistence follow the teacher's
// auth.FileDatabase (mutex-guarded map, encoding/json, 0600-permission
// atomic-ish rewrite), generalized from user records to key slots.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/crypto/curve25519"

	"stp/bech32"
)

const (
	SlotNoiseStatic   = "noise_static"
	SlotNostrIdentity = "nostr_identity"
	nsecHRP           = "nsec"
	exportFormatVer   = 1
)

var (
	ErrUnknownSlot = errors.New("identity: unknown key slot")
	ErrSlotEmpty   = errors.New("identity: key slot is empty")
	ErrInvalidNsec = errors.New("identity: invalid nsec encoding")
	ErrWrongHRP    = errors.New("identity: wrong bech32 human-readable part")
	ErrWrongKeyLen = errors.New("identity: decoded key has wrong length")
)

// KeyRecord is one persisted key slot: a 32-byte private scalar, its
// derived 32-byte public key, and the time it was created.
type KeyRecord struct {
	Priv      [32]byte  `json:"priv"`
	Pub       [32]byte  `json:"pub"`
	CreatedAt time.Time `json:"created_at"`
}

// onDiskFormat is the JSON shape persisted to disk, keyed by slot name.
type onDiskFormat struct {
	Slots map[string]diskKeyRecord `json:"slots"`
}

type diskKeyRecord struct {
	Priv      string    `json:"priv"`
	Pub       string    `json:"pub"`
	CreatedAt time.Time `json:"created_at"`
}

// NsecExport is the JSON export format for a secret key, per §6.
type NsecExport struct {
	Version    int       `json:"version"`
	Nsec       string    `json:"nsec"`
	CreatedAt  time.Time `json:"createdAt"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Store is the persistent identity keystore. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	path  string
	slots map[string]KeyRecord
}

// Open loads an existing keystore file, or starts with an empty store if
// none exists yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, slots: make(map[string]KeyRecord)}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var disk onDiskFormat
	if err := json.Unmarshal(data, &disk); err != nil {
		return err
	}
	for name, rec := range disk.Slots {
		priv, err := decodeHexKey(rec.Priv)
		if err != nil {
			return err
		}
		pub, err := decodeHexKey(rec.Pub)
		if err != nil {
			return err
		}
		s.slots[name] = KeyRecord{Priv: priv, Pub: pub, CreatedAt: rec.CreatedAt}
	}
	return nil
}

func (s *Store) saveLocked() error {
	disk := onDiskFormat{Slots: make(map[string]diskKeyRecord, len(s.slots))}
	for name, rec := range s.slots {
		disk.Slots[name] = diskKeyRecord{
			Priv:      hex.EncodeToString(rec.Priv[:]),
			Pub:       hex.EncodeToString(rec.Pub[:]),
			CreatedAt: rec.CreatedAt,
		}
	}
	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0600)
}

func decodeHexKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, ErrWrongKeyLen
	}
	copy(out[:], raw)
	return out, nil
}

// EnsureNoiseStatic returns the X25519 static key, generating and
// persisting a fresh one on first use.
func (s *Store) EnsureNoiseStatic() (KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.slots[SlotNoiseStatic]; ok {
		return rec, nil
	}

	var priv [32]byte
	if _, err := randRead(priv[:]); err != nil {
		return KeyRecord{}, err
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyRecord{}, err
	}
	var pub [32]byte
	copy(pub[:], pubBytes)

	rec := KeyRecord{Priv: priv, Pub: pub, CreatedAt: timeNow()}
	s.slots[SlotNoiseStatic] = rec
	if err := s.saveLocked(); err != nil {
		return KeyRecord{}, err
	}
	return rec, nil
}

// EnsureNostrIdentity returns the secp256k1 identity key, generating and
// persisting a fresh one on first use.
func (s *Store) EnsureNostrIdentity() (KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.slots[SlotNostrIdentity]; ok {
		return rec, nil
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return KeyRecord{}, err
	}
	var privBytes, pubBytes [32]byte
	copy(privBytes[:], priv.Serialize())
	copy(pubBytes[:], schnorr.SerializePubKey(priv.PubKey()))

	rec := KeyRecord{Priv: privBytes, Pub: pubBytes, CreatedAt: timeNow()}
	s.slots[SlotNostrIdentity] = rec
	if err := s.saveLocked(); err != nil {
		return KeyRecord{}, err
	}
	return rec, nil
}

// Get returns the record for slot without generating a new key.
func (s *Store) Get(slot string) (KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.slots[slot]
	if !ok {
		return KeyRecord{}, ErrSlotEmpty
	}
	return rec, nil
}

// ImportNsec decodes a bech32 nsec1... string and installs it as slot,
// overwriting any existing key there.
func (s *Store) ImportNsec(slot string, nsec string) error {
	hrp, raw, err := bech32.DecodeBytes(nsec)
	if err != nil {
		return ErrInvalidNsec
	}
	if hrp != nsecHRP {
		return ErrWrongHRP
	}
	if len(raw) != 32 {
		return ErrWrongKeyLen
	}

	var priv [32]byte
	copy(priv[:], raw)

	pub, err := derivePublicForSlot(slot, priv)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = KeyRecord{Priv: priv, Pub: pub, CreatedAt: timeNow()}
	return s.saveLocked()
}

func derivePublicForSlot(slot string, priv [32]byte) ([32]byte, error) {
	switch slot {
	case SlotNoiseStatic:
		var pub [32]byte
		pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
		if err != nil {
			return pub, err
		}
		copy(pub[:], pubBytes)
		return pub, nil
	case SlotNostrIdentity:
		var pub [32]byte
		_, pk := btcec.PrivKeyFromBytes(priv[:])
		copy(pub[:], schnorr.SerializePubKey(pk))
		return pub, nil
	default:
		return [32]byte{}, ErrUnknownSlot
	}
}

// ExportNsec produces the §6 JSON export object for slot's secret key.
func (s *Store) ExportNsec(slot string) (NsecExport, error) {
	s.mu.RLock()
	rec, ok := s.slots[slot]
	s.mu.RUnlock()
	if !ok {
		return NsecExport{}, ErrSlotEmpty
	}

	nsec, err := bech32.EncodeBytes(nsecHRP, rec.Priv[:])
	if err != nil {
		return NsecExport{}, err
	}
	return NsecExport{
		Version:    exportFormatVer,
		Nsec:       nsec,
		CreatedAt:  rec.CreatedAt,
		ExportedAt: timeNow(),
	}, nil
}

// Wipe zeroizes and removes slot from memory and deletes the on-disk file
// if this was the last remaining slot.
func (s *Store) Wipe(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slot]
	if !ok {
		return ErrSlotEmpty
	}
	for i := range rec.Priv {
		rec.Priv[i] = 0
	}
	delete(s.slots, slot)
	if len(s.slots) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return s.saveLocked()
}
