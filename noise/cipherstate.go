// Package noise implements the Noise Protocol Framework primitives this
// module needs: an AEAD cipher state with replay protection, the symmetric
// state that drives key mixing during a handshake, and the handshake state
// machine itself for the XX, IK and NK patterns over Curve25519,
// ChaCha20-Poly1305 and SHA-256.
package noise

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize

	// MaxNonce is the highest send counter a CipherState will use; Encrypt
	// fails once the counter would exceed it.
	MaxNonce = (uint64(1) << 32) - 1
)

var (
	ErrUninitializedCipher = errors.New("noise: cipher state not initialized")
	ErrInvalidCiphertext   = errors.New("noise: invalid ciphertext")
	ErrReplayDetected      = errors.New("noise: replay detected")
	ErrNonceExceeded       = errors.New("noise: nonce counter exceeded")
)

// NonceMode selects how CipherState.Decrypt recovers the AEAD nonce for an
// incoming record.
type NonceMode int

const (
	// NonceCounterSync uses the cipher's own running counter as the nonce,
	// advancing it only on a successful decrypt. Used during the handshake.
	NonceCounterSync NonceMode = iota
	// NonceExtracted reads a big-endian uint32 nonce prefix from the front
	// of the ciphertext, as the post-handshake transport does.
	NonceExtracted
)

// CipherState is the §4.1 AEAD cipher state: a ChaCha20-Poly1305 key paired
// with a monotonic send counter and a 1024-element replay window for
// incoming records.
type CipherState struct {
	key         [KeySize]byte
	hasKey      bool
	sendCounter uint64
	window      replayWindow
	mode        NonceMode
}

// NewCipherState constructs a cipher state in the given nonce mode without a
// key; call InitializeKey before Encrypt/Decrypt.
func NewCipherState(mode NonceMode) *CipherState {
	return &CipherState{mode: mode}
}

// InitializeKey sets the cipher key and resets the send counter. The replay
// window is left untouched so that Split-created states start clean.
func (c *CipherState) InitializeKey(key [KeySize]byte) {
	c.key = key
	c.hasKey = true
	c.sendCounter = 0
}

// HasKey reports whether InitializeKey has been called.
func (c *CipherState) HasKey() bool {
	return c.hasKey
}

func nonceFromCounter(counter uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Encrypt seals plaintext under the current send counter and advances it.
// In NonceExtracted mode the wire record is prefixed with the counter's
// low 32 bits encoded big-endian, per §9's wire-compatibility note.
func (c *CipherState) Encrypt(plaintext, ad []byte) ([]byte, error) {
	if !c.hasKey {
		return nil, ErrUninitializedCipher
	}
	if c.sendCounter > MaxNonce {
		return nil, ErrNonceExceeded
	}
	aead, err := chacha20poly1305.New(c.key[:])
	if err != nil {
		return nil, err
	}
	nonce := nonceFromCounter(c.sendCounter)
	ciphertext := aead.Seal(nil, nonce[:], plaintext, ad)

	var out []byte
	if c.mode == NonceExtracted {
		out = make([]byte, 4+len(ciphertext))
		binary.BigEndian.PutUint32(out[:4], uint32(c.sendCounter))
		copy(out[4:], ciphertext)
	} else {
		out = ciphertext
	}
	c.sendCounter++
	return out, nil
}

// Decrypt opens ciphertext. In NonceCounterSync mode it uses and advances
// the cipher's own counter; in NonceExtracted mode it reads the nonce
// prefix from the wire and checks it against the replay window.
func (c *CipherState) Decrypt(ciphertext, ad []byte) ([]byte, error) {
	if !c.hasKey {
		return nil, ErrUninitializedCipher
	}
	aead, err := chacha20poly1305.New(c.key[:])
	if err != nil {
		return nil, err
	}

	if c.mode == NonceCounterSync {
		nonce := nonceFromCounter(c.sendCounter)
		plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
		if err != nil {
			return nil, ErrInvalidCiphertext
		}
		c.sendCounter++
		return plaintext, nil
	}

	if len(ciphertext) < 4 {
		return nil, ErrInvalidCiphertext
	}
	received := uint64(binary.BigEndian.Uint32(ciphertext[:4]))
	if err := c.window.checkReplay(received); err != nil {
		return nil, err
	}
	nonce := nonceFromCounter(received)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext[4:], ad)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	c.window.accept(received)
	return plaintext, nil
}

// Clear zeroizes all key and replay-window material.
func (c *CipherState) Clear() {
	for i := range c.key {
		c.key[i] = 0
	}
	c.hasKey = false
	c.sendCounter = 0
	c.window.clear()
}
