package noise

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SymmetricState mixes keys and hashes per the Noise specification:
// MixKey, MixHash, MixKeyAndHash, EncryptAndHash, DecryptAndHash, Split.
type SymmetricState struct {
	chainingKey [32]byte
	hash        [32]byte
	cipher      *CipherState
}

// NewSymmetricState derives the initial chaining key and hash from the
// protocol name, per §4.2: right-padded if it fits in 32 bytes, hashed
// otherwise.
func NewSymmetricState(protocolName string) *SymmetricState {
	s := &SymmetricState{cipher: NewCipherState(NonceCounterSync)}
	if len(protocolName) <= 32 {
		copy(s.hash[:], protocolName)
	} else {
		s.hash = sha256.Sum256([]byte(protocolName))
	}
	s.chainingKey = s.hash
	return s
}

// HandshakeHash returns the current running transcript hash.
func (s *SymmetricState) HandshakeHash() [32]byte {
	return s.hash
}

func (s *SymmetricState) MixHash(data []byte) {
	h := sha256.New()
	h.Write(s.hash[:])
	h.Write(data)
	copy(s.hash[:], h.Sum(nil))
}

func hkdfN(chainingKey, ikm []byte, n int) [][32]byte {
	reader := hkdf.New(sha256.New, ikm, chainingKey[:], nil)
	out := make([][32]byte, n)
	for i := 0; i < n; i++ {
		io.ReadFull(reader, out[i][:])
	}
	return out
}

func (s *SymmetricState) MixKey(ikm []byte) {
	out := hkdfN(s.chainingKey[:], ikm, 2)
	s.chainingKey = out[0]
	s.cipher.InitializeKey(out[1])
}

func (s *SymmetricState) MixKeyAndHash(ikm []byte) {
	out := hkdfN(s.chainingKey[:], ikm, 3)
	s.chainingKey = out[0]
	s.MixHash(out[1][:])
	s.cipher.InitializeKey(out[2])
}

// EncryptAndHash encrypts pt under the current hash as associated data when
// the cipher is keyed, mixing the ciphertext into the hash; otherwise it
// passes pt through unchanged and mixes the plaintext instead.
func (s *SymmetricState) EncryptAndHash(pt []byte) ([]byte, error) {
	if !s.cipher.HasKey() {
		s.MixHash(pt)
		return pt, nil
	}
	ct, err := s.cipher.Encrypt(pt, s.hash[:])
	if err != nil {
		return nil, err
	}
	s.MixHash(ct)
	return ct, nil
}

// DecryptAndHash is the dual of EncryptAndHash: it mixes the ciphertext (not
// the plaintext) into the hash when the cipher is keyed.
func (s *SymmetricState) DecryptAndHash(ct []byte) ([]byte, error) {
	if !s.cipher.HasKey() {
		s.MixHash(ct)
		return ct, nil
	}
	pt, err := s.cipher.Decrypt(ct, s.hash[:])
	if err != nil {
		return nil, err
	}
	s.MixHash(ct)
	return pt, nil
}

// Split derives two transport cipher states from the chaining key and
// zeroizes the symmetric state. mode selects the nonce framing the returned
// ciphers will use for the transport phase.
func (s *SymmetricState) Split(mode NonceMode) (c1, c2 *CipherState) {
	out := hkdfN(s.chainingKey[:], nil, 2)
	c1 = NewCipherState(mode)
	c1.InitializeKey(out[0])
	c2 = NewCipherState(mode)
	c2.InitializeKey(out[1])

	for i := range s.chainingKey {
		s.chainingKey[i] = 0
	}
	for i := range s.hash {
		s.hash[i] = 0
	}
	s.cipher.Clear()
	return c1, c2
}
