package nostr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

var ErrInvalidNIP04Payload = errors.New("nostr: invalid nip-04 payload")

// nip04SharedKey returns the AES-256-CBC key for the legacy NIP-04 scheme:
// the 32-byte ECDH shared x-coordinate itself, with no hashing or HKDF.
func nip04SharedKey(pub [32]byte, priv [32]byte) ([]byte, error) {
	compressed := append([]byte{0x02}, pub[:]...)
	pubKey, err := btcec.ParsePubKey(compressed)
	if err != nil {
		return nil, err
	}
	privKey, _ := btcec.PrivKeyFromBytes(priv[:])

	sx, _ := pubKey.ToECDSA().Curve.ScalarMult(pubKey.X(), pubKey.Y(), privKey.Serialize())
	sxBytes := sx.Bytes()
	var shared [32]byte
	copy(shared[32-len(sxBytes):], sxBytes)

	return shared[:], nil
}

// EncryptNIP04 implements the legacy DM scheme: AES-256-CBC under the ECDH
// shared x-coordinate, framed as base64(ciphertext) + "?iv=" + base64(iv).
func EncryptNIP04(plaintext string, recipientPub [32]byte, senderPriv [32]byte) (string, error) {
	key, err := nip04SharedKey(recipientPub, senderPriv)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptNIP04 reverses EncryptNIP04. The two fields may appear in either
// order; both are required.
func DecryptNIP04(payload string, senderPub [32]byte, recipientPriv [32]byte) (string, error) {
	ctB64, ivB64, err := splitNIP04Payload(payload)
	if err != nil {
		return "", err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", ErrInvalidNIP04Payload
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrInvalidNIP04Payload
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrInvalidNIP04Payload
	}

	key, err := nip04SharedKey(senderPub, recipientPriv)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	padded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// splitNIP04Payload accepts both "<ct>?iv=<iv>" (the usual wire order) and
// "iv=<iv>?<ct>" (the field order some implementations emit).
func splitNIP04Payload(payload string) (ct, iv string, err error) {
	if strings.HasPrefix(payload, "iv=") {
		rest := payload[len("iv="):]
		idx := strings.Index(rest, "?")
		if idx < 0 {
			return "", "", ErrInvalidNIP04Payload
		}
		return rest[idx+1:], rest[:idx], nil
	}
	idx := strings.Index(payload, "?iv=")
	if idx < 0 {
		return "", "", ErrInvalidNIP04Payload
	}
	return payload[:idx], payload[idx+len("?iv="):], nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidNIP04Payload
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidNIP04Payload
	}
	return data[:len(data)-padLen], nil
}
