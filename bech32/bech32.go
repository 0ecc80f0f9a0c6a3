// Package bech32 implements the checksummed base-32 encoding used for the
// identity keystore's nsec1 import/export format. No library in the
// retrieved corpus wires a bech32 dependency, so this follows the
// generator polynomial and charset given directly by the format.
package bech32

import (
	"errors"
	"strings"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

const xorConstant = 1

var (
	ErrInvalidChecksum = errors.New("bech32: invalid checksum")
	ErrInvalidChar     = errors.New("bech32: invalid character")
	ErrInvalidLength   = errors.New("bech32: invalid length")
	ErrMixedCase       = errors.New("bech32: mixed case")
	ErrNoSeparator     = errors.New("bech32: missing separator")
)

func polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= generator[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&31)
	}
	return out
}

func createChecksum(hrp string, data []byte) []byte {
	values := append(hrpExpand(hrp), data...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := polymod(values) ^ xorConstant
	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return checksum
}

func verifyChecksum(hrp string, data []byte) bool {
	values := append(hrpExpand(hrp), data...)
	return polymod(values) == xorConstant
}

// Encode produces the bech32 string for hrp and the given 5-bit groups.
func Encode(hrp string, data []byte) (string, error) {
	if len(hrp) < 1 {
		return "", ErrInvalidLength
	}
	combined := append(append([]byte{}, data...), createChecksum(hrp, data)...)
	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, b := range combined {
		if int(b) >= len(charset) {
			return "", ErrInvalidChar
		}
		sb.WriteByte(charset[b])
	}
	return sb.String(), nil
}

// Decode splits and checksum-verifies s, returning the human-readable part
// and the raw 5-bit data groups (checksum stripped).
func Decode(s string) (hrp string, data []byte, err error) {
	if strings.ToLower(s) != s && strings.ToUpper(s) != s {
		return "", nil, ErrMixedCase
	}
	s = strings.ToLower(s)

	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		return "", nil, ErrNoSeparator
	}
	hrp = s[:pos]
	dataPart := s[pos+1:]

	decoded := make([]byte, len(dataPart))
	for i := 0; i < len(dataPart); i++ {
		idx := strings.IndexByte(charset, dataPart[i])
		if idx < 0 {
			return "", nil, ErrInvalidChar
		}
		decoded[i] = byte(idx)
	}
	if !verifyChecksum(hrp, decoded) {
		return "", nil, ErrInvalidChecksum
	}
	return hrp, decoded[:len(decoded)-6], nil
}

// ConvertBits repacks a slice of grouped bits (fromBits wide) into groups of
// toBits width, used to move between 8-bit bytes and bech32's 5-bit groups.
func ConvertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1)<<toBits - 1
	var out []byte
	for _, value := range data {
		if uint32(value)>>fromBits != 0 {
			return nil, ErrInvalidChar
		}
		acc = acc<<fromBits | uint32(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits)&byte(maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits))&byte(maxv))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, ErrInvalidLength
	}
	return out, nil
}

// EncodeBytes converts raw bytes into 5-bit groups and bech32-encodes them
// under hrp, as used for nsec1/npub1.
func EncodeBytes(hrp string, raw []byte) (string, error) {
	data, err := ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return Encode(hrp, data)
}

// DecodeBytes is the dual of EncodeBytes: it decodes a bech32 string and
// repacks its data part back into raw bytes.
func DecodeBytes(s string) (hrp string, raw []byte, err error) {
	hrp, data, err := Decode(s)
	if err != nil {
		return "", nil, err
	}
	raw, err = ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, raw, nil
}
