package noise

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/curve25519"
)

// Pattern selects one of the three Noise handshake patterns this module
// supports.
type Pattern int

const (
	PatternXX Pattern = iota
	PatternIK
	PatternNK
)

func (p Pattern) String() string {
	switch p {
	case PatternXX:
		return "XX"
	case PatternIK:
		return "IK"
	case PatternNK:
		return "NK"
	default:
		return "unknown"
	}
}

func (p Pattern) protocolName() string {
	return "Noise_" + p.String() + "_25519_ChaChaPoly_SHA256"
}

type token int

const (
	tokenE token = iota
	tokenS
	tokenEE
	tokenES
	tokenSE
	tokenSS
)

// messagePatterns[pattern][messageIndex] lists the tokens for that message,
// in initiator-send order; the responder consumes the same token list on
// read and emits it on its own turn.
var messagePatterns = map[Pattern][][]token{
	PatternXX: {
		{tokenE},
		{tokenE, tokenEE, tokenS, tokenES},
		{tokenS, tokenSE},
	},
	PatternIK: {
		{tokenE, tokenES, tokenS, tokenSS},
		{tokenE, tokenEE, tokenSE},
	},
	PatternNK: {
		{tokenE, tokenES},
		{tokenE, tokenEE},
	},
}

type Role int

const (
	Initiator Role = iota
	Responder
)

var (
	ErrHandshakeComplete     = errors.New("noise: handshake already complete")
	ErrHandshakeNotComplete  = errors.New("noise: handshake not complete")
	ErrMissingKeys           = errors.New("noise: missing remote static key")
	ErrMissingLocalStaticKey = errors.New("noise: missing local static key")
	ErrInvalidMessage        = errors.New("noise: invalid or truncated message")
	ErrAuthenticationFailure = errors.New("noise: authentication failure")
	ErrInvalidPublicKey      = errors.New("noise: invalid public key")
)

// lowOrderPoints are the four Curve25519 points with order dividing 8 that
// must never be accepted as a peer's ephemeral or static public key.
var lowOrderPoints = [][32]byte{
	{}, // all-zero
	{1},
	{ // the canonical order-8 point
		0xe0, 0xeb, 0x7a, 0x7c, 0x3b, 0x41, 0xb8, 0xae,
		0x16, 0x56, 0xe3, 0xfa, 0xf1, 0x9f, 0xc4, 0x6a,
		0xda, 0x09, 0x8d, 0xeb, 0x9c, 0x32, 0xb1, 0xfd,
		0x86, 0x62, 0x05, 0x16, 0x5f, 0x49, 0xb8, 0x00,
	},
	{ // ff...ff
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	},
}

// validatePublicKey rejects the low-order Curve25519 points in constant
// time, before any DH is performed on the value.
func validatePublicKey(pub []byte) error {
	if len(pub) != 32 {
		return ErrInvalidPublicKey
	}
	for _, bad := range lowOrderPoints {
		if subtle.ConstantTimeCompare(pub, bad[:]) == 1 {
			return ErrInvalidPublicKey
		}
	}
	return nil
}

// KeyPair is an X25519 static or ephemeral key pair.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair produces a fresh X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// HandshakeState drives the token sequence of a single Noise handshake.
type HandshakeState struct {
	role    Role
	pattern Pattern
	sym     *SymmetricState

	localStatic  *KeyPair
	localEpheral KeyPair
	haveEphemeral bool

	remoteStatic    [32]byte
	haveRemoteStatic bool
	remoteEphemeral [32]byte

	messages       [][]token
	messageIndex   int
	complete       bool
}

// HandshakeConfig configures a new HandshakeState.
type HandshakeConfig struct {
	Pattern      Pattern
	Role         Role
	Prologue     []byte
	LocalStatic  *KeyPair // required by every pattern here
	RemoteStatic *[32]byte // required: IK/NK initiator
}

// NewHandshakeState initializes the symmetric state, mixes the prologue and
// any pre-message static keys, per §4.3.
func NewHandshakeState(cfg HandshakeConfig) (*HandshakeState, error) {
	if cfg.LocalStatic == nil {
		return nil, ErrMissingLocalStaticKey
	}
	patterns, ok := messagePatterns[cfg.Pattern]
	if !ok {
		return nil, errors.New("noise: unknown pattern")
	}

	hs := &HandshakeState{
		role:        cfg.Role,
		pattern:     cfg.Pattern,
		sym:         NewSymmetricState(cfg.Pattern.protocolName()),
		localStatic: cfg.LocalStatic,
		messages:    patterns,
	}
	hs.sym.MixHash(cfg.Prologue)

	switch cfg.Pattern {
	case PatternIK, PatternNK:
		if cfg.Role == Initiator {
			if cfg.RemoteStatic == nil {
				return nil, ErrMissingKeys
			}
			if err := validatePublicKey(cfg.RemoteStatic[:]); err != nil {
				return nil, err
			}
			hs.remoteStatic = *cfg.RemoteStatic
			hs.haveRemoteStatic = true
			hs.sym.MixHash(hs.remoteStatic[:])
		} else {
			hs.sym.MixHash(cfg.LocalStatic.Public[:])
		}
	}

	return hs, nil
}

func (hs *HandshakeState) currentMessage() ([]token, error) {
	if hs.complete {
		return nil, ErrHandshakeComplete
	}
	if hs.messageIndex >= len(hs.messages) {
		return nil, ErrHandshakeComplete
	}
	return hs.messages[hs.messageIndex], nil
}

// myTurnToWrite reports whether the next message in the pattern is sent by
// this role: initiator writes messages 0, 2, 4, ...; responder writes 1, 3....
func (hs *HandshakeState) myTurnToWrite() bool {
	if hs.role == Initiator {
		return hs.messageIndex%2 == 0
	}
	return hs.messageIndex%2 == 1
}

// WriteMessage processes the next pattern message as the sender, appending
// payload (encrypted once the cipher is keyed) and returns the wire bytes.
func (hs *HandshakeState) WriteMessage(payload []byte) ([]byte, error) {
	if !hs.myTurnToWrite() {
		return nil, errors.New("noise: not this role's turn to write")
	}
	tokens, err := hs.currentMessage()
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, t := range tokens {
		switch t {
		case tokenE:
			kp, err := GenerateKeyPair()
			if err != nil {
				return nil, err
			}
			hs.localEpheral = kp
			hs.haveEphemeral = true
			out = append(out, kp.Public[:]...)
			hs.sym.MixHash(kp.Public[:])

		case tokenS:
			enc, err := hs.sym.EncryptAndHash(hs.localStatic.Public[:])
			if err != nil {
				return nil, err
			}
			out = append(out, enc...)

		case tokenEE, tokenES, tokenSE, tokenSS:
			dh, err := hs.dh(t)
			if err != nil {
				return nil, err
			}
			hs.sym.MixKey(dh)
		}
	}

	enc, err := hs.sym.EncryptAndHash(payload)
	if err != nil {
		return nil, err
	}
	out = append(out, enc...)

	hs.advance()
	return out, nil
}

// ReadMessage is the dual of WriteMessage: it consumes tokens from message,
// validating any received public keys before using them in a DH, and
// returns the authenticated trailing payload.
func (hs *HandshakeState) ReadMessage(message []byte) ([]byte, error) {
	if hs.myTurnToWrite() {
		return nil, errors.New("noise: not this role's turn to read")
	}
	tokens, err := hs.currentMessage()
	if err != nil {
		return nil, err
	}

	buf := message
	for _, t := range tokens {
		switch t {
		case tokenE:
			if len(buf) < 32 {
				return nil, ErrInvalidMessage
			}
			if err := validatePublicKey(buf[:32]); err != nil {
				return nil, err
			}
			copy(hs.remoteEphemeral[:], buf[:32])
			buf = buf[32:]
			hs.sym.MixHash(hs.remoteEphemeral[:])

		case tokenS:
			n := 32
			if hs.sym.cipher.HasKey() {
				n = 32 + 16
			}
			if len(buf) < n {
				return nil, ErrInvalidMessage
			}
			pub, err := hs.sym.DecryptAndHash(buf[:n])
			if err != nil {
				return nil, ErrAuthenticationFailure
			}
			if err := validatePublicKey(pub); err != nil {
				return nil, err
			}
			copy(hs.remoteStatic[:], pub)
			hs.haveRemoteStatic = true
			buf = buf[n:]

		case tokenEE, tokenES, tokenSE, tokenSS:
			dh, err := hs.dh(t)
			if err != nil {
				return nil, err
			}
			hs.sym.MixKey(dh)
		}
	}

	payload, err := hs.sym.DecryptAndHash(buf)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}

	hs.advance()
	return payload, nil
}

func (hs *HandshakeState) advance() {
	hs.messageIndex++
	if hs.messageIndex >= len(hs.messages) {
		hs.complete = true
	}
}

// dh performs the DH named by token, selecting local/remote keys by role.
func (hs *HandshakeState) dh(t token) ([]byte, error) {
	var localPriv [32]byte
	var remotePub [32]byte

	switch t {
	case tokenEE:
		if !hs.haveEphemeral {
			return nil, ErrMissingKeys
		}
		localPriv = hs.localEpheral.Private
		remotePub = hs.remoteEphemeral

	case tokenES:
		if hs.role == Initiator {
			if !hs.haveEphemeral || !hs.haveRemoteStatic {
				return nil, ErrMissingKeys
			}
			localPriv = hs.localEpheral.Private
			remotePub = hs.remoteStatic
		} else {
			localPriv = hs.localStatic.Private
			remotePub = hs.remoteEphemeral
		}

	case tokenSE:
		if hs.role == Initiator {
			localPriv = hs.localStatic.Private
			remotePub = hs.remoteEphemeral
		} else {
			if !hs.haveEphemeral || !hs.haveRemoteStatic {
				return nil, ErrMissingKeys
			}
			localPriv = hs.localEpheral.Private
			remotePub = hs.remoteStatic
		}

	case tokenSS:
		if !hs.haveRemoteStatic {
			return nil, ErrMissingKeys
		}
		localPriv = hs.localStatic.Private
		remotePub = hs.remoteStatic

	default:
		return nil, errors.New("noise: not a dh token")
	}

	return curve25519.X25519(localPriv[:], remotePub[:])
}

// IsComplete reports whether every pattern message has been exchanged.
func (hs *HandshakeState) IsComplete() bool {
	return hs.complete
}

// GetTransportKeys finalizes the handshake: it snapshots the handshake
// hash, splits the symmetric state, and assigns send/receive ciphers by
// role, per §4.3. mode picks the transport's nonce framing.
func (hs *HandshakeState) GetTransportKeys(mode NonceMode) (send, recv *CipherState, handshakeHash [32]byte, err error) {
	if !hs.complete {
		return nil, nil, [32]byte{}, ErrHandshakeNotComplete
	}
	handshakeHash = hs.sym.HandshakeHash()
	c1, c2 := hs.sym.Split(mode)
	if hs.role == Initiator {
		return c1, c2, handshakeHash, nil
	}
	return c2, c1, handshakeHash, nil
}

// RemoteStaticKey returns the peer's static public key once it has been
// learned (after the message carrying token `s` has been processed).
func (hs *HandshakeState) RemoteStaticKey() ([32]byte, bool) {
	return hs.remoteStatic, hs.haveRemoteStatic
}
