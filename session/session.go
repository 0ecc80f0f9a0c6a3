// Package session wraps a Noise handshake and the resulting transport
// ciphers behind a single state machine, mirroring the lifecycle
// peer.Peer tracks for a VeilDeploy connection: handshaking, established,
// closed.
package session

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"

	"stp/audit"
	"stp/noise"
)

type State int

const (
	StateHandshaking State = iota
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNotEstablished = errors.New("session: not established")
	ErrClosed         = errors.New("session: closed")
)

// Session is the §4.4 facade: it forwards handshake messages to the
// underlying noise.HandshakeState and, once that completes, switches to
// encrypting/decrypting application records with the two derived transport
// ciphers.
type Session struct {
	mu    sync.Mutex
	state State

	hs   *noise.HandshakeState
	send *noise.CipherState
	recv *noise.CipherState

	handshakeHash [32]byte
	remoteStatic  [32]byte
	haveRemote    bool

	nonceMode noise.NonceMode
	sessionID string
	audit     *audit.Logger
}

// Config configures a new Session. NonceMode selects the wire framing used
// by the two transport ciphers once the handshake completes. SessionID and
// Audit are both optional: when Audit is set, protocol violations (handshake
// and decrypt failures) are recorded to it under the peer's remote static
// key, and replayed records under SessionID, per the §7 error taxonomy.
type Config struct {
	Pattern      noise.Pattern
	Role         noise.Role
	Prologue     []byte
	LocalStatic  *noise.KeyPair
	RemoteStatic *[32]byte
	NonceMode    noise.NonceMode
	SessionID    string
	Audit        *audit.Logger
}

// New starts a handshake in the handshaking state.
func New(cfg Config) (*Session, error) {
	hs, err := noise.NewHandshakeState(noise.HandshakeConfig{
		Pattern:      cfg.Pattern,
		Role:         cfg.Role,
		Prologue:     cfg.Prologue,
		LocalStatic:  cfg.LocalStatic,
		RemoteStatic: cfg.RemoteStatic,
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		state:     StateHandshaking,
		hs:        hs,
		nonceMode: cfg.NonceMode,
		sessionID: cfg.SessionID,
		audit:     cfg.Audit,
	}, nil
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WriteHandshakeMessage produces the next handshake message. If this call
// completes the pattern, the session transitions to established and
// installs the transport ciphers.
func (s *Session) WriteHandshakeMessage(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHandshaking {
		return nil, noise.ErrHandshakeComplete
	}
	out, err := s.hs.WriteMessage(payload)
	if err != nil {
		s.logProtocolViolation("write_handshake_message", err)
		return nil, err
	}
	s.finalizeIfComplete()
	return out, nil
}

// ReadHandshakeMessage consumes the next handshake message. If this call
// completes the pattern, the session transitions to established and
// installs the transport ciphers.
func (s *Session) ReadHandshakeMessage(message []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHandshaking {
		return nil, noise.ErrHandshakeComplete
	}
	payload, err := s.hs.ReadMessage(message)
	if err != nil {
		s.logProtocolViolation("read_handshake_message", err)
		return nil, err
	}
	s.finalizeIfComplete()
	return payload, nil
}

// finalizeIfComplete must be called with s.mu held.
func (s *Session) finalizeIfComplete() {
	if !s.hs.IsComplete() {
		return
	}
	send, recv, hash, err := s.hs.GetTransportKeys(s.nonceMode)
	if err != nil {
		return
	}
	s.send = send
	s.recv = recv
	s.handshakeHash = hash
	if remote, ok := s.hs.RemoteStaticKey(); ok {
		s.remoteStatic = remote
		s.haveRemote = true
	}
	s.hs = nil
	s.state = StateEstablished
}

// HandshakeHash returns the transcript hash captured at completion. Both
// peers must observe the same value.
func (s *Session) HandshakeHash() ([32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateHandshaking {
		return [32]byte{}, ErrNotEstablished
	}
	return s.handshakeHash, nil
}

// RemoteStaticKey returns the peer's long-term static key, known once the
// pattern has carried it (and always known once established for XX/IK).
func (s *Session) RemoteStaticKey() ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStatic, s.haveRemote
}

// Encrypt seals an application record. Valid only in the established state.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, ErrClosed
	}
	if s.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	return s.send.Encrypt(plaintext, nil)
}

// Decrypt opens an application record. Valid only in the established
// state; a replayed record returns noise.ErrReplayDetected without tearing
// down the session.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, ErrClosed
	}
	if s.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	pt, err := s.recv.Decrypt(ciphertext, nil)
	if err == noise.ErrReplayDetected {
		s.logReplay(ciphertext)
	} else if err != nil {
		s.logProtocolViolation("decrypt", err)
	}
	return pt, err
}

// logProtocolViolation records a handshake or decrypt failure to the
// configured audit sink, identifying the peer by its remote static key
// when known. No-op if no audit sink is configured.
func (s *Session) logProtocolViolation(action string, err error) {
	if s.audit == nil {
		return
	}
	s.audit.LogProtocolViolation(s.remoteStaticHexLocked(), action, err.Error(), nil)
}

// logReplay records a rejected replayed/out-of-window record. The nonce is
// recovered from the wire-extracted prefix when the session uses
// NonceExtracted framing; in NonceCounterSync mode there is no wire nonce
// to recover and 0 is logged.
func (s *Session) logReplay(ciphertext []byte) {
	if s.audit == nil {
		return
	}
	var nonce uint64
	if s.nonceMode == noise.NonceExtracted && len(ciphertext) >= 4 {
		nonce = uint64(binary.BigEndian.Uint32(ciphertext[:4]))
	}
	s.audit.LogReplayDetected(s.sessionID, nonce)
}

// remoteStaticHexLocked must be called with s.mu held.
func (s *Session) remoteStaticHexLocked() string {
	if !s.haveRemote {
		return ""
	}
	return hex.EncodeToString(s.remoteStatic[:])
}

// Close zeroizes all key material and transitions to closed. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if s.send != nil {
		s.send.Clear()
	}
	if s.recv != nil {
		s.recv.Clear()
	}
	for i := range s.handshakeHash {
		s.handshakeHash[i] = 0
	}
	s.state = StateClosed
}
