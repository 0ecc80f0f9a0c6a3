// Package peer tracks per-contact state above the cryptographic core: for
// each known Nostr identity, when it was last seen, whether a Noise
// session is currently established with it, and message counters. This
// mirrors the teacher's own peer.Peer (one record per remote endpoint,
// mutex-guarded, updated on every handshake/send/receive) generalized from
// a VPN peer's IP/endpoint bookkeeping to a Nostr contact's session and
// message bookkeeping.
package peer

import (
	"sync"
	"time"
)

// Peer is one known remote identity: a Nostr pubkey, optionally paired
// with an established Noise session's remote static key.
type Peer struct {
	NostrPubKey string

	mu                sync.RWMutex
	noiseRemoteStatic [32]byte
	hasNoiseSession   bool
	lastHandshake     time.Time
	lastSend          time.Time
	lastReceive       time.Time
	messagesSent      uint64
	messagesRecv      uint64
}

// New creates a peer record for a known Nostr identity.
func New(nostrPubKey string) *Peer {
	return &Peer{NostrPubKey: nostrPubKey}
}

// UpdateNoiseSession records that a Noise session has been established
// with this peer under remoteStatic.
func (p *Peer) UpdateNoiseSession(remoteStatic [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noiseRemoteStatic = remoteStatic
	p.hasNoiseSession = true
	p.lastHandshake = time.Now()
}

// ClearNoiseSession records that the Noise session with this peer has
// closed.
func (p *Peer) ClearNoiseSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasNoiseSession = false
	for i := range p.noiseRemoteStatic {
		p.noiseRemoteStatic[i] = 0
	}
}

// TouchSend records an outgoing message (Nostr event or Noise transport
// record) to this peer.
func (p *Peer) TouchSend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSend = time.Now()
	p.messagesSent++
}

// TouchReceive records an incoming message from this peer.
func (p *Peer) TouchReceive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReceive = time.Now()
	p.messagesRecv++
}

// Snapshot returns a consistent, copy-safe view of the peer's state.
func (p *Peer) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		NostrPubKey:       p.NostrPubKey,
		HasNoiseSession:   p.hasNoiseSession,
		NoiseRemoteStatic: p.noiseRemoteStatic,
		LastHandshake:     p.lastHandshake,
		LastSend:          p.lastSend,
		LastReceive:       p.lastReceive,
		MessagesSent:      p.messagesSent,
		MessagesRecv:      p.messagesRecv,
	}
}

// Snapshot is a point-in-time, concurrency-safe view of a Peer, suitable
// for status reporting (e.g. the management server).
type Snapshot struct {
	NostrPubKey       string    `json:"nostrPubKey"`
	HasNoiseSession   bool      `json:"hasNoiseSession"`
	NoiseRemoteStatic [32]byte  `json:"-"`
	LastHandshake     time.Time `json:"lastHandshake"`
	LastSend          time.Time `json:"lastSend"`
	LastReceive       time.Time `json:"lastReceive"`
	MessagesSent      uint64    `json:"messagesSent"`
	MessagesRecv      uint64    `json:"messagesRecv"`
}
