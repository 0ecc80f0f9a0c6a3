package peer

import "sync"

// Directory is the process-wide registry of known peers, keyed by Nostr
// pubkey. The teacher instantiates its equivalent registry once at the
// top-level entry point rather than as a package-level singleton; callers
// here do the same via NewDirectory.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewDirectory constructs an empty peer directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]*Peer)}
}

// GetOrCreate returns the existing peer for pubkey, creating one if absent.
func (d *Directory) GetOrCreate(pubkey string) *Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[pubkey]; ok {
		return p
	}
	p := New(pubkey)
	d.peers[pubkey] = p
	return p
}

// Get returns the peer for pubkey, if known.
func (d *Directory) Get(pubkey string) (*Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[pubkey]
	return p, ok
}

// Remove drops pubkey from the directory.
func (d *Directory) Remove(pubkey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, pubkey)
}

// List returns a snapshot of every known peer.
func (d *Directory) List() []Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Snapshot, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p.Snapshot())
	}
	return out
}
