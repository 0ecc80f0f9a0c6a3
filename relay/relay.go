// Package relay implements the §4.6 relay multiplexer: a pool of
// websocket connections to Nostr relays with exponential-backoff
// reconnect, subscription fan-out, and at-least-once-on-the-wire,
// exactly-once-to-the-consumer event delivery via dedup.
//
// The connection lifecycle and reconnect-timer bookkeeping follow
// postalsys-Muti-Metroo's internal/peer.Reconnector shape (one timer per
// key, cancel-on-reschedule, reset-on-success); the actual backoff
// schedule comes from internal/backoff, which implements the exact
// min(1s*2^(attempts-1), 300s) rule rather than a jittered one. The
// per-connection I/O wrapper is adapted from transport/cdn_friendly.go's
// websocket dialer and framing.
package relay

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"stp/audit"
	"stp/dedup"
	"stp/internal/backoff"
	"stp/internal/logging"
	"stp/internal/ratelimit"
	"stp/nostr"
)

// Status is a relay connection's lifecycle state, per §3's relay info tuple.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownRelay      = errors.New("relay: unknown relay url")
	ErrUnknownSubscriber = errors.New("relay: unknown subscription id")
	ErrMultiplexerClosed = errors.New("relay: multiplexer closed")
)

// EventCallback is invoked exactly once per novel event id delivered to a
// subscription. EoseCallback is invoked when a relay reports end-of-stored-events.
type EventCallback func(relayURL string, event *nostr.Event)
type EoseCallback func(relayURL string)

// OKCallback is an optional hook for relay-side publish rejections.
type OKCallback func(relayURL, eventID string, accepted bool, reason string)

// Subscription is one active §4.6 subscription, fanned out to every
// currently-connected relay.
type Subscription struct {
	ID      string
	Filters []nostr.Filter
	OnEvent EventCallback
	OnEose  EoseCallback
}

// Info is the §3 relay info snapshot: (url, status, last_error?, reconnect_attempts).
type Info struct {
	URL               string
	Status            Status
	LastError         string
	ReconnectAttempts int
}

// Summary renders Info as a single operator-facing line, with the
// reconnect-attempt count comma-grouped for readability at scale.
func (i Info) Summary() string {
	line := fmt.Sprintf("%s [%s] reconnect_attempts=%s", i.URL, i.Status, humanize.Comma(int64(i.ReconnectAttempts)))
	if i.LastError != "" {
		line += fmt.Sprintf(" last_error=%q", i.LastError)
	}
	return line
}

// Dialer abstracts relay connection establishment so tests can substitute
// an in-process fake instead of a real TCP dial.
type Dialer interface {
	Dial(url string) (wireConn, error)
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

func (d gorillaDialer) Dial(url string) (wireConn, error) {
	conn, _, err := d.dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return gorillaConn{conn}, nil
}

// wireConn is the minimal surface the multiplexer needs from a relay
// socket; gorillaConn implements it over *websocket.Conn in production,
// and tests may substitute an in-memory fake.
type wireConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type gorillaConn struct {
	conn *websocket.Conn
}

func (c gorillaConn) ReadMessage() (int, []byte, error)  { return c.conn.ReadMessage() }
func (c gorillaConn) WriteMessage(t int, d []byte) error { return c.conn.WriteMessage(t, d) }
func (c gorillaConn) Close() error                       { return c.conn.Close() }

// Multiplexer is the §4.6 relay multiplexer. The zero value is not usable;
// construct with New.
type Multiplexer struct {
	mu             sync.RWMutex
	relays         map[string]*relayState
	subs           map[string]*Subscription
	seen           *dedup.Set
	log            *logging.Logger
	dialer         Dialer
	ok             OKCallback
	limiter        *ratelimit.ConnectionLimiter
	audit          *audit.Logger
	backoffInitial time.Duration
	backoffMax     time.Duration
	closed         bool
}

type relayState struct {
	mu       sync.Mutex
	url      string
	conn     wireConn
	status   Status
	lastErr  string
	backoff  *backoff.Backoff
	timer    *time.Timer
	readDone chan struct{}
	// generation guards against a stale reconnect timer or read-loop
	// firing after the relay was removed and possibly re-added.
	generation uint64
}

// New constructs a Multiplexer. logger may be nil, in which case a
// discarding logger is installed.
func New(logger *logging.Logger) *Multiplexer {
	if logger == nil {
		logger = logging.New(logging.LevelError, nil)
	}
	return &Multiplexer{
		relays:         make(map[string]*relayState),
		subs:           make(map[string]*Subscription),
		seen:           dedup.New(dedup.DefaultCapacity),
		log:            logger,
		dialer:         gorillaDialer{dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}},
		backoffInitial: backoff.DefaultInitial,
		backoffMax:     backoff.DefaultMax,
	}
}

// SetReconnectBackoff overrides the initial/max reconnect delay applied to
// every relay added after this call, per the operator-configured bounds in
// config.RelayConfig. Values <= 0 fall back to the package defaults.
func (m *Multiplexer) SetReconnectBackoff(initial, maximum time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if initial <= 0 {
		initial = backoff.DefaultInitial
	}
	if maximum <= 0 {
		maximum = backoff.DefaultMax
	}
	m.backoffInitial = initial
	m.backoffMax = maximum
}

// SetMessageRateLimit bounds how many incoming relay messages are
// processed per minute, across all relays, dropping the excess rather
// than letting a noisy or malicious relay flood subscription callbacks.
func (m *Multiplexer) SetMessageRateLimit(perMinute, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiter = ratelimit.NewConnectionLimiter(burst, perMinute, burst)
}

// SetAuditLogger installs the audit sink that transport faults (dial/read
// failures triggering a reconnect) and relay-side rejections are recorded
// to, per the §7 error taxonomy. A nil logger (the default) disables
// audit logging without affecting m.log.
func (m *Multiplexer) SetAuditLogger(a *audit.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = a
}

// SetOKCallback installs a hook for relay-side publish rejections (OK false).
func (m *Multiplexer) SetOKCallback(cb OKCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ok = cb
}

// AddRelay adds url to the managed set and immediately attempts to connect it.
func (m *Multiplexer) AddRelay(url string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, exists := m.relays[url]; exists {
		m.mu.Unlock()
		return
	}
	rs := &relayState{
		url:     url,
		status:  StatusDisconnected,
		backoff: backoff.New(m.backoffInitial, m.backoffMax),
	}
	m.relays[url] = rs
	m.mu.Unlock()

	go m.dial(rs)
}

// RemoveRelay tears down url's connection and cancels any pending reconnect.
func (m *Multiplexer) RemoveRelay(url string) {
	m.mu.Lock()
	rs, ok := m.relays[url]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.relays, url)
	m.mu.Unlock()

	rs.mu.Lock()
	rs.generation++
	if rs.timer != nil {
		rs.timer.Stop()
		rs.timer = nil
	}
	conn := rs.conn
	rs.conn = nil
	rs.status = StatusDisconnected
	rs.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connect opens every currently configured relay in parallel. Relays
// already connecting or connected are left alone.
func (m *Multiplexer) Connect() {
	m.mu.RLock()
	states := make([]*relayState, 0, len(m.relays))
	for _, rs := range m.relays {
		states = append(states, rs)
	}
	m.mu.RUnlock()

	for _, rs := range states {
		rs.mu.Lock()
		already := rs.status == StatusConnecting || rs.status == StatusConnected
		rs.mu.Unlock()
		if already {
			continue
		}
		go m.dial(rs)
	}
}

// Subscribe registers filters under a fresh 8-character sub_id and sends a
// REQ to every connected relay.
func (m *Multiplexer) Subscribe(filters []nostr.Filter, onEvent EventCallback, onEose EoseCallback) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrMultiplexerClosed
	}
	id := randSubID()
	sub := &Subscription{ID: id, Filters: filters, OnEvent: onEvent, OnEose: onEose}
	m.subs[id] = sub
	states := m.connectedRelaysLocked()
	m.mu.Unlock()

	msg := reqMessage(sub)
	for _, rs := range states {
		m.sendLocked(rs, msg)
	}
	return id, nil
}

// Unsubscribe removes subID and sends CLOSE to every connected relay.
func (m *Multiplexer) Unsubscribe(subID string) {
	m.mu.Lock()
	if _, ok := m.subs[subID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subs, subID)
	states := m.connectedRelaysLocked()
	m.mu.Unlock()

	msg := closeMessage(subID)
	for _, rs := range states {
		m.sendLocked(rs, msg)
	}
}

// Publish sends event to every connected relay and returns once dispatched;
// it does not wait for an OK acknowledgement.
func (m *Multiplexer) Publish(event *nostr.Event) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrMultiplexerClosed
	}
	states := m.connectedRelaysLocked()
	m.mu.RUnlock()

	msg, err := publishMessage(event)
	if err != nil {
		return err
	}
	for _, rs := range states {
		m.sendLocked(rs, msg)
	}
	return nil
}

// Infos returns a point-in-time snapshot of every managed relay's status.
func (m *Multiplexer) Infos() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.relays))
	for _, rs := range m.relays {
		rs.mu.Lock()
		out = append(out, Info{
			URL:               rs.url,
			Status:            rs.status,
			LastError:         rs.lastErr,
			ReconnectAttempts: rs.backoff.Attempts(),
		})
		rs.mu.Unlock()
	}
	return out
}

// Close cancels all reconnect timers and closes every relay connection.
// The multiplexer is unusable afterward.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	states := make([]*relayState, 0, len(m.relays))
	for _, rs := range m.relays {
		states = append(states, rs)
	}
	m.relays = make(map[string]*relayState)
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, rs := range states {
		rs.mu.Lock()
		rs.generation++
		if rs.timer != nil {
			rs.timer.Stop()
			rs.timer = nil
		}
		conn := rs.conn
		rs.conn = nil
		rs.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	}
}

// connectedRelaysLocked must be called with m.mu held (read or write).
func (m *Multiplexer) connectedRelaysLocked() []*relayState {
	out := make([]*relayState, 0, len(m.relays))
	for _, rs := range m.relays {
		rs.mu.Lock()
		if rs.status == StatusConnected {
			out = append(out, rs)
		}
		rs.mu.Unlock()
	}
	return out
}

func (m *Multiplexer) sendLocked(rs *relayState, msg []byte) {
	rs.mu.Lock()
	conn := rs.conn
	connected := rs.status == StatusConnected
	rs.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		m.log.Warn("relay write failed", map[string]interface{}{"url": rs.url, "error": err.Error()})
		m.handleDisconnect(rs)
	}
}

func randSubID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failure is unrecoverable for a security-sensitive
		// identifier; fall back to a fixed, clearly-invalid-looking id
		// rather than panicking the caller.
		return "00000000"
	}
	return hex.EncodeToString(buf[:])
}

func reqMessage(sub *Subscription) []byte {
	arr := make([]interface{}, 0, len(sub.Filters)+2)
	arr = append(arr, "REQ", sub.ID)
	for _, f := range sub.Filters {
		arr = append(arr, f)
	}
	data, _ := json.Marshal(arr)
	return data
}

func closeMessage(subID string) []byte {
	data, _ := json.Marshal([]interface{}{"CLOSE", subID})
	return data
}

func publishMessage(event *nostr.Event) ([]byte, error) {
	return json.Marshal([]interface{}{"EVENT", event})
}
