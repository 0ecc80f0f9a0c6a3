package relay

import (
	"encoding/json"
	"time"

	"stp/nostr"
)

// dial opens rs's connection, retrying with backoff on failure. It returns
// immediately if the multiplexer or this relay has since been removed.
func (m *Multiplexer) dial(rs *relayState) {
	rs.mu.Lock()
	gen := rs.generation
	rs.status = StatusConnecting
	rs.mu.Unlock()

	conn, err := m.dialer.Dial(rs.url)

	rs.mu.Lock()
	if rs.generation != gen {
		// Removed (or removed and re-added) while dialing; this attempt
		// is stale, abandon it.
		rs.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		rs.status = StatusError
		rs.lastErr = err.Error()
		attempts := rs.backoff.Attempts()
		rs.mu.Unlock()
		m.log.Warn("relay dial failed", map[string]interface{}{"url": rs.url, "error": err.Error()})
		m.logTransportFault(rs.url, err.Error(), attempts)
		m.scheduleReconnect(rs, gen)
		return
	}
	rs.conn = conn
	rs.status = StatusConnected
	rs.lastErr = ""
	rs.backoff.Reset()
	readDone := make(chan struct{})
	rs.readDone = readDone
	rs.mu.Unlock()

	m.log.Info("relay connected", map[string]interface{}{"url": rs.url})
	m.resendSubscriptions(rs)

	go m.readLoop(rs, conn, gen, readDone)
}

// resendSubscriptions sends REQ for every active subscription to a
// newly-(re)connected relay, per connect()'s "(re)send" requirement.
func (m *Multiplexer) resendSubscriptions(rs *relayState) {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		m.sendLocked(rs, reqMessage(sub))
	}
}

func (m *Multiplexer) readLoop(rs *relayState, conn wireConn, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			rs.mu.Lock()
			stale := rs.generation != gen
			rs.mu.Unlock()
			if stale {
				return
			}
			m.log.Warn("relay read failed", map[string]interface{}{"url": rs.url, "error": err.Error()})
			rs.mu.Lock()
			attempts := rs.backoff.Attempts()
			rs.mu.Unlock()
			m.logTransportFault(rs.url, err.Error(), attempts)
			m.handleDisconnect(rs)
			return
		}
		m.handleMessage(rs, data)
	}
}

// handleDisconnect marks rs disconnected, closes its socket, and schedules
// a reconnect attempt. It is a no-op if rs has already been superseded.
func (m *Multiplexer) handleDisconnect(rs *relayState) {
	rs.mu.Lock()
	if rs.status != StatusConnected && rs.status != StatusConnecting {
		rs.mu.Unlock()
		return
	}
	gen := rs.generation
	conn := rs.conn
	rs.conn = nil
	rs.status = StatusDisconnected
	rs.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.scheduleReconnect(rs, gen)
}

// scheduleReconnect arms a one-shot timer for rs's next reconnect attempt,
// cancelling any timer already pending. Mirrors the per-key timer shape of
// a reconnect scheduler that owns one *time.Timer per address, replacing
// it on every reschedule.
func (m *Multiplexer) scheduleReconnect(rs *relayState, gen uint64) {
	delay := rs.backoff.Next()

	rs.mu.Lock()
	if rs.generation != gen {
		rs.mu.Unlock()
		return
	}
	if rs.timer != nil {
		rs.timer.Stop()
	}
	rs.timer = time.AfterFunc(delay, func() {
		rs.mu.Lock()
		expired := rs.generation == gen
		rs.mu.Unlock()
		if !expired {
			return
		}
		m.dial(rs)
	})
	rs.mu.Unlock()
}

// handleMessage decodes one relay->client frame and dispatches it per the
// §4.6 incoming message taxonomy: EVENT, EOSE, OK, NOTICE.
func (m *Multiplexer) handleMessage(rs *relayState, raw []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
		m.log.Warn("relay sent malformed frame", map[string]interface{}{"url": rs.url})
		return
	}
	var kind string
	if err := json.Unmarshal(frame[0], &kind); err != nil {
		return
	}

	m.mu.RLock()
	limiter := m.limiter
	m.mu.RUnlock()
	if limiter != nil {
		if !limiter.Allow() {
			m.log.Warn("dropping relay message: rate limit exceeded", map[string]interface{}{"url": rs.url, "kind": kind})
			return
		}
		limiter.Release()
	}

	switch kind {
	case "EVENT":
		m.handleEvent(rs, frame)
	case "EOSE":
		m.handleEOSE(rs, frame)
	case "OK":
		m.handleOK(rs, frame)
	case "NOTICE":
		m.handleNotice(rs, frame)
	default:
		m.log.Debug("relay sent unknown frame kind", map[string]interface{}{"url": rs.url, "kind": kind})
	}
}

func (m *Multiplexer) handleEvent(rs *relayState, frame []json.RawMessage) {
	if len(frame) < 3 {
		return
	}
	var subID string
	if err := json.Unmarshal(frame[1], &subID); err != nil {
		return
	}
	var event nostr.Event
	if err := json.Unmarshal(frame[2], &event); err != nil {
		m.log.Warn("relay sent malformed event", map[string]interface{}{"url": rs.url})
		return
	}

	if !m.seen.Insert(event.ID) {
		return
	}

	m.mu.RLock()
	sub, ok := m.subs[subID]
	m.mu.RUnlock()
	if !ok || sub.OnEvent == nil {
		return
	}
	sub.OnEvent(rs.url, &event)
}

func (m *Multiplexer) handleEOSE(rs *relayState, frame []json.RawMessage) {
	if len(frame) < 2 {
		return
	}
	var subID string
	if err := json.Unmarshal(frame[1], &subID); err != nil {
		return
	}
	m.mu.RLock()
	sub, ok := m.subs[subID]
	m.mu.RUnlock()
	if !ok || sub.OnEose == nil {
		return
	}
	sub.OnEose(rs.url)
}

func (m *Multiplexer) handleOK(rs *relayState, frame []json.RawMessage) {
	if len(frame) < 3 {
		return
	}
	var eventID string
	var accepted bool
	var reason string
	json.Unmarshal(frame[1], &eventID)
	json.Unmarshal(frame[2], &accepted)
	if len(frame) > 3 {
		json.Unmarshal(frame[3], &reason)
	}
	if !accepted {
		m.log.Info("relay rejected event", map[string]interface{}{"url": rs.url, "event_id": eventID, "reason": reason})
		m.logRelayRejection(rs.url, eventID, reason)
	}

	m.mu.RLock()
	cb := m.ok
	m.mu.RUnlock()
	if cb != nil {
		cb(rs.url, eventID, accepted, reason)
	}
}

// logTransportFault records a dial or read failure that is about to trigger
// a backoff-scheduled reconnect. No-op if no audit sink is configured.
func (m *Multiplexer) logTransportFault(url, message string, attempt int) {
	m.mu.RLock()
	a := m.audit
	m.mu.RUnlock()
	if a == nil {
		return
	}
	a.LogTransportFault(url, message, attempt)
}

// logRelayRejection records a relay's OK=false response to a published
// event. No-op if no audit sink is configured.
func (m *Multiplexer) logRelayRejection(url, eventID, reason string) {
	m.mu.RLock()
	a := m.audit
	m.mu.RUnlock()
	if a == nil {
		return
	}
	a.LogRelayRejection(url, eventID, reason)
}

func (m *Multiplexer) handleNotice(rs *relayState, frame []json.RawMessage) {
	if len(frame) < 2 {
		return
	}
	var text string
	json.Unmarshal(frame[1], &text)
	m.log.Info("relay notice", map[string]interface{}{"url": rs.url, "text": text})
}
