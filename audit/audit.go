// Package audit logs the §7 error taxonomy — protocol violations, state
// misuse, resource exhaustion, replay detections, transport faults, and
// relay-side rejections — to a rotating JSON-lines file. The logger
// mechanics (buffered ring, size-based rotation, search/statistics) are
// the teacher's AuditLogger unchanged; only the event vocabulary is
// generalized from an authentication/VPN-connection domain to this one.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType classifies an audit event per the §7 error taxonomy.
type EventType string

const (
	EventProtocolViolation  EventType = "protocol_violation"
	EventStateMisuse        EventType = "state_misuse"
	EventResourceExhaustion EventType = "resource_exhaustion"
	EventReplayDetected     EventType = "replay_detected"
	EventTransportFault     EventType = "transport_fault"
	EventRelayRejection     EventType = "relay_rejection"
	EventSystem             EventType = "system"
)

// EventLevel is the severity of an audit event.
type EventLevel string

const (
	LevelInfo     EventLevel = "info"
	LevelWarning  EventLevel = "warning"
	LevelError    EventLevel = "error"
	LevelCritical EventLevel = "critical"
)

// Event is a single audit record.
type Event struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   EventType              `json:"event_type"`
	Level       EventLevel             `json:"level"`
	PeerPubKey  string                 `json:"peer_pubkey,omitempty"`
	RelayURL    string                 `json:"relay_url,omitempty"`
	Action      string                 `json:"action"`
	Resource    string                 `json:"resource,omitempty"`
	Result      string                 `json:"result"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
}

// Logger writes Events to a JSON-lines sink, with a bounded in-memory
// ring of recent events for GetRecentEvents/SearchEvents, and optional
// size-triggered rotation when backed by a file.
type Logger struct {
	output      io.Writer
	buffer      []*Event
	bufferSize  int
	mu          sync.Mutex
	encoder     *json.Encoder
	file        *os.File
	rotateSize  int64
	currentSize int64
}

// Config configures a Logger.
type Config struct {
	OutputPath string
	BufferSize int
	RotateSize int64 // bytes before rotation; 0 disables rotation
}

// New opens a Logger. OutputPath of "" or "stdout" writes to stdout
// without rotation.
func New(config Config) (*Logger, error) {
	var output io.Writer
	var file *os.File

	if config.OutputPath == "" || config.OutputPath == "stdout" {
		output = os.Stdout
	} else {
		var err error
		file, err = os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		output = file
	}

	if config.BufferSize == 0 {
		config.BufferSize = 100
	}

	return &Logger{
		output:     output,
		buffer:     make([]*Event, 0, config.BufferSize),
		bufferSize: config.BufferSize,
		encoder:    json.NewEncoder(output),
		file:       file,
		rotateSize: config.RotateSize,
	}, nil
}

// Log writes event, stamping its timestamp, and rotates the backing file
// if rotation is enabled and the size threshold has been crossed.
func (l *Logger) Log(event *Event) error {
	event.Timestamp = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	l.buffer = append(l.buffer, event)
	if len(l.buffer) > l.bufferSize {
		l.buffer = l.buffer[1:]
	}

	if l.file != nil {
		data, _ := json.Marshal(event)
		l.currentSize += int64(len(data)) + 1
		if l.rotateSize > 0 && l.currentSize >= l.rotateSize {
			return l.rotateLocked()
		}
	}
	return nil
}

// LogProtocolViolation logs an unusable message from a peer: malformed
// handshake, bad ciphertext, invalid public key, failed authentication.
func (l *Logger) LogProtocolViolation(peerPubKey, action, message string, details map[string]interface{}) error {
	return l.Log(&Event{
		EventType:  EventProtocolViolation,
		Level:      LevelError,
		PeerPubKey: peerPubKey,
		Action:     action,
		Result:     "rejected",
		Message:    message,
		Details:    details,
	})
}

// LogStateMisuse logs a caller calling a component out of sequence
// (encrypting before established, re-entering a finished handshake).
func (l *Logger) LogStateMisuse(action, message string) error {
	return l.Log(&Event{
		EventType: EventStateMisuse,
		Level:     LevelWarning,
		Action:    action,
		Result:    "rejected",
		Message:   message,
	})
}

// LogResourceExhaustion logs a nonce-space exhaustion requiring a fresh
// session.
func (l *Logger) LogResourceExhaustion(sessionID, message string) error {
	return l.Log(&Event{
		EventType: EventResourceExhaustion,
		Level:     LevelCritical,
		SessionID: sessionID,
		Action:    "encrypt",
		Result:    "rekey_required",
		Message:   message,
	})
}

// LogReplayDetected logs a transport-layer replay drop. Per §7 this never
// tears the session down, so the level is informational.
func (l *Logger) LogReplayDetected(sessionID string, nonce uint64) error {
	return l.Log(&Event{
		EventType: EventReplayDetected,
		Level:     LevelInfo,
		SessionID: sessionID,
		Action:    "decrypt",
		Result:    "dropped",
		Message:   "replayed or out-of-window nonce",
		Details:   map[string]interface{}{"nonce": nonce},
	})
}

// LogTransportFault logs a relay websocket close/error that will be
// retried with backoff.
func (l *Logger) LogTransportFault(relayURL, message string, attempt int) error {
	return l.Log(&Event{
		EventType: EventTransportFault,
		Level:     LevelWarning,
		RelayURL:  relayURL,
		Action:    "reconnect",
		Result:    "scheduled",
		Message:   message,
		Details:   map[string]interface{}{"attempt": attempt},
	})
}

// LogRelayRejection logs a relay's OK false response to a publish.
func (l *Logger) LogRelayRejection(relayURL, eventID, reason string) error {
	return l.Log(&Event{
		EventType: EventRelayRejection,
		Level:     LevelWarning,
		RelayURL:  relayURL,
		Resource:  eventID,
		Action:    "publish",
		Result:    "rejected",
		Message:   reason,
	})
}

// GetRecentEvents returns up to count of the most recently logged events.
func (l *Logger) GetRecentEvents(count int) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count > len(l.buffer) {
		count = len(l.buffer)
	}
	events := make([]*Event, count)
	copy(events, l.buffer[len(l.buffer)-count:])
	return events
}

// SearchEvents filters buffered events by type, peer, and time range.
// Any zero-valued argument is treated as unconstrained.
func (l *Logger) SearchEvents(eventType EventType, peerPubKey string, start, end time.Time) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	results := make([]*Event, 0)
	for _, event := range l.buffer {
		if eventType != "" && event.EventType != eventType {
			continue
		}
		if peerPubKey != "" && event.PeerPubKey != peerPubKey {
			continue
		}
		if !start.IsZero() && event.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && event.Timestamp.After(end) {
			continue
		}
		results = append(results, event)
	}
	return results
}

// Statistics returns event counts by type and level.
func (l *Logger) Statistics() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	typeCounts := make(map[EventType]int)
	levelCounts := make(map[EventLevel]int)
	for _, event := range l.buffer {
		typeCounts[event.EventType]++
		levelCounts[event.Level]++
	}

	return map[string]interface{}{
		"total_events": len(l.buffer),
		"buffer_size":  l.bufferSize,
		"current_size": l.currentSize,
		"event_types":  typeCounts,
		"event_levels": levelCounts,
	}
}

// rotateLocked renames the current log file aside and opens a fresh one.
// Callers must hold l.mu.
func (l *Logger) rotateLocked() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return err
	}

	oldPath := l.file.Name()
	newPath := fmt.Sprintf("%s.%s", oldPath, time.Now().Format("20060102-150405"))
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}

	file, err := os.OpenFile(oldPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	l.file = file
	l.output = file
	l.encoder = json.NewEncoder(file)
	l.currentSize = 0
	return nil
}

// Flush syncs the backing file, if any.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Sync()
	}
	return nil
}

// Close closes the backing file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
