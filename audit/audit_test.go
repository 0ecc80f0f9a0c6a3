package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLogProtocolViolationRecordsEvent(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{OutputPath: filepath.Join(dir, "audit.log")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	if err := l.LogProtocolViolation("abc", "handshake", "short message", nil); err != nil {
		t.Fatalf("log: %v", err)
	}

	events := l.GetRecentEvents(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != EventProtocolViolation {
		t.Fatalf("unexpected event type: %s", events[0].EventType)
	}
	if events[0].PeerPubKey != "abc" {
		t.Fatalf("unexpected peer: %s", events[0].PeerPubKey)
	}
}

func TestSearchEventsFiltersByType(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{OutputPath: filepath.Join(dir, "audit.log")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	l.LogReplayDetected("sess1", 42)
	l.LogTransportFault("wss://relay.example", "connection reset", 1)

	replays := l.SearchEvents(EventReplayDetected, "", time.Time{}, time.Time{})
	if len(replays) != 1 {
		t.Fatalf("expected 1 replay event, got %d", len(replays))
	}
}

func TestStatisticsCountsByTypeAndLevel(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{OutputPath: filepath.Join(dir, "audit.log")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	l.LogRelayRejection("wss://relay.example", "deadbeef", "blocked: spam")
	l.LogRelayRejection("wss://relay.example", "cafebabe", "blocked: spam")

	stats := l.Statistics()
	if stats["total_events"] != 2 {
		t.Fatalf("expected 2 total events, got %v", stats["total_events"])
	}
}

func TestGetRecentEventsCapsAtBufferSize(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{OutputPath: filepath.Join(dir, "audit.log"), BufferSize: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	l.LogStateMisuse("encrypt", "not established")
	l.LogStateMisuse("decrypt", "not established")
	l.LogStateMisuse("encrypt", "not established")

	events := l.GetRecentEvents(10)
	if len(events) != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", len(events))
	}
}
