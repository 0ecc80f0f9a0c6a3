package session

import (
	"path/filepath"
	"testing"
	"time"

	"stp/audit"
	"stp/noise"
)

func newPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	aStatic, err := noise.GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen a: %v", err)
	}
	bStatic, err := noise.GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen b: %v", err)
	}

	a, err := New(Config{
		Pattern:     noise.PatternXX,
		Role:        noise.Initiator,
		LocalStatic: &aStatic,
		NonceMode:   noise.NonceExtracted,
	})
	if err != nil {
		t.Fatalf("new a: %v", err)
	}
	b, err := New(Config{
		Pattern:     noise.PatternXX,
		Role:        noise.Responder,
		LocalStatic: &bStatic,
		NonceMode:   noise.NonceExtracted,
	})
	if err != nil {
		t.Fatalf("new b: %v", err)
	}
	return a, b
}

func runToEstablished(t *testing.T, a, b *Session) {
	t.Helper()
	msg1, err := a.WriteHandshakeMessage(nil)
	if err != nil {
		t.Fatalf("a msg1: %v", err)
	}
	if _, err := b.ReadHandshakeMessage(msg1); err != nil {
		t.Fatalf("b read msg1: %v", err)
	}
	msg2, err := b.WriteHandshakeMessage(nil)
	if err != nil {
		t.Fatalf("b msg2: %v", err)
	}
	if _, err := a.ReadHandshakeMessage(msg2); err != nil {
		t.Fatalf("a read msg2: %v", err)
	}
	msg3, err := a.WriteHandshakeMessage(nil)
	if err != nil {
		t.Fatalf("a msg3: %v", err)
	}
	if _, err := b.ReadHandshakeMessage(msg3); err != nil {
		t.Fatalf("b read msg3: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	a, b := newPair(t)

	if a.State() != StateHandshaking || b.State() != StateHandshaking {
		t.Fatal("expected both handshaking")
	}

	runToEstablished(t, a, b)

	if a.State() != StateEstablished || b.State() != StateEstablished {
		t.Fatal("expected both established")
	}

	aHash, err := a.HandshakeHash()
	if err != nil {
		t.Fatalf("a hash: %v", err)
	}
	bHash, err := b.HandshakeHash()
	if err != nil {
		t.Fatalf("b hash: %v", err)
	}
	if aHash != bHash {
		t.Fatal("handshake hash mismatch")
	}

	ct, err := a.Encrypt([]byte("ping"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := b.Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(pt) != "ping" {
		t.Fatalf("got %q", pt)
	}
}

func TestSessionEncryptBeforeEstablishedFails(t *testing.T) {
	a, _ := newPair(t)
	if _, err := a.Encrypt([]byte("x")); err != ErrNotEstablished {
		t.Fatalf("expected ErrNotEstablished, got %v", err)
	}
}

func TestSessionHandshakeMessageAfterEstablishedFails(t *testing.T) {
	a, b := newPair(t)
	runToEstablished(t, a, b)
	if _, err := a.WriteHandshakeMessage(nil); err != noise.ErrHandshakeComplete {
		t.Fatalf("expected ErrHandshakeComplete, got %v", err)
	}
}

func TestSessionCloseZeroizesAndRejectsFurtherUse(t *testing.T) {
	a, b := newPair(t)
	runToEstablished(t, a, b)

	a.Close()
	if a.State() != StateClosed {
		t.Fatal("expected closed")
	}
	if a.send.HasKey() || a.recv.HasKey() {
		t.Fatal("expected transport keys zeroized")
	}
	if h, err := a.HandshakeHash(); err != nil || h != ([32]byte{}) {
		t.Fatalf("expected zeroized handshake hash, got %x (%v)", h, err)
	}
	if _, err := a.Encrypt([]byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	a.Close()
	if a.State() != StateClosed {
		t.Fatal("close should be idempotent")
	}

	_ = b
}

func TestSessionReplayIsAudited(t *testing.T) {
	aStatic, err := noise.GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen a: %v", err)
	}
	bStatic, err := noise.GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen b: %v", err)
	}

	dir := t.TempDir()
	auditLog, err := audit.New(audit.Config{OutputPath: filepath.Join(dir, "audit.jsonl")})
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer auditLog.Close()

	a, err := New(Config{
		Pattern:     noise.PatternXX,
		Role:        noise.Initiator,
		LocalStatic: &aStatic,
		NonceMode:   noise.NonceExtracted,
	})
	if err != nil {
		t.Fatalf("new a: %v", err)
	}
	b, err := New(Config{
		Pattern:     noise.PatternXX,
		Role:        noise.Responder,
		LocalStatic: &bStatic,
		NonceMode:   noise.NonceExtracted,
		SessionID:   "test-session",
		Audit:       auditLog,
	})
	if err != nil {
		t.Fatalf("new b: %v", err)
	}
	runToEstablished(t, a, b)

	ct, err := a.Encrypt([]byte("ping"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := b.Decrypt(ct); err != nil {
		t.Fatalf("first decrypt: %v", err)
	}
	if _, err := b.Decrypt(ct); err != noise.ErrReplayDetected {
		t.Fatalf("expected ErrReplayDetected on replay, got %v", err)
	}

	events := auditLog.SearchEvents(audit.EventReplayDetected, "", time.Time{}, time.Time{})
	if len(events) != 1 {
		t.Fatalf("expected exactly one replay-detected audit event, got %d", len(events))
	}
	if events[0].SessionID != "test-session" {
		t.Fatalf("expected session id test-session, got %q", events[0].SessionID)
	}
}

func TestSessionRemoteStaticKeyKnownAfterXX(t *testing.T) {
	a, b := newPair(t)
	runToEstablished(t, a, b)

	if _, ok := a.RemoteStaticKey(); !ok {
		t.Fatal("expected initiator to know responder's static key")
	}
	if _, ok := b.RemoteStaticKey(); !ok {
		t.Fatal("expected responder to know initiator's static key")
	}
}
