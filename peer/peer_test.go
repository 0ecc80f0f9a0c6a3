package peer

import "testing"

func TestTouchSendAndReceiveCountMessages(t *testing.T) {
	p := New("abc123")
	p.TouchSend()
	p.TouchSend()
	p.TouchReceive()

	snap := p.Snapshot()
	if snap.MessagesSent != 2 {
		t.Fatalf("expected 2 sent, got %d", snap.MessagesSent)
	}
	if snap.MessagesRecv != 1 {
		t.Fatalf("expected 1 received, got %d", snap.MessagesRecv)
	}
}

func TestNoiseSessionLifecycle(t *testing.T) {
	p := New("abc123")
	var remote [32]byte
	remote[0] = 0xAB

	p.UpdateNoiseSession(remote)
	snap := p.Snapshot()
	if !snap.HasNoiseSession {
		t.Fatal("expected session established")
	}
	if snap.NoiseRemoteStatic != remote {
		t.Fatal("expected remote static key recorded")
	}

	p.ClearNoiseSession()
	snap = p.Snapshot()
	if snap.HasNoiseSession {
		t.Fatal("expected session cleared")
	}
	if snap.NoiseRemoteStatic != ([32]byte{}) {
		t.Fatal("expected remote static key zeroized")
	}
}

func TestDirectoryGetOrCreateIsIdempotent(t *testing.T) {
	d := NewDirectory()
	p1 := d.GetOrCreate("abc")
	p2 := d.GetOrCreate("abc")
	if p1 != p2 {
		t.Fatal("expected same peer instance for the same pubkey")
	}
	if len(d.List()) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(d.List()))
	}
}

func TestDirectoryRemove(t *testing.T) {
	d := NewDirectory()
	d.GetOrCreate("abc")
	d.Remove("abc")
	if _, ok := d.Get("abc"); ok {
		t.Fatal("expected peer removed")
	}
}
