package audiocapture

import (
	"errors"
	"testing"
)

func startedRemote(t *testing.T) *Remote {
	t.Helper()
	r, err := NewRemote()
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { r.Stop() })
	return r
}

func TestRemoteFailReleasesPeerConnection(t *testing.T) {
	r := startedRemote(t)

	var got error
	r.OnError(func(err error) { got = err })

	r.fail(errors.New("rtp read interrupted"))

	if r.IsCapturing() {
		t.Error("capturing after failure")
	}
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	if pc != nil {
		t.Error("peer connection retained after failure")
	}
	if !errors.Is(got, ErrStream) {
		t.Errorf("notified error = %v, want ErrStream wrap", got)
	}

	// Only the first failure notifies.
	got = nil
	r.fail(errors.New("second failure"))
	if got != nil {
		t.Errorf("second failure notified: %v", got)
	}
}

func TestRemoteStopAfterFailure(t *testing.T) {
	r := startedRemote(t)

	r.fail(errors.New("ice connection failed"))

	// Stop after a failure must not find a dangling connection.
	if err := r.Stop(); err != nil {
		t.Errorf("Stop after failure = %v, want nil", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
}

func TestRemoteStopClosesPeerConnection(t *testing.T) {
	r := startedRemote(t)

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	if pc != nil {
		t.Error("peer connection retained after Stop")
	}

	// A stopped source does not restart.
	if err := r.Start(); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("Start after Stop = %v, want ErrNotCapturing", err)
	}
}

func TestRemoteAcceptBeforeStart(t *testing.T) {
	r, err := NewRemote()
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	if _, err := r.Accept("v=0"); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("Accept before Start = %v, want ErrNotCapturing", err)
	}
}
