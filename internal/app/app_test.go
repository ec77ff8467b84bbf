package app

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/soundsense/soundsense/audiocapture"
	"github.com/soundsense/soundsense/config"
	"github.com/soundsense/soundsense/internal/types"
	"github.com/soundsense/soundsense/state"
	"github.com/soundsense/soundsense/store"
)

// stubCapture is a silent Capturer with an injectable start failure.
type stubCapture struct {
	mu        sync.Mutex
	startErr  error
	capturing bool
	errFns    []func(error)
}

func (c *stubCapture) Start() error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = true
	return nil
}

func (c *stubCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = false
	return nil
}

func (c *stubCapture) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

func (c *stubCapture) Frame(n int) []float32 { return nil }

func (c *stubCapture) SampleRate() int { return 16000 }

func (c *stubCapture) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errFns = append(c.errFns, fn)
}

func (c *stubCapture) failStream(err error) {
	c.mu.Lock()
	fns := c.errFns
	c.capturing = false
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

type recordingReactor struct {
	mu          sync.Mutex
	intensities []float64
}

func (r *recordingReactor) ReactToSound(intensity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intensities = append(r.intensities, intensity)
}

func (r *recordingReactor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intensities)
}

func testSettings(t *testing.T) *config.Store {
	t.Helper()
	st, err := config.LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return st
}

func newTestService(t *testing.T, capture audiocapture.Capturer) *Service {
	t.Helper()
	s, err := New(Options{Settings: testSettings(t), Capture: capture})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestNewRequiresSettingsAndCapture(t *testing.T) {
	if _, err := New(Options{Capture: &stubCapture{}}); err == nil {
		t.Error("New accepted nil settings store")
	}
	if _, err := New(Options{Settings: testSettings(t)}); err == nil {
		t.Error("New accepted nil capturer")
	}
}

func TestStartTransitionsToReady(t *testing.T) {
	s := newTestService(t, &stubCapture{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Machine().Current(); got != state.Ready {
		t.Errorf("state = %s, want ready", got)
	}
}

func TestStartCaptureFailureLeavesError(t *testing.T) {
	s := newTestService(t, &stubCapture{startErr: audiocapture.ErrPermissionDenied})

	if err := s.Start(); err == nil {
		t.Fatal("Start succeeded with denied permission")
	}
	if got := s.Machine().Current(); got != state.Error {
		t.Errorf("state = %s, want error", got)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	s := newTestService(t, &stubCapture{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Run() {
		t.Fatal("Run rejected from ready")
	}
	if !s.Pause() {
		t.Fatal("Pause rejected from running")
	}
	if !s.Resume() {
		t.Fatal("Resume rejected from paused")
	}
	// Calibration is entered from Ready, not mid-run.
	if s.Calibrate() {
		t.Error("Calibrate accepted from running")
	}
	if got := s.Machine().Current(); got != state.Running {
		t.Errorf("state = %s, want running", got)
	}
}

func TestStreamErrorMovesToError(t *testing.T) {
	capture := &stubCapture{}
	s := newTestService(t, capture)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Run()

	capture.failStream(audiocapture.ErrStream)

	if got := s.Machine().Current(); got != state.Error {
		t.Errorf("state after stream failure = %s, want error", got)
	}
	if s.Processor().Running() {
		t.Error("processor still running after stream failure")
	}
}

func TestReactorFanOut(t *testing.T) {
	s := newTestService(t, &stubCapture{})

	first := &recordingReactor{}
	second := &recordingReactor{}
	s.AddReactor(first)
	s.AddReactor(second)

	s.Bus().Publish(types.EventSoundDetected, types.SoundDetected{Intensity: 0.7})

	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("reactor calls = %d/%d, want 1/1", first.count(), second.count())
	}
	if first.intensities[0] != 0.7 {
		t.Errorf("intensity = %v, want 0.7", first.intensities[0])
	}
}

func TestSettingsUpdateReachesProcessor(t *testing.T) {
	settings := testSettings(t)
	s, err := New(Options{Settings: settings, Capture: &stubCapture{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Shutdown)

	if err := settings.Update(func(c *config.Settings) { c.Threshold = 0.2 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := s.Processor().Threshold(); got != 0.2 {
		t.Errorf("processor threshold = %v, want 0.2", got)
	}
}

func TestSensitivitySettingDrivesThreshold(t *testing.T) {
	settings := testSettings(t)
	s, err := New(Options{Settings: settings, Capture: &stubCapture{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Shutdown)

	// Maximum sensitivity maps to the top of the threshold range.
	if err := settings.Update(func(c *config.Settings) { c.Sensitivity = 1 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := s.Processor().Threshold(); got != 0.3 {
		t.Errorf("threshold at full sensitivity = %v, want 0.3", got)
	}

	// Clearing the knob falls back to the explicit threshold.
	if err := settings.Update(func(c *config.Settings) { c.Sensitivity = 0; c.Threshold = 0.08 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := s.Processor().Threshold(); got != 0.08 {
		t.Errorf("threshold with sensitivity cleared = %v, want 0.08", got)
	}
}

func TestBaselinePersistence(t *testing.T) {
	dir := t.TempDir()

	st, err := store.New(dir)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := st.SaveBaseline(0.07); err != nil {
		t.Fatalf("SaveBaseline: %v", err)
	}

	s, err := New(Options{Settings: testSettings(t), Store: st, Capture: &stubCapture{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := s.Processor().Baseline(); got != 0.07 {
		t.Errorf("restored baseline = %v, want 0.07", got)
	}

	// A completed calibration is written back to the store.
	s.Bus().Publish(types.EventCalibrationCompleted, types.CalibrationCompleted{
		BaselineVolume: 0.11,
		SampleCount:    60,
	})
	got, ok, err := st.LoadBaseline()
	if err != nil || !ok {
		t.Fatalf("LoadBaseline = ok=%v err=%v", ok, err)
	}
	if got != 0.11 {
		t.Errorf("persisted baseline = %v, want 0.11", got)
	}

	s.Shutdown() // closes the store
}

func TestShutdownIdempotent(t *testing.T) {
	s := newTestService(t, &stubCapture{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Shutdown()
	if s.Processor().Running() {
		t.Error("processor running after Shutdown")
	}
	s.Shutdown()
}
