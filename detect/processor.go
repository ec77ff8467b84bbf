// Package detect turns a continuous audio stream into normalized volume
// readings, an adaptively calibrated noise baseline, and debounced
// sound-detected events.
//
// The processor runs a fixed-cadence sampling loop: each tick reads one
// frame from the capturer, computes RMS, normalizes it, and either feeds an
// in-flight calibration session or runs detection. Configuration is read as
// an immutable snapshot at the start of every tick; events published within
// a tick are fully dispatched before the next tick begins.
package detect

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundsense/soundsense/audiocapture"
	"github.com/soundsense/soundsense/bus"
	"github.com/soundsense/soundsense/internal/clock"
	"github.com/soundsense/soundsense/internal/types"
	"github.com/soundsense/soundsense/state"
)

// Processor converts raw sample frames into volume, baseline and detection
// events.
type Processor struct {
	bus     *bus.Bus
	machine *state.Machine
	capture audiocapture.Capturer
	clk     clock.Clock

	cfg atomic.Pointer[Config]

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	ticker   clock.Ticker

	// Detection state, mutated only by the tick loop and the state-change
	// handler.
	baseline     float64
	lastTrigger  time.Time
	prevRelative float64
	hist         *window
	session      *session
	returnTo     state.State
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock injects a time source; tests pass a manual clock.
func WithClock(clk clock.Clock) Option {
	return func(p *Processor) { p.clk = clk }
}

// WithConfig sets the initial configuration snapshot.
func WithConfig(cfg Config) Option {
	return func(p *Processor) {
		c := cfg.withDefaults()
		p.cfg.Store(&c)
	}
}

// NewProcessor creates a processor. It subscribes to state changes so that
// entering Calibrating starts a session and leaving it discards one.
func NewProcessor(b *bus.Bus, machine *state.Machine, capture audiocapture.Capturer, opts ...Option) *Processor {
	p := &Processor{
		bus:     b,
		machine: machine,
		capture: capture,
		clk:     clock.Real{},
	}
	cfg := DefaultConfig()
	p.cfg.Store(&cfg)

	for _, opt := range opts {
		opt(p)
	}
	p.hist = newWindow(p.cfg.Load().HistorySize)

	b.Subscribe(types.EventStateChanged, p.onStateChanged)
	capture.OnError(p.onStreamError)
	return p
}

// Start begins capture and the sampling loop. A capture failure publishes a
// typed audio-error and is returned to the caller; the processor never
// retries on its own.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if err := p.capture.Start(); err != nil {
		kind := classifyCaptureError(err)
		p.bus.Publish(types.EventAudioError, types.AudioError{
			Kind:    kind,
			Message: err.Error(),
		})
		return fmt.Errorf("start capture: %w", err)
	}

	cfg := p.cfg.Load()
	p.stopChan = make(chan struct{})
	p.doneChan = make(chan struct{})
	p.ticker = p.clk.NewTicker(cfg.TickInterval)
	p.running = true

	go p.loop(p.stopChan, p.doneChan, p.ticker)

	slog.Info("audio processor started", "tick", cfg.TickInterval, "sampleRate", p.capture.SampleRate())
	return nil
}

// Stop halts the sampling loop and the capturer. Idempotent; when it
// returns, no further tick will execute.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.ticker.Stop()
	close(p.stopChan)
	done := p.doneChan
	p.session = nil
	p.mu.Unlock()

	<-done
	if err := p.capture.Stop(); err != nil {
		slog.Error("stop capture", "error", err)
	}
	slog.Info("audio processor stopped")
}

// Running reports whether the sampling loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Baseline returns the current noise baseline.
func (p *Processor) Baseline() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseline
}

// SetBaseline overrides the baseline, used to restore a persisted value at
// startup before any calibration has run.
func (p *Processor) SetBaseline(b float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseline = clamp(b, 0, 1)
}

// Threshold returns the effective detection threshold for the current
// configuration and baseline.
func (p *Processor) Threshold() float64 {
	cfg := p.cfg.Load()
	p.mu.Lock()
	defer p.mu.Unlock()
	return cfg.effectiveThreshold(p.baseline)
}

// Level returns the smoothed relative volume for display. It is never used
// in detection decisions.
func (p *Processor) Level() float64 {
	cfg := p.cfg.Load()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hist.average(cfg.SmoothingWindow)
}

// ApplyConfig atomically replaces the configuration snapshot. The next tick
// observes the whole new configuration; an in-flight tick keeps its old
// snapshot. Publishes audio-threshold-changed when the effective threshold
// moved.
func (p *Processor) ApplyConfig(cfg Config) {
	cfg = cfg.withDefaults()

	p.mu.Lock()
	baseline := p.baseline
	p.mu.Unlock()

	old := p.cfg.Load()
	p.cfg.Store(&cfg)

	oldThr := old.effectiveThreshold(baseline)
	newThr := cfg.effectiveThreshold(baseline)
	if oldThr != newThr {
		p.bus.Publish(types.EventThresholdChanged, types.ThresholdChanged{Threshold: newThr})
	}
}

// loop is the sampling loop goroutine.
func (p *Processor) loop(stop chan struct{}, done chan struct{}, ticker clock.Ticker) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C():
			// A tick raced with Stop; honor the stop.
			select {
			case <-stop:
				return
			default:
			}
			p.tick(t)
		}
	}
}

// tick performs one bounded unit of work: read frame, compute level, run
// calibration or detection, publish events. Events are gathered under the
// lock and published after it is released so handlers can call back into
// the processor.
func (p *Processor) tick(now time.Time) {
	cfg := *p.cfg.Load()
	frame := p.capture.Frame(cfg.FrameSize)
	raw := RMS(frame)
	norm := cfg.normalize(raw)

	st := p.machine.Current()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}

	if p.session != nil {
		if st != state.Calibrating {
			// Calibration was cancelled externally; discard the session.
			slog.Info("calibration cancelled", "session", p.session.id, "state", st)
			p.session = nil
			p.mu.Unlock()
			return
		}
		p.calibrateTick(cfg, norm, len(frame) > 0, now)
		return
	}

	if st != state.Running {
		p.mu.Unlock()
		return
	}
	p.detectTick(cfg, norm, now)
}

// calibrateTick collects one sample and finalizes the session when the
// target is reached. Ticks where capture produced no data collect nothing,
// so a dead stream ends the session with zero samples. Caller holds the
// lock; it is released here.
func (p *Processor) calibrateTick(cfg Config, norm float64, hasData bool, now time.Time) {
	s := p.session
	if hasData {
		s.add(norm)
	}

	if !s.done(now) {
		progress := s.progress(now)
		p.mu.Unlock()
		p.bus.Publish(types.EventCalibrationProgress, progress)
		return
	}

	stats, err := s.finalize(cfg.sessionPercentile(), cfg.SafetyMargin)
	p.session = nil
	returnTo := p.returnTo
	if err == nil {
		p.baseline = stats.BaselineVolume
	}
	p.mu.Unlock()

	// Hand control back before announcing the result, so a completion
	// subscriber can move the lifecycle onward without racing this return
	// transition.
	if returnTo == "" {
		returnTo = state.Ready
	}
	p.machine.Transition(returnTo, nil, "calibration finished")

	if err != nil {
		// Non-fatal: keep the previous baseline and keep running.
		slog.Warn("calibration failed", "session", s.id, "error", err)
		p.bus.Publish(types.EventCalibrationFailed, types.CalibrationFailed{Reason: err.Error()})
	} else {
		slog.Info("calibration completed",
			"session", s.id,
			"baseline", stats.BaselineVolume,
			"samples", stats.SampleCount)
		p.bus.Publish(types.EventCalibrationCompleted, stats)
		if cfg.AutoThreshold {
			p.bus.Publish(types.EventThresholdChanged, types.ThresholdChanged{
				Threshold: cfg.effectiveThreshold(stats.BaselineVolume),
				Stats:     &stats,
			})
		}
	}
}

// detectTick runs the two-branch detection with a shared cooldown gate.
// Caller holds the lock; it is released here.
func (p *Processor) detectTick(cfg Config, norm float64, now time.Time) {
	relative := norm - p.baseline
	if relative < 0 {
		relative = 0
	}
	change := relative - p.prevRelative
	p.prevRelative = relative
	p.hist.push(relative)

	thr := cfg.effectiveThreshold(p.baseline)
	inCooldown := !p.lastTrigger.IsZero() && now.Sub(p.lastTrigger) < cfg.Cooldown

	// Branch one catches sharp transients, branch two sustained loud
	// signals that never show a rising edge; both share the cooldown.
	fired := false
	if !inCooldown {
		if change > thr {
			fired = true
		} else if relative > thr*cfg.SustainFactor && change > -cfg.Epsilon {
			fired = true
		}
	}

	if !fired {
		p.mu.Unlock()
		return
	}

	p.lastTrigger = now
	intensity := clamp(relative/(thr*cfg.IntensityFactor), 0, 1)
	p.mu.Unlock()

	p.bus.Publish(types.EventSoundDetected, types.SoundDetected{Intensity: intensity})
}

// onStateChanged starts a calibration session when the machine enters
// Calibrating and remembers where to return afterwards.
func (p *Processor) onStateChanged(payload any) {
	change, ok := payload.(types.StateChange)
	if !ok {
		return
	}

	if state.State(change.To) != state.Calibrating {
		return
	}

	cfg := *p.cfg.Load()

	p.mu.Lock()
	if p.session != nil {
		p.mu.Unlock()
		return
	}
	s := newSession(cfg, p.clk.Now())
	p.session = s
	from := state.State(change.From)
	if from == state.Running || from == state.Ready {
		p.returnTo = from
	} else {
		p.returnTo = state.Ready
	}
	p.prevRelative = 0
	p.mu.Unlock()

	slog.Info("calibration started", "session", s.id, "mode", s.mode)
	p.bus.Publish(types.EventCalibrationStarted, types.CalibrationStarted{SessionID: s.id})
}

// onStreamError halts the sampling loop and reports the failure. It does not
// force a state transition; recovery policy belongs to a state machine
// subscriber.
func (p *Processor) onStreamError(err error) {
	slog.Error("audio stream error", "error", err)

	// The capturer already halted itself; stop our loop without re-stopping
	// the capture.
	p.mu.Lock()
	wasRunning := p.running
	if wasRunning {
		p.running = false
		p.ticker.Stop()
		close(p.stopChan)
	}
	p.mu.Unlock()

	p.bus.Publish(types.EventAudioError, types.AudioError{
		Kind:    types.AudioErrorStream,
		Message: err.Error(),
	})
}

// classifyCaptureError maps capture start failures onto the audio error
// taxonomy.
func classifyCaptureError(err error) types.AudioErrorKind {
	switch {
	case errors.Is(err, audiocapture.ErrUnsupported):
		return types.AudioErrorUnsupported
	case errors.Is(err, audiocapture.ErrPermissionDenied):
		return types.AudioErrorPermissionDenied
	case errors.Is(err, audiocapture.ErrNoDevice):
		return types.AudioErrorNoDevice
	default:
		return types.AudioErrorStream
	}
}
