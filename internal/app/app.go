// Package app wires the core components together: event bus, state machine,
// audio processor, settings store and runtime state store. This struct
// focuses on orchestration; business logic lives in the component packages.
package app

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/soundsense/soundsense/audiocapture"
	"github.com/soundsense/soundsense/bus"
	"github.com/soundsense/soundsense/config"
	"github.com/soundsense/soundsense/detect"
	"github.com/soundsense/soundsense/internal/types"
	"github.com/soundsense/soundsense/state"
	"github.com/soundsense/soundsense/store"
)

// Service owns the component graph. Construct one at startup with New and
// tear it down with Shutdown.
type Service struct {
	bus       *bus.Bus
	machine   *state.Machine
	processor *detect.Processor
	settings  *config.Store
	store     *store.Store

	mu       sync.Mutex
	reactors []SoundReactor
	shutdown bool
}

// Options configures a Service.
type Options struct {
	Settings *config.Store         // required
	Store    *store.Store          // optional; state/baseline persistence
	Capture  audiocapture.Capturer // required
}

// New builds the component graph: bus with payload validation, state
// machine persisting through the store, processor fed by the capturer, and
// the subscriptions that tie them together.
func New(opts Options) (*Service, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings store required")
	}
	if opts.Capture == nil {
		return nil, fmt.Errorf("capturer required")
	}

	s := &Service{
		bus:      bus.New(types.ValidatePayload),
		settings: opts.Settings,
		store:    opts.Store,
	}

	var machineOpts []state.Option
	if opts.Store != nil {
		machineOpts = append(machineOpts, state.WithPersister(opts.Store))
	}
	s.machine = state.NewMachine(s.bus, machineOpts...)

	s.processor = detect.NewProcessor(s.bus, s.machine, opts.Capture,
		detect.WithConfig(detectConfig(opts.Settings.Settings())))

	// Settings updates swap the processor's snapshot atomically.
	opts.Settings.OnChange(func(settings config.Settings) {
		s.processor.ApplyConfig(detectConfig(settings))
	})

	// Restore the last calibrated baseline so detection is useful before
	// the first calibration of this session.
	if opts.Store != nil {
		if baseline, ok, err := opts.Store.LoadBaseline(); err != nil {
			slog.Error("load baseline", "error", err)
		} else if ok {
			s.processor.SetBaseline(baseline)
			slog.Info("baseline restored", "baseline", baseline)
		}
	}
	s.bus.Subscribe(types.EventCalibrationCompleted, s.onCalibrationCompleted)

	// The processor reports stream failures without touching the state
	// machine; moving to Error is this layer's recovery policy.
	s.bus.Subscribe(types.EventAudioError, s.onAudioError)

	s.bus.Subscribe(types.EventSoundDetected, s.onSoundDetected)

	return s, nil
}

// Bus exposes the event bus for additional subscribers.
func (s *Service) Bus() *bus.Bus { return s.bus }

// Machine exposes the state machine for lifecycle introspection.
func (s *Service) Machine() *state.Machine { return s.machine }

// Processor exposes the audio processor for level/threshold readouts.
func (s *Service) Processor() *detect.Processor { return s.processor }

// AddReactor registers a sound reactor.
func (s *Service) AddReactor(r SoundReactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactors = append(s.reactors, r)
}

// Start brings the service from Initializing to Ready and starts the audio
// pipeline. A capture failure leaves the machine in Error.
func (s *Service) Start() error {
	if err := s.processor.Start(); err != nil {
		s.machine.Transition(state.Error, nil, "audio start failed")
		return err
	}
	if !s.machine.Transition(state.Ready, nil, "startup complete") {
		return fmt.Errorf("transition to ready failed from %s", s.machine.Current())
	}
	return nil
}

// Run moves the lifecycle to Running, enabling detection.
func (s *Service) Run() bool {
	return s.machine.Transition(state.Running, nil, "run requested")
}

// Pause moves the lifecycle to Paused, suspending detection.
func (s *Service) Pause() bool {
	return s.machine.Transition(state.Paused, nil, "pause requested")
}

// Resume returns from Paused to Running.
func (s *Service) Resume() bool {
	return s.machine.Transition(state.Running, nil, "resume requested")
}

// Calibrate enters the Calibrating state; the processor notices and runs a
// session, returning to the prior state when it finishes.
func (s *Service) Calibrate() bool {
	return s.machine.Transition(state.Calibrating, nil, "calibration requested")
}

// Shutdown stops the processor, clears all subscriptions and closes the
// store. Idempotent.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.mu.Unlock()

	s.processor.Stop()
	s.bus.Reset()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("close store", "error", err)
		}
	}
}

func (s *Service) onSoundDetected(payload any) {
	detected, ok := payload.(types.SoundDetected)
	if !ok {
		return
	}

	s.mu.Lock()
	reactors := make([]SoundReactor, len(s.reactors))
	copy(reactors, s.reactors)
	s.mu.Unlock()

	for _, r := range reactors {
		r.ReactToSound(detected.Intensity)
	}
}

func (s *Service) onCalibrationCompleted(payload any) {
	stats, ok := payload.(types.CalibrationCompleted)
	if !ok || s.store == nil {
		return
	}
	if err := s.store.SaveBaseline(stats.BaselineVolume); err != nil {
		slog.Error("persist baseline", "error", err)
	}
}

func (s *Service) onAudioError(payload any) {
	audioErr, ok := payload.(types.AudioError)
	if !ok {
		return
	}
	if audioErr.Kind != types.AudioErrorStream {
		return
	}
	if !s.machine.Transition(state.Error, nil, "audio stream failed") {
		s.machine.ForceState(state.Error, nil, "audio stream failed")
	}
}

// detectConfig maps persisted settings onto a processor configuration,
// leaving non-tunable fields to the detect defaults.
func detectConfig(s config.Settings) detect.Config {
	cfg := detect.DefaultConfig()
	cfg.Threshold = s.Threshold
	if s.Sensitivity > 0 {
		cfg.Threshold = detect.SensitivityToThreshold(s.Sensitivity)
	}
	cfg.SensitivityMultiplier = s.SensitivityMultiplier
	cfg.Cooldown = s.Cooldown()
	cfg.CalibrationSamples = s.CalibrationSamples
	cfg.CalibrationDuration = s.CalibrationDuration()
	cfg.AutoThreshold = s.AutoThreshold
	cfg.AutoThresholdTarget = s.AutoThresholdTarget
	cfg.MinValue = s.MinValue
	cfg.MaxValue = s.MaxValue
	cfg.SmoothingWindow = s.SmoothingWindow

	switch s.CalibrationMode {
	case config.CalibrationModeDuration:
		cfg.CalibrationMode = detect.ModeDuration
	default:
		cfg.CalibrationMode = detect.ModeSamples
	}
	return cfg
}
