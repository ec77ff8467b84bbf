package detect

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soundsense/soundsense/internal/types"
)

// errNoSamples is returned when a session finishes without collecting
// anything, typically because capture produced no frames.
var errNoSamples = errors.New("calibration collected no samples")

// session accumulates normalized volumes while the application is in the
// Calibrating state. It is created on entry, converted into a baseline on
// completion and discarded on early exit.
type session struct {
	id        string
	mode      CalibrationMode
	startedAt time.Time
	samples   []float64

	targetCount    int
	targetDuration time.Duration
}

func newSession(cfg Config, now time.Time) *session {
	return &session{
		id:             uuid.New().String(),
		mode:           cfg.CalibrationMode,
		startedAt:      now,
		samples:        make([]float64, 0, cfg.CalibrationSamples),
		targetCount:    cfg.CalibrationSamples,
		targetDuration: cfg.CalibrationDuration,
	}
}

func (s *session) add(v float64) {
	s.samples = append(s.samples, v)
}

// done reports whether the session reached its target.
func (s *session) done(now time.Time) bool {
	if s.mode == ModeDuration {
		return now.Sub(s.startedAt) >= s.targetDuration
	}
	return len(s.samples) >= s.targetCount
}

// progress returns completion in [0,1] plus collected/total counts. In
// duration mode total is an estimate based on elapsed time.
func (s *session) progress(now time.Time) types.CalibrationProgress {
	var p float64
	total := s.targetCount
	if s.mode == ModeDuration {
		if s.targetDuration > 0 {
			p = float64(now.Sub(s.startedAt)) / float64(s.targetDuration)
		}
	} else if s.targetCount > 0 {
		p = float64(len(s.samples)) / float64(s.targetCount)
	}
	return types.CalibrationProgress{
		Progress: clamp(p, 0, 1),
		Samples:  len(s.samples),
		Total:    total,
	}
}

// finalize converts the collected samples into a baseline: sort, take the
// configured percentile, add the safety margin against residual noise.
func (s *session) finalize(percentile, margin float64) (types.CalibrationCompleted, error) {
	if len(s.samples) == 0 {
		return types.CalibrationCompleted{}, errNoSamples
	}

	sorted := make([]float64, len(s.samples))
	copy(sorted, s.samples)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * percentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return types.CalibrationCompleted{
		BaselineVolume: sorted[idx] + margin,
		SampleCount:    len(sorted),
		Min:            sorted[0],
		Max:            sorted[len(sorted)-1],
		Median:         sorted[len(sorted)/2],
	}, nil
}
