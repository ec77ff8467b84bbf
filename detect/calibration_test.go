package detect

import (
	"math"
	"testing"
	"time"
)

func TestSessionMedianBaseline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationSamples = 6

	s := newSession(cfg, time.Unix(0, 0))
	for _, v := range []float64{0.03, 0.01, 0.06, 0.04, 0.02, 0.05} {
		s.add(v)
	}

	stats, err := s.finalize(cfg.sessionPercentile(), cfg.SafetyMargin)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Median of six sorted samples is index 3 (0.04), plus the 0.01 margin.
	if math.Abs(stats.BaselineVolume-0.05) > 1e-9 {
		t.Errorf("BaselineVolume = %v, want 0.05", stats.BaselineVolume)
	}
	if stats.SampleCount != 6 {
		t.Errorf("SampleCount = %d, want 6", stats.SampleCount)
	}
	if stats.Min != 0.01 || stats.Max != 0.06 {
		t.Errorf("Min/Max = %v/%v, want 0.01/0.06", stats.Min, stats.Max)
	}
	if math.Abs(stats.Median-0.04) > 1e-9 {
		t.Errorf("Median = %v, want 0.04", stats.Median)
	}
}

func TestSessionPercentileByMode(t *testing.T) {
	samples := []float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.07, 0.08}

	cfg := DefaultConfig()
	cfg.CalibrationMode = ModeDuration
	s := newSession(cfg, time.Unix(0, 0))
	for _, v := range samples {
		s.add(v)
	}

	stats, err := s.finalize(cfg.sessionPercentile(), cfg.SafetyMargin)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// 75th percentile of eight samples is index 6 (0.07), plus the margin.
	if math.Abs(stats.BaselineVolume-0.08) > 1e-9 {
		t.Errorf("BaselineVolume = %v, want 0.08", stats.BaselineVolume)
	}
}

func TestSessionEmptyFails(t *testing.T) {
	cfg := DefaultConfig()
	s := newSession(cfg, time.Unix(0, 0))

	if _, err := s.finalize(cfg.sessionPercentile(), cfg.SafetyMargin); err == nil {
		t.Fatal("finalize of empty session succeeded, want error")
	}
}

func TestSessionDone(t *testing.T) {
	start := time.Unix(100, 0)

	t.Run("sample count mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CalibrationSamples = 3
		s := newSession(cfg, start)

		s.add(0.1)
		s.add(0.1)
		if s.done(start.Add(time.Hour)) {
			t.Error("done before target count")
		}
		s.add(0.1)
		if !s.done(start) {
			t.Error("not done at target count")
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CalibrationMode = ModeDuration
		cfg.CalibrationDuration = 2 * time.Second
		s := newSession(cfg, start)

		if s.done(start.Add(time.Second)) {
			t.Error("done before target duration")
		}
		if !s.done(start.Add(2 * time.Second)) {
			t.Error("not done at target duration")
		}
	})
}

func TestSessionProgress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationSamples = 4
	s := newSession(cfg, time.Unix(0, 0))

	s.add(0.1)
	s.add(0.1)

	p := s.progress(time.Unix(1, 0))
	if math.Abs(p.Progress-0.5) > 1e-9 {
		t.Errorf("Progress = %v, want 0.5", p.Progress)
	}
	if p.Samples != 2 || p.Total != 4 {
		t.Errorf("Samples/Total = %d/%d, want 2/4", p.Samples, p.Total)
	}
}
