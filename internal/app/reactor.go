package app

import "log/slog"

// SoundReactor is the capability a presentation-side consumer implements to
// react to detections. The core only ever depends on this interface, never
// on a concrete visual.
type SoundReactor interface {
	ReactToSound(intensity float64)
}

// LogReactor logs each detection. It is the demo consumer and a template for
// real presentation layers.
type LogReactor struct{}

// ReactToSound logs the detection intensity.
func (LogReactor) ReactToSound(intensity float64) {
	slog.Info("sound detected", "intensity", intensity)
}
