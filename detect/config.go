package detect

import "time"

// CalibrationMode selects how a calibration session ends and which
// percentile of the collected samples becomes the baseline.
type CalibrationMode string

const (
	// ModeSamples collects a fixed number of samples and uses the median.
	ModeSamples CalibrationMode = "samples"
	// ModeDuration collects for a fixed wall-clock duration and uses the
	// 75th percentile.
	ModeDuration CalibrationMode = "duration"
)

// Config holds one tick's worth of detection configuration. The processor
// reads an immutable snapshot at the start of every tick, so concurrent
// settings updates never tear a computation.
type Config struct {
	// Threshold is the manual detection threshold on relative volume change.
	Threshold float64
	// SensitivityMultiplier scales normalized volume before detection.
	SensitivityMultiplier float64
	// Cooldown is the minimum interval between two detections.
	Cooldown time.Duration

	// CalibrationMode selects the session strategy.
	CalibrationMode CalibrationMode
	// CalibrationSamples is the target sample count in ModeSamples.
	CalibrationSamples int
	// CalibrationDuration is the target wall time in ModeDuration.
	CalibrationDuration time.Duration

	// AutoThreshold derives the threshold from the baseline instead of
	// using Threshold directly.
	AutoThreshold bool
	// AutoThresholdTarget is the baseline headroom ratio in auto mode.
	AutoThresholdTarget float64
	// AutoThresholdMin/Max clamp the derived threshold.
	AutoThresholdMin float64
	AutoThresholdMax float64

	// MinValue/MaxValue are the raw-volume normalization bounds.
	MinValue float64
	MaxValue float64

	// TickInterval is the sampling cadence.
	TickInterval time.Duration
	// FrameSize is the number of samples read per tick.
	FrameSize int

	// HistorySize is the rolling relative-volume history length;
	// SmoothingWindow is how many recent entries feed the displayed level.
	HistorySize     int
	SmoothingWindow int

	// Tunable detection constants.
	SustainFactor   float64 // sustained branch fires above SustainFactor×threshold
	Epsilon         float64 // negative-change tolerance for the sustained branch
	IntensityFactor float64 // intensity = relative/(IntensityFactor×threshold)
	SafetyMargin    float64 // added to the calibrated percentile
}

// DefaultConfig returns the default detection configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:             0.05,
		SensitivityMultiplier: 1.0,
		Cooldown:              500 * time.Millisecond,
		CalibrationMode:       ModeSamples,
		CalibrationSamples:    60,
		CalibrationDuration:   2 * time.Second,
		AutoThreshold:         false,
		AutoThresholdTarget:   0.5,
		AutoThresholdMin:      0.05,
		AutoThresholdMax:      0.5,
		MinValue:              0.0,
		MaxValue:              1.0,
		TickInterval:          33 * time.Millisecond,
		FrameSize:             512,
		HistorySize:           30,
		SmoothingWindow:       5,
		SustainFactor:         3,
		Epsilon:               0.01,
		IntensityFactor:       5,
		SafetyMargin:          0.01,
	}
}

// withDefaults fills zero-valued fields so partially populated configs stay
// usable.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Threshold == 0 {
		c.Threshold = def.Threshold
	}
	if c.SensitivityMultiplier == 0 {
		c.SensitivityMultiplier = def.SensitivityMultiplier
	}
	if c.Cooldown == 0 {
		c.Cooldown = def.Cooldown
	}
	if c.CalibrationMode == "" {
		c.CalibrationMode = def.CalibrationMode
	}
	if c.CalibrationSamples == 0 {
		c.CalibrationSamples = def.CalibrationSamples
	}
	if c.CalibrationDuration == 0 {
		c.CalibrationDuration = def.CalibrationDuration
	}
	if c.AutoThresholdTarget == 0 {
		c.AutoThresholdTarget = def.AutoThresholdTarget
	}
	if c.AutoThresholdMin == 0 {
		c.AutoThresholdMin = def.AutoThresholdMin
	}
	if c.AutoThresholdMax == 0 {
		c.AutoThresholdMax = def.AutoThresholdMax
	}
	if c.MaxValue == 0 {
		c.MaxValue = def.MaxValue
	}
	if c.TickInterval == 0 {
		c.TickInterval = def.TickInterval
	}
	if c.FrameSize == 0 {
		c.FrameSize = def.FrameSize
	}
	if c.HistorySize == 0 {
		c.HistorySize = def.HistorySize
	}
	if c.SmoothingWindow == 0 {
		c.SmoothingWindow = def.SmoothingWindow
	}
	if c.SustainFactor == 0 {
		c.SustainFactor = def.SustainFactor
	}
	if c.Epsilon == 0 {
		c.Epsilon = def.Epsilon
	}
	if c.IntensityFactor == 0 {
		c.IntensityFactor = def.IntensityFactor
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = def.SafetyMargin
	}
	return c
}

// effectiveThreshold returns the detection threshold for this tick. In auto
// mode it is derived from the calibrated baseline and clamped.
func (c Config) effectiveThreshold(baseline float64) float64 {
	if !c.AutoThreshold {
		return c.Threshold
	}
	return clamp(baseline*(1+c.AutoThresholdTarget), c.AutoThresholdMin, c.AutoThresholdMax)
}

// sessionPercentile returns the percentile used for the baseline: the median
// in sample-count mode, the 75th percentile in duration mode.
func (c Config) sessionPercentile() float64 {
	if c.CalibrationMode == ModeDuration {
		return 0.75
	}
	return 0.5
}

// SensitivityToThreshold maps the user-facing sensitivity control x∈[0,1]
// onto a detection threshold. The mapping is piecewise linear: fine-grained
// below 0.3, coarse above, clamped to [0.01, 0.3], and monotone.
func SensitivityToThreshold(x float64) float64 {
	x = clamp(x, 0, 1)
	var t float64
	if x < 0.3 {
		t = 0.01 + (x/0.3)*0.04
	} else {
		t = 0.05 + ((x-0.3)/0.7)*0.25
	}
	return clamp(t, 0.01, 0.3)
}
