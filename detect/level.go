package detect

import "math"

// RMS calculates the root mean square of audio samples. Samples are expected
// in [-1, 1], so the result is always in [0, 1]. An empty frame is silence.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return clamp(rms, 0, 1)
}

// normalize clamps raw volume into [MinValue, MaxValue], rescales to [0, 1]
// and applies the sensitivity multiplier.
func (c Config) normalize(raw float64) float64 {
	raw = clamp(raw, c.MinValue, c.MaxValue)
	span := c.MaxValue - c.MinValue
	if span <= 0 {
		return 0
	}
	v := (raw - c.MinValue) / span * c.SensitivityMultiplier
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// window is a fixed-capacity rolling history of relative volumes. It feeds
// the displayed level only; detection never reads it.
type window struct {
	values []float64
	size   int
}

func newWindow(size int) *window {
	return &window{size: size}
}

func (w *window) push(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.values = w.values[len(w.values)-w.size:]
	}
}

// average returns the mean of the last n values, or 0 when empty.
func (w *window) average(n int) float64 {
	if n > len(w.values) {
		n = len(w.values)
	}
	if n == 0 {
		return 0
	}

	var sum float64
	for _, v := range w.values[len(w.values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func (w *window) reset() {
	w.values = w.values[:0]
}
