package audiocapture

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

const syntheticChunk = 10 * time.Millisecond

// Synthetic is a deterministic audio source that generates a low noise floor
// with scriptable louder bursts. It exists for demos and tests that need a
// live-looking signal without hardware.
type Synthetic struct {
	mu        sync.Mutex
	capturing bool
	stopChan  chan struct{}
	doneChan  chan struct{}

	sampleRate int
	buffer     *RingBuffer
	errs       errorNotifier

	// amplitude is the current burst amplitude added on top of the floor.
	// Stored as math.Float64bits for lock-free updates from other goroutines.
	amplitude atomic.Uint64
	floor     float64
	rng       *rand.Rand
	phase     float64
}

// SyntheticConfig configures a synthetic source.
type SyntheticConfig struct {
	SampleRate int     // default 16000
	NoiseFloor float64 // ambient noise amplitude, default 0.005
	Seed       int64   // rng seed, default 1
	BufferSize int     // ring capacity in samples, default 1s of audio
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.NoiseFloor == 0 {
		cfg.NoiseFloor = 0.005
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = cfg.SampleRate
	}
	return &Synthetic{
		sampleRate: cfg.SampleRate,
		buffer:     NewRingBuffer(cfg.BufferSize),
		floor:      cfg.NoiseFloor,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Start begins generating samples in real time.
func (s *Synthetic) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return ErrAlreadyCapturing
	}

	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.capturing = true
	go s.run(s.stopChan, s.doneChan)
	return nil
}

// Stop halts generation and waits for the generator goroutine to exit, so a
// following Start never overlaps with the previous run. Idempotent.
func (s *Synthetic) Stop() error {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return nil
	}
	close(s.stopChan)
	s.stopChan = nil
	s.capturing = false
	done := s.doneChan
	s.mu.Unlock()

	<-done
	return nil
}

// IsCapturing reports whether the generator is running.
func (s *Synthetic) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// Frame returns the most recent n generated samples.
func (s *Synthetic) Frame(n int) []float32 {
	return s.buffer.Read(n)
}

// SampleRate returns the configured sample rate.
func (s *Synthetic) SampleRate() int {
	return s.sampleRate
}

// OnError registers a stream failure callback. The synthetic source never
// fails mid-stream; the registration exists to satisfy Capturer.
func (s *Synthetic) OnError(fn func(error)) {
	s.errs.register(fn)
}

// Burst raises the generated amplitude for the given duration, simulating a
// loud sound on top of the noise floor.
func (s *Synthetic) Burst(amplitude float64, d time.Duration) {
	s.amplitude.Store(math.Float64bits(amplitude))
	time.AfterFunc(d, func() {
		s.amplitude.Store(0)
	})
}

// Push writes samples directly into the buffer, bypassing the generator.
// Useful in tests that need exact waveforms.
func (s *Synthetic) Push(samples []float32) {
	s.buffer.Write(samples)
}

func (s *Synthetic) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(syntheticChunk)
	defer ticker.Stop()

	chunkSamples := int(float64(s.sampleRate) * syntheticChunk.Seconds())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.buffer.Write(s.generate(chunkSamples))
		}
	}
}

// generate produces white noise at the floor amplitude plus a 440 Hz tone at
// the current burst amplitude.
func (s *Synthetic) generate(n int) []float32 {
	amp := math.Float64frombits(s.amplitude.Load())
	step := 2 * math.Pi * 440 / float64(s.sampleRate)

	out := make([]float32, n)
	for i := range out {
		v := (s.rng.Float64()*2 - 1) * s.floor
		if amp > 0 {
			v += math.Sin(s.phase) * amp
		}
		s.phase += step
		out[i] = float32(v)
	}
	if s.phase > 2*math.Pi {
		s.phase = math.Mod(s.phase, 2*math.Pi)
	}
	return out
}
