// Package audiocapture provides audio sources for the detection pipeline.
//
// A Capturer produces a continuous stream of float32 samples in [-1, 1] into
// a rolling buffer; the processor pulls fixed-length frames from it on each
// tick. Two sources ship with the package: a deterministic synthetic
// generator and a WebRTC remote-microphone receiver.
package audiocapture

import (
	"errors"
	"sync"
)

// ErrUnsupported is returned when no capture backend is available.
var ErrUnsupported = errors.New("audio capture not supported")

// ErrPermissionDenied is returned when the capture permission was refused.
var ErrPermissionDenied = errors.New("audio capture permission denied")

// ErrNoDevice is returned when no capture device is available.
var ErrNoDevice = errors.New("no audio capture device")

// ErrStream wraps mid-capture device or read failures.
var ErrStream = errors.New("audio stream failure")

// ErrAlreadyCapturing is returned when starting a running capturer.
var ErrAlreadyCapturing = errors.New("already capturing audio")

// ErrNotCapturing is returned when reading from a stopped capturer.
var ErrNotCapturing = errors.New("not capturing audio")

// Capturer is an audio source.
type Capturer interface {
	// Start begins producing samples. Returns ErrUnsupported,
	// ErrPermissionDenied or ErrNoDevice when the source cannot start.
	Start() error
	// Stop halts the source. Stopping a stopped source is a no-op.
	Stop() error
	// IsCapturing reports whether the source is producing samples.
	IsCapturing() bool
	// Frame returns the most recent n samples, fewer if the buffer has not
	// filled yet. Samples are mono float32 in [-1, 1].
	Frame(n int) []float32
	// SampleRate returns the source sample rate in Hz.
	SampleRate() int
	// OnError registers a callback for mid-stream failures. The source halts
	// itself before invoking callbacks.
	OnError(fn func(error))
}

// RingBuffer is a thread-safe circular buffer for audio samples.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []float32
	writePos int
	size     int
	filled   int
}

// NewRingBuffer creates a ring buffer holding size samples.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		data: make([]float32, size),
		size: size,
	}
}

// Write appends samples, overwriting the oldest once full.
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, s := range samples {
		rb.data[rb.writePos] = s
		rb.writePos = (rb.writePos + 1) % rb.size
		if rb.filled < rb.size {
			rb.filled++
		}
	}
}

// Read returns the last n samples written, oldest first.
func (rb *RingBuffer) Read(n int) []float32 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.filled {
		n = rb.filled
	}
	if n == 0 {
		return nil
	}

	result := make([]float32, n)
	startPos := (rb.writePos - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.data[(startPos+i)%rb.size]
	}
	return result
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePos = 0
	rb.filled = 0
}

// Len returns the number of samples currently buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.filled
}

// errorNotifier is the shared OnError callback registry for sources.
type errorNotifier struct {
	mu  sync.Mutex
	fns []func(error)
}

func (n *errorNotifier) register(fn func(error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fns = append(n.fns, fn)
}

func (n *errorNotifier) notify(err error) {
	n.mu.Lock()
	fns := make([]func(error), len(n.fns))
	copy(fns, n.fns)
	n.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}
