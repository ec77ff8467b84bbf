package audiocapture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/opus"
	"github.com/pion/webrtc/v4"
)

// remoteDecodeBuf sizes the PCM decode buffer: 1920 samples (40 ms at 48 kHz)
// of 16-bit stereo audio.
const remoteDecodeBuf = 1920 * 2 * 2

// Remote receives a remote peer's microphone over WebRTC. The peer publishes
// an Opus audio track; Remote decodes it to mono float32 and exposes it as a
// Capturer. Signaling is the caller's problem: feed the peer's SDP offer to
// Accept and deliver the returned answer back to the peer.
type Remote struct {
	mu        sync.Mutex
	capturing bool
	closed    bool

	sampleRate int
	buffer     *RingBuffer
	errs       errorNotifier

	pc      *webrtc.PeerConnection
	decoder opus.Decoder
}

// NewRemote creates a remote source. The returned source is idle until
// Start and Accept are called.
func NewRemote() (*Remote, error) {
	r := &Remote{
		sampleRate: 48000, // WebRTC Opus standard
		buffer:     NewRingBuffer(48000),
		decoder:    opus.NewDecoder(),
	}
	return r, nil
}

// Start creates the peer connection and installs track handlers.
func (r *Remote) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capturing {
		return ErrAlreadyCapturing
	}
	if r.closed {
		return ErrNotCapturing
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	r.pc = pc

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		slog.Info("received remote track",
			"kind", track.Kind(),
			"codec", track.Codec().MimeType,
			"id", track.ID())
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go r.readTrack(track)
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		slog.Info("ICE connection state changed", "state", s.String())
		if s == webrtc.ICEConnectionStateFailed || s == webrtc.ICEConnectionStateClosed {
			r.fail(fmt.Errorf("ICE connection %s", s.String()))
		}
	})

	r.capturing = true
	return nil
}

// Accept takes the remote peer's SDP offer and returns the local SDP answer
// with ICE candidates included. Must be called after Start.
func (r *Remote) Accept(offerSDP string) (string, error) {
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()

	if pc == nil {
		return "", ErrNotCapturing
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	// Wait for ICE gathering so the answer carries the candidates.
	<-webrtc.GatheringCompletePromise(pc)

	slog.Info("WebRTC answer ready")
	return pc.LocalDescription().SDP, nil
}

// Stop closes the peer connection. Idempotent; closes the connection even
// when a stream failure already marked the source as not capturing.
func (r *Remote) Stop() error {
	r.mu.Lock()
	r.capturing = false
	r.closed = true
	pc := r.pc
	r.pc = nil
	r.mu.Unlock()

	if pc != nil {
		return pc.Close()
	}
	return nil
}

// IsCapturing reports whether the peer connection is up.
func (r *Remote) IsCapturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// Frame returns the most recent n decoded samples.
func (r *Remote) Frame(n int) []float32 {
	return r.buffer.Read(n)
}

// SampleRate returns the decode sample rate (48 kHz).
func (r *Remote) SampleRate() int {
	return r.sampleRate
}

// OnError registers a callback for mid-stream failures.
func (r *Remote) OnError(fn func(error)) {
	r.errs.register(fn)
}

// fail halts the source, releases the peer connection and notifies error
// callbacks once.
func (r *Remote) fail(err error) {
	r.mu.Lock()
	wasCapturing := r.capturing
	r.capturing = false
	pc := r.pc
	r.pc = nil
	r.mu.Unlock()

	if !wasCapturing {
		return
	}
	if pc != nil {
		if cerr := pc.Close(); cerr != nil {
			slog.Error("close peer connection", "error", cerr)
		}
	}
	slog.Error("remote capture failed", "error", err)
	r.errs.notify(fmt.Errorf("%w: %w", ErrStream, err))
}

// readTrack pulls RTP packets off the remote track, decodes the Opus
// payload and pushes mono samples into the ring buffer.
func (r *Remote) readTrack(track *webrtc.TrackRemote) {
	pcm := make([]byte, remoteDecodeBuf)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.fail(fmt.Errorf("read rtp: %w", err))
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		_, isStereo, err := r.decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			// A corrupt packet is not fatal; skip it.
			slog.Debug("opus decode failed", "error", err)
			continue
		}

		r.buffer.Write(pcmToMono(pcm, isStereo))
	}
}

// pcmToMono converts little-endian int16 PCM to mono float32 in [-1, 1],
// averaging channels when the frame is stereo.
func pcmToMono(pcm []byte, isStereo bool) []float32 {
	sampleCount := len(pcm) / 2
	if isStereo {
		sampleCount /= 2
	}

	out := make([]float32, sampleCount)
	for i := 0; i < sampleCount; i++ {
		if isStereo {
			l := int16(pcm[i*4]) | int16(pcm[i*4+1])<<8
			rt := int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8
			out[i] = (float32(l) + float32(rt)) / 2 / 32768
		} else {
			v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
			out[i] = float32(v) / 32768
		}
	}
	return out
}
