// Package types provides shared type definitions for the application.
package types

import "fmt"

// Event names published on the bus. The vocabulary is closed: payloads are
// validated against it at the publish boundary.
const (
	EventSoundDetected        = "sound-detected"
	EventCalibrationStarted   = "audio-calibration-started"
	EventCalibrationProgress  = "audio-calibration-progress"
	EventCalibrationCompleted = "audio-calibration-completed"
	EventCalibrationFailed    = "audio-calibration-failed"
	EventThresholdChanged     = "audio-threshold-changed"
	EventStateChanged         = "state-changed"
	EventStateForced          = "state-forced"
	EventStateInvalid         = "state-transition-invalid"
	EventAudioError           = "audio-error"
)

// SoundDetected is published when the detector fires.
type SoundDetected struct {
	Intensity float64 `json:"intensity"` // [0,1]
}

// CalibrationStarted is published when a calibration session begins.
type CalibrationStarted struct {
	SessionID string `json:"sessionId"`
}

// CalibrationProgress reports per-tick calibration progress.
type CalibrationProgress struct {
	Progress float64 `json:"progress"` // [0,1]
	Samples  int     `json:"samples"`
	Total    int     `json:"total"`
}

// CalibrationCompleted carries the statistics of a finished session.
type CalibrationCompleted struct {
	BaselineVolume float64 `json:"baselineVolume"`
	SampleCount    int     `json:"sampleCount"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	Median         float64 `json:"median"`
}

// CalibrationFailed is published when a session ends with no usable samples.
type CalibrationFailed struct {
	Reason string `json:"reason"`
}

// ThresholdChanged is published whenever the effective detection threshold
// changes, from settings or from an auto-threshold recalculation.
type ThresholdChanged struct {
	Threshold float64               `json:"threshold"`
	Stats     *CalibrationCompleted `json:"stats,omitempty"`
}

// StateChange describes a lifecycle transition. Used for state-changed,
// state-forced and state-transition-invalid events; Data is only populated
// on accepted transitions.
type StateChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Data   any    `json:"data,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// AudioErrorKind classifies audio failures.
type AudioErrorKind string

const (
	AudioErrorUnsupported      AudioErrorKind = "unsupported"
	AudioErrorPermissionDenied AudioErrorKind = "permission-denied"
	AudioErrorNoDevice         AudioErrorKind = "no-device"
	AudioErrorStream           AudioErrorKind = "stream-error"
)

// AudioError is published when the capture layer or sampling loop fails.
type AudioError struct {
	Kind    AudioErrorKind `json:"type"`
	Message string         `json:"message"`
}

// ValidatePayload checks that a payload has the shape registered for the
// event name. Unknown event names are rejected; the vocabulary above is the
// whole contract.
func ValidatePayload(event string, payload any) error {
	ok := false
	switch event {
	case EventSoundDetected:
		_, ok = payload.(SoundDetected)
	case EventCalibrationStarted:
		_, ok = payload.(CalibrationStarted)
	case EventCalibrationProgress:
		_, ok = payload.(CalibrationProgress)
	case EventCalibrationCompleted:
		_, ok = payload.(CalibrationCompleted)
	case EventCalibrationFailed:
		_, ok = payload.(CalibrationFailed)
	case EventThresholdChanged:
		_, ok = payload.(ThresholdChanged)
	case EventStateChanged, EventStateForced, EventStateInvalid:
		_, ok = payload.(StateChange)
	case EventAudioError:
		_, ok = payload.(AudioError)
	default:
		return fmt.Errorf("unknown event: %s", event)
	}
	if !ok {
		return fmt.Errorf("invalid payload type %T for event %s", payload, event)
	}
	return nil
}
