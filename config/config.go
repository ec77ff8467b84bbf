// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	appName        = "soundsense"
	configFileName = "config.json"
)

// CalibrationMode selects how a calibration session ends and which
// percentile becomes the baseline.
type CalibrationMode string

const (
	// CalibrationModeSamples collects a fixed number of samples and uses the
	// median. Default.
	CalibrationModeSamples CalibrationMode = "samples"
	// CalibrationModeDuration collects for a fixed wall-clock duration and
	// uses the 75th percentile.
	CalibrationModeDuration CalibrationMode = "duration"
)

// Settings holds every user-tunable detection value.
//
// Sensitivity is the single-knob control in [0,1]: when non-zero it derives
// the detection threshold through the piecewise mapping and takes precedence
// over Threshold. Zero means "use Threshold directly".
type Settings struct {
	Threshold             float64         `json:"threshold"`
	Sensitivity           float64         `json:"sensitivity"`
	SensitivityMultiplier float64         `json:"sensitivity_multiplier"`
	CooldownMS            int             `json:"cooldown_ms"`
	CalibrationMode       CalibrationMode `json:"calibration_mode"`
	CalibrationSamples    int             `json:"calibration_samples"`
	CalibrationMS         int             `json:"calibration_ms"`
	AutoThreshold         bool            `json:"auto_threshold"`
	AutoThresholdTarget   float64         `json:"auto_threshold_target"`
	MinValue              float64         `json:"min_value"`
	MaxValue              float64         `json:"max_value"`
	SmoothingWindow       int             `json:"smoothing_window"`
}

// Cooldown returns the cooldown as a duration.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownMS) * time.Millisecond
}

// CalibrationDuration returns the duration-mode target as a duration.
func (s Settings) CalibrationDuration() time.Duration {
	return time.Duration(s.CalibrationMS) * time.Millisecond
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		Threshold:             0.05,
		SensitivityMultiplier: 1.0,
		CooldownMS:            500,
		CalibrationMode:       CalibrationModeSamples,
		CalibrationSamples:    60,
		CalibrationMS:         2000,
		AutoThreshold:         false,
		AutoThresholdTarget:   0.5,
		MinValue:              0.0,
		MaxValue:              1.0,
		SmoothingWindow:       5,
	}
}

// validate clamps out-of-range fields back to usable values rather than
// rejecting the whole file.
func (s *Settings) validate() {
	def := Default()
	if s.Threshold <= 0 || s.Threshold > 1 {
		s.Threshold = def.Threshold
	}
	if s.Sensitivity < 0 {
		s.Sensitivity = 0
	}
	if s.Sensitivity > 1 {
		s.Sensitivity = 1
	}
	if s.SensitivityMultiplier <= 0 {
		s.SensitivityMultiplier = def.SensitivityMultiplier
	}
	if s.CooldownMS <= 0 {
		s.CooldownMS = def.CooldownMS
	}
	if s.CalibrationMode != CalibrationModeSamples && s.CalibrationMode != CalibrationModeDuration {
		s.CalibrationMode = def.CalibrationMode
	}
	if s.CalibrationSamples <= 0 {
		s.CalibrationSamples = def.CalibrationSamples
	}
	if s.CalibrationMS <= 0 {
		s.CalibrationMS = def.CalibrationMS
	}
	if s.AutoThresholdTarget <= 0 {
		s.AutoThresholdTarget = def.AutoThresholdTarget
	}
	if s.MinValue < 0 || s.MinValue >= 1 {
		s.MinValue = def.MinValue
	}
	if s.MaxValue <= s.MinValue || s.MaxValue > 1 {
		s.MaxValue = def.MaxValue
	}
	if s.SmoothingWindow <= 0 {
		s.SmoothingWindow = def.SmoothingWindow
	}
}

// Store loads, persists and broadcasts settings. Watchers are notified with
// a full settings copy after every accepted update.
type Store struct {
	mu       sync.Mutex
	path     string
	settings Settings
	watchers []func(Settings)
}

// Load loads settings from the config file. Returns a store with defaults if
// the file doesn't exist.
func Load() (*Store, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFrom(path)
}

// LoadFrom loads settings from an explicit path.
func LoadFrom(path string) (*Store, error) {
	st := &Store{path: path, settings: Default()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	s.validate()
	st.settings = s
	return st, nil
}

// Save persists the current settings to disk.
func (st *Store) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.save()
}

// save writes the file. Caller holds the lock.
func (st *Store) save() error {
	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(st.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(st.path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Settings returns a copy of the current settings.
func (st *Store) Settings() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.settings
}

// Update applies fn to a copy of the settings, validates, persists and
// notifies watchers with the result.
func (st *Store) Update(fn func(*Settings)) error {
	st.mu.Lock()
	s := st.settings
	fn(&s)
	s.validate()
	st.settings = s
	err := st.save()
	watchers := make([]func(Settings), len(st.watchers))
	copy(watchers, st.watchers)
	st.mu.Unlock()

	if err != nil {
		return err
	}
	for _, w := range watchers {
		w(s)
	}
	return nil
}

// OnChange registers a watcher invoked after every accepted update.
func (st *Store) OnChange(fn func(Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.watchers = append(st.watchers, fn)
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}
