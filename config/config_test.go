package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func TestLoadFromMissingFile(t *testing.T) {
	st, err := LoadFrom(testPath(t))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if got, want := st.Settings(), Default(); got != want {
		t.Errorf("settings = %+v, want defaults %+v", got, want)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := testPath(t)

	st, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	update := func(s *Settings) {
		s.Threshold = 0.12
		s.CooldownMS = 750
		s.CalibrationMode = CalibrationModeDuration
		s.AutoThreshold = true
	}
	if err := st.Update(update); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom after save: %v", err)
	}
	s := reloaded.Settings()
	if s.Threshold != 0.12 {
		t.Errorf("Threshold = %v, want 0.12", s.Threshold)
	}
	if s.Cooldown() != 750*time.Millisecond {
		t.Errorf("Cooldown = %v, want 750ms", s.Cooldown())
	}
	if s.CalibrationMode != CalibrationModeDuration {
		t.Errorf("CalibrationMode = %q, want duration", s.CalibrationMode)
	}
	if !s.AutoThreshold {
		t.Error("AutoThreshold lost on reload")
	}
}

func TestLoadFromMalformedJSON(t *testing.T) {
	path := testPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("LoadFrom accepted malformed JSON")
	}
}

func TestValidateClampsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		check  func(t *testing.T, s Settings)
	}{
		{
			name:   "negative threshold",
			mutate: func(s *Settings) { s.Threshold = -1 },
			check: func(t *testing.T, s Settings) {
				if s.Threshold != Default().Threshold {
					t.Errorf("Threshold = %v, want default", s.Threshold)
				}
			},
		},
		{
			name:   "threshold above one",
			mutate: func(s *Settings) { s.Threshold = 2 },
			check: func(t *testing.T, s Settings) {
				if s.Threshold != Default().Threshold {
					t.Errorf("Threshold = %v, want default", s.Threshold)
				}
			},
		},
		{
			name:   "sensitivity outside unit range",
			mutate: func(s *Settings) { s.Sensitivity = 3 },
			check: func(t *testing.T, s Settings) {
				if s.Sensitivity != 1 {
					t.Errorf("Sensitivity = %v, want clamped to 1", s.Sensitivity)
				}
			},
		},
		{
			name:   "negative sensitivity",
			mutate: func(s *Settings) { s.Sensitivity = -0.5 },
			check: func(t *testing.T, s Settings) {
				if s.Sensitivity != 0 {
					t.Errorf("Sensitivity = %v, want clamped to 0", s.Sensitivity)
				}
			},
		},
		{
			name:   "zero cooldown",
			mutate: func(s *Settings) { s.CooldownMS = 0 },
			check: func(t *testing.T, s Settings) {
				if s.CooldownMS != Default().CooldownMS {
					t.Errorf("CooldownMS = %v, want default", s.CooldownMS)
				}
			},
		},
		{
			name:   "unknown calibration mode",
			mutate: func(s *Settings) { s.CalibrationMode = "guesswork" },
			check: func(t *testing.T, s Settings) {
				if s.CalibrationMode != CalibrationModeSamples {
					t.Errorf("CalibrationMode = %q, want samples", s.CalibrationMode)
				}
			},
		},
		{
			name:   "inverted normalization range",
			mutate: func(s *Settings) { s.MinValue = 0.5; s.MaxValue = 0.2 },
			check: func(t *testing.T, s Settings) {
				if s.MaxValue <= s.MinValue {
					t.Errorf("range still inverted: [%v, %v]", s.MinValue, s.MaxValue)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := LoadFrom(testPath(t))
			if err != nil {
				t.Fatalf("LoadFrom: %v", err)
			}
			if err := st.Update(tt.mutate); err != nil {
				t.Fatalf("Update: %v", err)
			}
			tt.check(t, st.Settings())
		})
	}
}

func TestOnChangeNotified(t *testing.T) {
	st, err := LoadFrom(testPath(t))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	var got []Settings
	st.OnChange(func(s Settings) { got = append(got, s) })

	if err := st.Update(func(s *Settings) { s.Threshold = 0.2 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := st.Update(func(s *Settings) { s.CooldownMS = 250 }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("watcher called %d times, want 2", len(got))
	}
	if got[0].Threshold != 0.2 {
		t.Errorf("first notification Threshold = %v, want 0.2", got[0].Threshold)
	}
	if got[1].CooldownMS != 250 {
		t.Errorf("second notification CooldownMS = %v, want 250", got[1].CooldownMS)
	}
	// The watcher sees validated values, not the raw mutation.
	if got[1].Threshold != 0.2 {
		t.Errorf("second notification lost earlier update: Threshold = %v", got[1].Threshold)
	}
}

func TestUpdatePersistsToDisk(t *testing.T) {
	path := testPath(t)
	st, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if err := st.Update(func(s *Settings) { s.SmoothingWindow = 9 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
}
