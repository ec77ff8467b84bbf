// Command soundsense runs the sound detection core against a synthetic
// signal or a remote WebRTC microphone and logs the events it produces.
package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/soundsense/soundsense/audiocapture"
	"github.com/soundsense/soundsense/config"
	"github.com/soundsense/soundsense/internal/app"
	"github.com/soundsense/soundsense/internal/types"
	"github.com/soundsense/soundsense/store"
)

var version = "dev"

func main() {
	input := flag.String("input", "synthetic", "audio source: synthetic or remote")
	level := flag.String("log", "info", "log level: debug, info, warn, error")
	calibrate := flag.Bool("calibrate", true, "run a calibration session at startup")
	flag.Parse()

	setupLogging(*level)
	slog.Info("soundsense starting", "version", version, "input", *input)

	if err := run(*input, *calibrate); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(input string, calibrate bool) error {
	settings, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		settings, _ = config.LoadFrom(filepath.Join(os.TempDir(), "soundsense-config.json"))
	}

	st, err := openStore()
	if err != nil {
		// Persistence is optional for the demo; run without it.
		slog.Warn("open store", "error", err)
	}

	capture, synthetic, err := newCapture(input)
	if err != nil {
		return err
	}

	service, err := app.New(app.Options{
		Settings: settings,
		Store:    st,
		Capture:  capture,
	})
	if err != nil {
		return err
	}
	defer service.Shutdown()

	service.AddReactor(app.LogReactor{})

	if err := service.Start(); err != nil {
		return err
	}

	// Remote mode needs the peer's SDP offer before audio flows.
	if remote, ok := capture.(*audiocapture.Remote); ok {
		if err := exchangeSDP(remote); err != nil {
			return err
		}
	}

	// Calibration runs from Ready; detection starts once the session ends,
	// whether or not it produced a baseline.
	if calibrate {
		startDetection := func(any) { service.Run() }
		service.Bus().SubscribeOnce(types.EventCalibrationCompleted, startDetection)
		service.Bus().SubscribeOnce(types.EventCalibrationFailed, startDetection)
		service.Calibrate()
	} else {
		service.Run()
	}

	stop := make(chan struct{})
	if synthetic != nil {
		go burstLoop(synthetic, stop)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	close(stop)
	slog.Info("shutting down")
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func openStore() (*store.Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("get config dir: %w", err)
	}
	return store.New(filepath.Join(dir, "soundsense", "state"))
}

func newCapture(input string) (audiocapture.Capturer, *audiocapture.Synthetic, error) {
	switch input {
	case "synthetic":
		s := audiocapture.NewSynthetic(audiocapture.SyntheticConfig{
			Seed: time.Now().UnixNano(),
		})
		return s, s, nil
	case "remote":
		r, err := audiocapture.NewRemote()
		if err != nil {
			return nil, nil, fmt.Errorf("create remote capture: %w", err)
		}
		return r, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown input: %s", input)
	}
}

// exchangeSDP reads a base64 SDP offer from stdin and prints the base64
// answer, the minimal signaling a remote peer needs.
func exchangeSDP(remote *audiocapture.Remote) error {
	fmt.Fprintln(os.Stderr, "paste base64 SDP offer, then press enter:")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	if !scanner.Scan() {
		return fmt.Errorf("read offer: %w", scanner.Err())
	}

	offer, err := base64.StdEncoding.DecodeString(scanner.Text())
	if err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}

	answer, err := remote.Accept(string(offer))
	if err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}

	fmt.Println(base64.StdEncoding.EncodeToString([]byte(answer)))
	return nil
}

// burstLoop fires random loud bursts into the synthetic source so the demo
// has something to detect.
func burstLoop(s *audiocapture.Synthetic, stop chan struct{}) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-stop:
			return
		case <-time.After(time.Duration(2+rng.Intn(4)) * time.Second):
			amp := 0.3 + rng.Float64()*0.5
			s.Burst(amp, 150*time.Millisecond)
		}
	}
}
