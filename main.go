package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"refuge/audio"
	"refuge/beep"
	"refuge/clipboard"
	"refuge/config"
	"refuge/doctor"
	"refuge/hotkey"
	"refuge/live"
	"refuge/log"
	"refuge/metrics"
	"refuge/session"
	"refuge/shutdown"
)

var version = "dev"

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

// appControls adapts app to the TUI key actions.
type appControls struct {
	ctx context.Context
	a   *app
}

func (c appControls) toggle() {
	if err := c.a.toggle(c.ctx); err != nil {
		log.Warnf("toggle: %v", err)
	}
}

func (c appControls) copyLast() {
	if err := c.a.copyLast(); err != nil {
		log.Warnf("copy last turn: %v", err)
	}
}

// driveHotkey maps chord gestures onto the link.
func driveHotkey(ctx context.Context, a *app, hy *hotkey.Hybrid) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-hy.Events():
			switch ev.Action {
			case hotkey.ActionStart:
				if a.mgr.State() == session.Idle {
					go a.start(ctx)
				}
			case hotkey.ActionStop:
				a.stop()
			}
		}
	}
}

func run() int {
	configFlag := flag.String("config", "", "YAML config file (default: <user config dir>/refuge/config.yaml)")
	voiceFlag := flag.String("voice", "", "Voice: Zephyr, Puck, Charon, Kore or Fenrir")
	modeFlag := flag.String("mode", "", "Mode: standard, translator or crisis_support")
	modelFlag := flag.String("model", "", "Live model name")
	endpointFlag := flag.String("endpoint", "", "Live websocket endpoint")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	recordFlag := flag.String("record", "", "Directory to record outgoing microphone audio as FLAC")
	metricsFlag := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g., :9090)")
	hotkeyFlag := flag.String("hotkey", hotkey.DefaultChord, "Global hotkey chord (tap toggles, hold talks)")
	noHotkeyFlag := flag.Bool("nohotkey", false, "Disable the global hotkey")
	longPressFlag := flag.Duration("longpress", 350*time.Millisecond, "Hold threshold for hold-to-talk vs tap")
	noBeepFlag := flag.Bool("nobeep", false, "Disable connect/disconnect chimes")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI (otherwise print events as lines)")
	debugFlag := flag.Bool("debug", false, "Debug level diagnostics log")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, WAV file as microphone)")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("refuge %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "voice":
			cfg.Voice = *voiceFlag
		case "mode":
			cfg.Mode = *modeFlag
		case "model":
			cfg.Model = *modelFlag
		case "endpoint":
			cfg.Endpoint = *endpointFlag
		case "device":
			cfg.Device = *deviceFlag
		case "record":
			cfg.RecordPath = *recordFlag
		case "metrics":
			cfg.MetricsAddr = *metricsFlag
		case "logpath":
			cfg.LogPath = *logPathFlag
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	settings, _ := cfg.Settings()

	chord, err := hotkey.ParseChord(*hotkeyFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}
	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if *debugFlag {
		log.SetLevel(zerolog.DebugLevel)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	dialer := &live.Dialer{
		Endpoint:     cfg.Endpoint,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
	}

	if *doctorFlag {
		return doctor.Run(ctx, os.Stdout, doctor.Standard(doctor.Options{
			Device:   cfg.Device,
			Chord:    chord,
			Dialer:   dialer,
			Settings: settings,
			SkipLink: cfg.APIKey == "",
		}))
	}

	m := metrics.New(nil)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	chimes := beep.NewPlayer(nil)
	if *noBeepFlag || *testFlag {
		chimes.Disable()
	}

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: refuge -test <wav-file>")
			return 1
		}
		return runTestMode(ctx, args[0], dialer, cfg, settings, m)
	}

	dev, err := resolveDevice(cfg.Device, *setupFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using default device\n", err)
	}

	a := newApp(settings, chimes, clipboard.System{})
	a.mgr = session.New(session.Config{
		Dialer:    dialer,
		Device:    dev,
		Callbacks: a.callbacks(),
		Metrics:   m,
		Model:     cfg.Model,
		Record:    recorder(cfg.RecordPath),
	})
	defer a.stop()

	if !*noHotkeyFlag {
		hk := hotkey.New(chord)
		if err := hk.Register(); err != nil {
			log.Warnf("hotkey unavailable: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: hotkey unavailable: %v\n", err)
		} else {
			defer hk.Unregister()
			go driveHotkey(ctx, a, hotkey.NewHybrid(ctx, hk, *longPressFlag))
		}
	}

	if !*tuiFlag {
		a.setSink(&lineSink{w: os.Stdout})
		if err := a.start(ctx); err != nil {
			return 1
		}
		<-ctx.Done()
		return 0
	}

	model := newTUIModel(appControls{ctx: ctx, a: a}, headerText(settings), deviceLineText(dev), chord.String())
	p := NewTUIProgram(model)
	a.setSink(tuiSink{p: p})
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		return 1
	}
	return 0
}

// resolveDevice picks the microphone by name or interactively. nil means
// the system default.
func resolveDevice(name string, setup bool) (*audio.DeviceInfo, error) {
	if name == "" && !setup {
		return nil, nil
	}
	ctx, err := audio.NewContext()
	if err != nil {
		return nil, err
	}
	defer ctx.Close()
	if name != "" {
		return audio.FindDevice(ctx, name)
	}
	return audio.SelectDevice(ctx)
}
