package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"refuge/audio"
	"refuge/clipboard"
	"refuge/config"
	"refuge/live"
	"refuge/log"
	"refuge/metrics"
	"refuge/session"
)

const testWait = 15 * time.Second

// runTestMode drives a real link headlessly: the WAV file plays as the
// microphone, events print as lines on stdout, and stdin carries commands.
func runTestMode(ctx context.Context, wavPath string, dialer session.Dialer, cfg *config.Config, settings live.Settings, m *metrics.Metrics) int {
	if _, err := audio.NewWAVContext(wavPath, true); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	a := newApp(settings, nil, &clipboard.Fake{})
	a.setSink(&lineSink{w: os.Stdout})
	a.mgr = session.New(session.Config{
		Dialer:    dialer,
		NewAudio:  func() (audio.Context, error) { return audio.NewWAVContext(wavPath, true) },
		Callbacks: a.callbacks(),
		Metrics:   m,
		Model:     cfg.Model,
		Record:    recorder(cfg.RecordPath),
	})
	defer a.stop()

	return drive(ctx, a, os.Stdin, os.Stdout)
}

// drive executes one command per input line until QUIT, EOF or ctx ends.
func drive(ctx context.Context, a *app, in io.Reader, out io.Writer) int {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		var cmd string
		select {
		case <-ctx.Done():
			return 0
		case l, ok := <-lines:
			if !ok {
				return 0
			}
			cmd = l
		}

		switch {
		case cmd == "":
		case cmd == "START":
			go a.start(ctx)
		case cmd == "STOP":
			a.stop()
		case cmd == "WAIT_ACTIVE":
			if !waitState(ctx, a.active, true) {
				fmt.Fprintln(out, "TIMEOUT WAIT_ACTIVE")
				return 1
			}
		case cmd == "WAIT_IDLE":
			if !waitState(ctx, a.active, false) {
				fmt.Fprintln(out, "TIMEOUT WAIT_IDLE")
				return 1
			}
		case cmd == "WAIT_TURN":
			select {
			case <-a.turns:
			case <-time.After(testWait):
				fmt.Fprintln(out, "TIMEOUT WAIT_TURN")
				return 1
			case <-ctx.Done():
				return 0
			}
		case cmd == "COPY":
			a.copyLast()
		case cmd == "STATS":
			s := a.mgr.Stats()
			fmt.Fprintf(out, "STATS sent=%d segments=%d turns=%d\n", s.FramesSent, s.Segments, s.Turns)
		case cmd == "QUIT":
			return 0
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[6:]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		default:
			log.Warnf("test mode: unknown command %q", cmd)
			fmt.Fprintf(out, "UNKNOWN %s\n", cmd)
		}
	}
}

func waitState(ctx context.Context, ch <-chan bool, want bool) bool {
	timeout := time.After(testWait)
	for {
		select {
		case got := <-ch:
			if got == want {
				return true
			}
		case <-timeout:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
