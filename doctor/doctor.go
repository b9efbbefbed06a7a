// Package doctor checks that the machine can run a voice link: audio
// devices, hotkey access, clipboard, credentials and the remote endpoint.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"refuge/audio"
	"refuge/capture"
	"refuge/clipboard"
	"refuge/hotkey"
	"refuge/live"
)

// Check is one diagnostic. Run returns a short detail line on success.
type Check struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (string, error)
}

type Result struct {
	Name   string
	Detail string
	Err    error
}

// RunChecks runs every check concurrently and returns results in input order.
func RunChecks(ctx context.Context, checks []Check) []Result {
	results := make([]Result, len(checks))
	g, ctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			cctx := ctx
			if c.Timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, c.Timeout)
				defer cancel()
			}
			detail, err := c.Run(cctx)
			results[i] = Result{Name: c.Name, Detail: detail, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// Run prints a report for checks to w and returns an exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, w io.Writer, checks []Check) int {
	fmt.Fprintln(w, "refuge doctor - system diagnostics")
	fmt.Fprintln(w, "==================================")

	code := 0
	for i, r := range RunChecks(ctx, checks) {
		fmt.Fprintf(w, "\n[%d/%d] %s\n", i+1, len(checks), r.Name)
		if r.Err != nil {
			fmt.Fprintf(w, "  FAIL: %v\n", r.Err)
			if hint := hintFor(r.Err); hint != "" {
				fmt.Fprintf(w, "  %s\n", hint)
			}
			code = 1
			continue
		}
		fmt.Fprintf(w, "  PASS: %s\n", r.Detail)
	}

	fmt.Fprintln(w)
	if code == 0 {
		fmt.Fprintln(w, "All checks passed!")
	} else {
		fmt.Fprintln(w, "Some checks failed. See details above.")
	}
	return code
}

func hintFor(err error) string {
	var pe *audio.PermissionError
	switch {
	case errors.As(err, &pe):
		return "Grant microphone access to the terminal and retry."
	case errors.Is(err, live.ErrMissingAPIKey):
		return "Set GEMINI_API_KEY or api_key in the config file."
	case errors.Is(err, clipboard.ErrUnsupported):
		return "Install xclip, xsel or wl-clipboard."
	}
	return ""
}

type Dialer interface {
	Validate() error
	Dial(ctx context.Context, s live.Settings) (live.Conn, error)
}

type Options struct {
	NewAudio func() (audio.Context, error)
	Device   string
	Chord    hotkey.Chord
	Dialer   Dialer
	Settings live.Settings
	// Listen is how long the microphone check records.
	Listen time.Duration
	// SkipLink leaves out the check that opens a real link.
	SkipLink bool
}

// Standard returns the default set of checks.
func Standard(o Options) []Check {
	if o.NewAudio == nil {
		o.NewAudio = audio.NewContext
	}
	if o.Listen <= 0 {
		o.Listen = time.Second
	}
	checks := []Check{
		{Name: "Microphone", Timeout: o.Listen + 5*time.Second, Run: func(ctx context.Context) (string, error) {
			return checkMicrophone(ctx, o.NewAudio, o.Device, o.Listen)
		}},
		{Name: "Speaker", Timeout: 5 * time.Second, Run: func(context.Context) (string, error) {
			return checkSpeaker(o.NewAudio)
		}},
		{Name: "Hotkey", Run: func(context.Context) (string, error) {
			return hotkey.Diagnose(o.Chord)
		}},
		{Name: "Clipboard", Run: func(context.Context) (string, error) {
			if !clipboard.Available() {
				return "", clipboard.ErrUnsupported
			}
			return "clipboard utility found", nil
		}},
		{Name: "API key", Run: func(context.Context) (string, error) {
			if err := o.Dialer.Validate(); err != nil {
				return "", err
			}
			return "present", nil
		}},
	}
	if !o.SkipLink {
		checks = append(checks, Check{Name: "Live link", Timeout: 15 * time.Second, Run: func(ctx context.Context) (string, error) {
			return checkLink(ctx, o.Dialer, o.Settings)
		}})
	}
	return checks
}

func checkMicrophone(ctx context.Context, open func() (audio.Context, error), name string, listen time.Duration) (string, error) {
	ac, err := open()
	if err != nil {
		return "", audio.Classify("open audio", err)
	}
	defer ac.Close()

	dev, err := audio.FindDevice(ac, name)
	if err != nil {
		return "", err
	}
	cd, err := ac.NewCapture(dev, audio.Config{SampleRate: capture.SampleRate, Channels: 1})
	if err != nil {
		return "", audio.Classify("open microphone", err)
	}
	defer cd.Close()

	var mu sync.Mutex
	var samples int
	var peak float64
	cd.SetCallback(func(block []float32) {
		mu.Lock()
		defer mu.Unlock()
		samples += len(block)
		for _, s := range block {
			peak = math.Max(peak, math.Abs(float64(s)))
		}
	})
	if err := cd.Start(); err != nil {
		return "", audio.Classify("start microphone", err)
	}

	select {
	case <-time.After(listen):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	cd.ClearCallback()
	cd.Stop()

	mu.Lock()
	defer mu.Unlock()
	if samples == 0 {
		return "", fmt.Errorf("no audio captured from %s", cd.DeviceName())
	}
	return fmt.Sprintf("%s: %d samples, peak %.0f dBFS", cd.DeviceName(), samples, dbfs(peak)), nil
}

func dbfs(peak float64) float64 {
	if peak <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(peak)
}

func checkSpeaker(open func() (audio.Context, error)) (string, error) {
	ac, err := open()
	if err != nil {
		return "", audio.Classify("open audio", err)
	}
	defer ac.Close()
	pd, err := ac.NewPlayback(audio.Config{SampleRate: 24000, Channels: 1})
	if err != nil {
		return "", audio.Classify("open speaker", err)
	}
	defer pd.Close()
	if err := pd.Start(); err != nil {
		return "", audio.Classify("start speaker", err)
	}
	pd.Stop()
	return "24 kHz mono output available", nil
}

func checkLink(ctx context.Context, d Dialer, s live.Settings) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	start := time.Now()
	conn, err := d.Dial(ctx, s)
	if err != nil {
		return "", err
	}
	conn.Close()
	return fmt.Sprintf("setup confirmed in %v", time.Since(start).Round(time.Millisecond)), nil
}
