package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       atomic.Bool
	level          = zerolog.InfoLevel
	pid            int
	dir            string
)

// SessionStats summarises one voice link for the session_end event.
type SessionStats struct {
	ID             string
	Voice          string
	Mode           string
	Duration       time.Duration
	FramesSent     int
	FramesDropped  int
	SendErrors     int
	Segments       int
	DecodeErrors   int
	Interruptions  int
	TurnsCompleted int
}

func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if envPath := os.Getenv("REFUGE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetLevel sets the diagnostics threshold. It takes effect at the next Init.
func SetLevel(l zerolog.Level) {
	logMu.Lock()
	level = l
	logMu.Unlock()
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, "diagnostics_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	transcriptFile, err = os.OpenFile(filepath.Join(dir, "transcript_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady.Store(true)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
}

func Debug(msg string) {
	if logReady.Load() {
		diagLog.Debug().Msg(msg)
	}
}

func Debugf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady.Load() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady.Load() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady.Load() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady.Load() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(id, voice, mode, model string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("voice", voice).
		Str("mode", mode).
		Str("model", model).
		Msg("session_start")
}

func SessionEnd(s SessionStats) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("session", s.ID).
		Str("voice", s.Voice).
		Str("mode", s.Mode).
		Float64("duration_s", s.Duration.Seconds()).
		Int("frames_sent", s.FramesSent).
		Int("frames_dropped", s.FramesDropped).
		Int("send_errors", s.SendErrors).
		Int("segments", s.Segments).
		Int("decode_errors", s.DecodeErrors).
		Int("interruptions", s.Interruptions).
		Int("turns", s.TurnsCompleted).
		Msg("session_end")
}

// LinkEvent records a transport-level event such as goAway or a close code.
func LinkEvent(id, event, detail string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("event", event).
		Str("detail", detail).
		Msg("link")
}

// TurnText appends a completed turn to transcript_log.txt.
func TurnText(user, assistant string) {
	if !logReady.Load() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s\t[%d]\tuser\t%s\n%s\t[%d]\tassistant\t%s\n", ts, pid, user, ts, pid, assistant)
	transcriptFile.WriteString(line)
}

// Diagnostics routes leveled printf-style logging into the diagnostics log.
type Diagnostics struct{}

func (Diagnostics) Debugf(format string, args ...any) { Debugf(format, args...) }
func (Diagnostics) Infof(format string, args ...any)  { Infof(format, args...) }
func (Diagnostics) Warnf(format string, args ...any)  { Warnf(format, args...) }
func (Diagnostics) Errorf(format string, args ...any) { Errorf(format, args...) }
