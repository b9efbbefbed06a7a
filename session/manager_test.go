package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refuge/audio"
	"refuge/encoder"
	"refuge/live"
)

const waitFor = 2 * time.Second

type logLine struct {
	msg   string
	level Level
}

type transcript struct {
	text string
	role Role
}

// recorder collects every callback the manager delivers.
type recorder struct {
	mu          sync.Mutex
	states      []bool
	logs        []logLine
	transcripts []transcript
	turns       [][2]string
	onState     func(active bool)
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnTranscription: func(text string, role Role) {
			r.mu.Lock()
			r.transcripts = append(r.transcripts, transcript{text, role})
			r.mu.Unlock()
		},
		OnTurnComplete: func(user, assistant string) {
			r.mu.Lock()
			r.turns = append(r.turns, [2]string{user, assistant})
			r.mu.Unlock()
		},
		OnLog: func(msg string, level Level) {
			r.mu.Lock()
			r.logs = append(r.logs, logLine{msg, level})
			r.mu.Unlock()
		},
		OnStateChange: func(active bool) {
			r.mu.Lock()
			r.states = append(r.states, active)
			hook := r.onState
			r.mu.Unlock()
			if hook != nil {
				hook(active)
			}
		},
	}
}

func (r *recorder) stateChanges() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func (r *recorder) logsAt(level Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.logs {
		if l.level == level {
			out = append(out, l.msg)
		}
	}
	return out
}

func (r *recorder) countLog(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.logs {
		if l.msg == msg {
			n++
		}
	}
	return n
}

func (r *recorder) transcriptList() []transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transcript(nil), r.transcripts...)
}

func (r *recorder) turnList() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.turns...)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// lineLogger keeps formatted Infof lines.
type lineLogger struct {
	nopLogger
	mu    sync.Mutex
	infos []string
}

func (l *lineLogger) Infof(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(format, args...))
}

func (l *lineLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.infos {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

type harness struct {
	m      *Manager
	dialer *live.FakeDialer
	rec    *recorder

	mu         sync.Mutex
	contexts   []*audio.FakeContext
	captureErr error
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{dialer: &live.FakeDialer{}, rec: &recorder{}}
	cfg := Config{
		Dialer:    h.dialer,
		NewAudio:  h.newAudio,
		Callbacks: h.rec.callbacks(),
		Logger:    nopLogger{},
		Model:     live.DefaultModel,
	}
	for _, o := range opts {
		o(&cfg)
	}
	h.m = New(cfg)
	t.Cleanup(h.m.Stop)
	return h
}

func (h *harness) newAudio() (audio.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := audio.NewFakeContext()
	// only the microphone context opens a capture device
	if len(h.contexts)%2 == 0 {
		c.CaptureErr = h.captureErr
	}
	h.contexts = append(h.contexts, c)
	return c, nil
}

func (h *harness) audioContexts() []*audio.FakeContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*audio.FakeContext(nil), h.contexts...)
}

func (h *harness) openContexts() int {
	n := 0
	for _, c := range h.audioContexts() {
		if !c.Closed() {
			n++
		}
	}
	return n
}

// mic returns the capture device of the most recent session.
func (h *harness) mic(t *testing.T) *audio.FakeCapture {
	t.Helper()
	ctxs := h.audioContexts()
	require.GreaterOrEqual(t, len(ctxs), 2)
	caps := ctxs[len(ctxs)-2].Captures()
	require.Len(t, caps, 1)
	return caps[0]
}

func settings(v Voice, m Mode) Settings { return Settings{Voice: v, Mode: m} }

// halfSecond is 0.5 s of 24 kHz mono PCM16.
func halfSecond() []byte { return make([]byte, 12000*2) }

func TestStartActivates(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeTranslator)))

	assert.True(t, h.m.Active())
	assert.Equal(t, []bool{true}, h.rec.stateChanges())
	assert.Equal(t, []string{"Voice Link established: Kore"}, h.rec.logsAt(LevelSuccess))
	assert.Equal(t, []Settings{settings(live.VoiceKore, live.ModeTranslator)}, h.dialer.Settings())
	assert.Equal(t, 2, h.openContexts())
	assert.NotEmpty(t, h.m.Stats().ID)
}

func TestResponseAudioPlaysBackToBack(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeTranslator)))
	conn := h.dialer.Last()

	for range 3 {
		conn.Push(live.AudioMessage(halfSecond()))
	}
	sched := h.m.Scheduler()
	require.Eventually(t, func() bool { return len(sched.Starts()) == 3 }, waitFor, 5*time.Millisecond)

	assert.Equal(t, []float64{0, 0.5, 1.0}, sched.Starts())
	assert.Equal(t, 1.5, sched.Cursor())
	assert.Equal(t, 3, h.m.Stats().Segments)
}

func TestInterruptedFlushesPlayback(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoicePuck, live.ModeStandard)))
	conn := h.dialer.Last()
	sched := h.m.Scheduler()

	conn.Push(live.AudioMessage(halfSecond()))
	conn.Push(live.AudioMessage(halfSecond()))
	require.Eventually(t, func() bool { return sched.Active() == 2 }, waitFor, 5*time.Millisecond)

	conn.Push(live.Interrupted())
	require.Eventually(t, func() bool { return sched.Active() == 0 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0.0, sched.Cursor())
	assert.Equal(t, 1, h.m.Stats().Interruptions)
	assert.True(t, h.m.Active())
}

func TestTranscriptsAggregatePerTurn(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceZephyr, live.ModeStandard)))
	conn := h.dialer.Last()

	conn.Push(live.InputText("Hel"))
	conn.Push(live.InputText("lo"))
	conn.Push(live.TurnComplete())
	require.Eventually(t, func() bool { return len(h.rec.turnList()) == 1 }, waitFor, 5*time.Millisecond)

	assert.Equal(t, [][2]string{{"Hello", ""}}, h.rec.turnList())
	assert.Equal(t, []transcript{{"Hel", RoleUser}, {"Hello", RoleUser}}, h.rec.transcriptList())

	conn.Push(live.OutputText("Bye"))
	conn.Push(live.TurnComplete())
	require.Eventually(t, func() bool { return len(h.rec.turnList()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, [2]string{"", "Bye"}, h.rec.turnList()[1])
	assert.Equal(t, 2, h.m.Stats().Turns)
}

func TestMalformedAudioIsDropped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceFenrir, live.ModeStandard)))
	conn := h.dialer.Last()

	conn.Push(&live.ServerMessage{ServerContent: &live.ServerContent{ModelTurn: &live.ModelTurn{
		Parts: []live.Part{{InlineData: &live.Blob{MIMEType: "audio/pcm;rate=24000", Data: "!!!"}}},
	}}})
	conn.Push(live.AudioMessage(halfSecond()))

	require.Eventually(t, func() bool { return h.m.Stats().Segments == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, h.m.Stats().DecodeErrors)
	assert.Equal(t, []float64{0}, h.m.Scheduler().Starts())
	assert.True(t, h.m.Active())
	assert.Empty(t, h.rec.logsAt(LevelError))
}

func TestMicrophoneFramesReachLink(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceCharon, live.ModeStandard)))
	conn := h.dialer.Last()
	mic := h.mic(t)

	assert.Equal(t, audio.Config{SampleRate: 16000, Channels: 1}, mic.Config())
	require.True(t, mic.Emit(make([]float32, 4096)))
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "audio/pcm;rate=16000", conn.Sent()[0].MIMEType)

	h.m.Stop()
	assert.False(t, mic.Emit(make([]float32, 4096)))
	assert.True(t, mic.Closed())
	assert.Len(t, conn.Sent(), 1)
	assert.Equal(t, 1, h.m.Stats().FramesSent)
}

func TestStopReleasesEverything(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	conn := h.dialer.Last()
	conn.Push(live.AudioMessage(halfSecond()))
	require.Eventually(t, func() bool { return h.m.Scheduler().Active() == 1 }, waitFor, 5*time.Millisecond)

	h.m.Stop()

	assert.Equal(t, Idle, h.m.State())
	assert.Equal(t, []bool{true, false}, h.rec.stateChanges())
	assert.Equal(t, 1, h.rec.countLog("Voice Link disconnected."))
	assert.Equal(t, 1, conn.CloseCalls())
	assert.Equal(t, 0, h.openContexts())
	assert.Equal(t, 0, h.m.Scheduler().Active())
	for _, c := range h.audioContexts() {
		for _, p := range c.Playbacks() {
			assert.True(t, p.Closed())
		}
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.m.Stop()
	h.m.Stop()
	assert.Empty(t, h.rec.stateChanges())
	assert.Zero(t, h.rec.countLog("Voice Link disconnected."))
}

func TestConcurrentStopTearsDownOnce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	conn := h.dialer.Last()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.m.Stop()
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return h.m.State() == Idle }, waitFor, 5*time.Millisecond)

	assert.Equal(t, 1, conn.CloseCalls())
	assert.Equal(t, []bool{true, false}, h.rec.stateChanges())
	assert.Equal(t, 1, h.rec.countLog("Voice Link disconnected."))
	assert.Equal(t, 0, h.openContexts())
}

func TestRestartReplacesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx, settings(live.VoiceKore, live.ModeStandard)))
	require.NoError(t, h.m.Start(ctx, settings(live.VoicePuck, live.ModeCrisis)))

	conns := h.dialer.Conns()
	require.Len(t, conns, 2)
	assert.True(t, conns[0].Closed())
	assert.False(t, conns[1].Closed())

	ctxs := h.audioContexts()
	require.Len(t, ctxs, 4)
	assert.True(t, ctxs[0].Closed())
	assert.True(t, ctxs[1].Closed())
	assert.False(t, ctxs[2].Closed())
	assert.False(t, ctxs[3].Closed())

	assert.Equal(t, []bool{true, false, true}, h.rec.stateChanges())
	assert.Equal(t, live.VoicePuck, h.m.Stats().Voice)
}

func TestConcurrentStartLeavesOneSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, v := range []Voice{live.VoiceKore, live.VoicePuck} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.m.Start(ctx, settings(v, live.ModeStandard))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrStartCanceled)
		}
	}
	assert.True(t, h.m.Active())

	open := 0
	for _, c := range h.dialer.Conns() {
		if !c.Closed() {
			open++
		}
	}
	assert.Equal(t, 1, open)
	assert.Equal(t, 2, h.openContexts())

	h.m.Stop()
	assert.Equal(t, 0, h.openContexts())
	for _, c := range h.dialer.Conns() {
		assert.True(t, c.Closed())
	}
}

func TestStaleLinkIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx, settings(live.VoiceKore, live.ModeStandard)))
	old := h.dialer.Last()
	require.NoError(t, h.m.Start(ctx, settings(live.VoiceKore, live.ModeStandard)))

	old.Push(live.InputText("ghost"))
	old.Push(live.AudioMessage(halfSecond()))
	assert.Never(t, func() bool {
		return len(h.rec.transcriptList()) > 0 || h.m.Scheduler().Active() > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, h.m.Active())
}

func TestMicrophoneDenied(t *testing.T) {
	h := newHarness(t)
	h.captureErr = os.ErrPermission

	err := h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard))
	var pe *audio.PermissionError
	require.ErrorAs(t, err, &pe)

	assert.Equal(t, Idle, h.m.State())
	assert.NotContains(t, h.rec.stateChanges(), true)
	errs := h.rec.logsAt(LevelError)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "Uplink failed: "), errs[0])
	assert.Equal(t, 0, h.openContexts())
	assert.Empty(t, h.dialer.Settings())
}

func TestMissingAPIKey(t *testing.T) {
	h := newHarness(t)
	h.dialer.ValidateErr = live.ErrMissingAPIKey

	err := h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard))
	require.ErrorIs(t, err, live.ErrMissingAPIKey)

	assert.Empty(t, h.audioContexts())
	assert.Equal(t, []string{"Uplink failed: " + live.ErrMissingAPIKey.Error()}, h.rec.logsAt(LevelError))
	assert.Empty(t, h.rec.stateChanges())
}

func TestInvalidSettings(t *testing.T) {
	h := newHarness(t)
	err := h.m.Start(context.Background(), settings("Nobody", live.ModeStandard))
	require.Error(t, err)
	assert.Empty(t, h.audioContexts())
	assert.Len(t, h.rec.logsAt(LevelError), 1)
}

func TestDialFailureReleasesAudio(t *testing.T) {
	h := newHarness(t)
	h.dialer.DialErr = &live.ConnectionError{Op: "dial", Status: 403, Err: errors.New("forbidden")}

	err := h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard))
	var ce *live.ConnectionError
	require.ErrorAs(t, err, &ce)

	assert.Equal(t, Idle, h.m.State())
	assert.Len(t, h.audioContexts(), 2)
	assert.Equal(t, 0, h.openContexts())
	assert.Len(t, h.rec.logsAt(LevelError), 1)
	assert.Empty(t, h.rec.stateChanges())
}

func TestStopDuringDialCancelsStart(t *testing.T) {
	h := newHarness(t)
	h.dialer.Gate = make(chan struct{})
	dialing := h.dialer.Dialing()

	errc := make(chan error, 1)
	go func() { errc <- h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)) }()

	select {
	case <-dialing:
	case <-time.After(waitFor):
		t.Fatal("dial never started")
	}
	h.m.Stop()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrStartCanceled)
	case <-time.After(waitFor):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, Idle, h.m.State())
	assert.Empty(t, h.rec.stateChanges())
	assert.Empty(t, h.rec.logsAt(LevelError))
	assert.Equal(t, 0, h.openContexts())
	assert.Empty(t, h.dialer.Conns())
}

func TestServerCloseEndsSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	h.dialer.Last().ServerClose()

	require.Eventually(t, func() bool {
		return len(h.rec.stateChanges()) == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, h.rec.stateChanges())
	assert.Equal(t, Idle, h.m.State())
	assert.Empty(t, h.rec.logsAt(LevelError))
	assert.Equal(t, 0, h.openContexts())
}

func TestTransportErrorEndsSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	h.dialer.Last().Fail(&live.ConnectionError{Op: "read", Code: 1011, Err: errors.New("internal")})

	require.Eventually(t, func() bool {
		return len(h.rec.stateChanges()) == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"Session sync error."}, h.rec.logsAt(LevelError))
	assert.Equal(t, Idle, h.m.State())
	assert.Equal(t, 0, h.openContexts())
}

func TestMalformedMessageKeepsLink(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	conn := h.dialer.Last()

	conn.Fail(&live.MessageError{Size: 3, Err: errors.New("bad json")})
	conn.Push(live.InputText("still here"))
	require.Eventually(t, func() bool { return len(h.rec.transcriptList()) == 1 }, waitFor, 5*time.Millisecond)
	assert.True(t, h.m.Active())
}

func TestGoAwayKeepsLink(t *testing.T) {
	lg := &lineLogger{}
	h := newHarness(t, func(c *Config) { c.Logger = lg })
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	conn := h.dialer.Last()

	conn.Push(&live.ServerMessage{GoAway: &live.GoAway{TimeLeft: "10s"}})
	conn.Push(live.OutputText("ok"))
	require.Eventually(t, func() bool { return len(h.rec.transcriptList()) == 1 }, waitFor, 5*time.Millisecond)
	assert.True(t, h.m.Active())
	assert.Equal(t, 1, lg.count("server going away"))
}

func TestGoAwayFromStaleLinkIsIgnored(t *testing.T) {
	lg := &lineLogger{}
	h := newHarness(t, func(c *Config) { c.Logger = lg })
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx, settings(live.VoiceKore, live.ModeStandard)))
	old := h.dialer.Last()
	require.NoError(t, h.m.Start(ctx, settings(live.VoiceKore, live.ModeStandard)))

	old.Push(&live.ServerMessage{GoAway: &live.GoAway{TimeLeft: "5s"}})
	assert.Never(t, func() bool { return lg.count("server going away") > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	h.m.Stop()
	h.dialer.Last().Push(&live.ServerMessage{GoAway: &live.GoAway{TimeLeft: "5s"}})
	assert.Never(t, func() bool { return lg.count("server going away") > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStopFromStateCallback(t *testing.T) {
	h := newHarness(t)
	h.rec.onState = func(active bool) {
		if active {
			h.m.Stop()
		}
	}

	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	require.Eventually(t, func() bool { return h.m.State() == Idle }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, h.rec.stateChanges())
	assert.Equal(t, 0, h.openContexts())
}

type memRecorder struct {
	mu     sync.Mutex
	frames int
	closed bool
}

func (r *memRecorder) EncodeBlock(s []int16) error {
	r.mu.Lock()
	r.frames += len(s)
	r.mu.Unlock()
	return nil
}

func (r *memRecorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *memRecorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *memRecorder) TotalFrames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(r.frames)
}

func TestRecorderTapsOutgoingAudio(t *testing.T) {
	rec := &memRecorder{}
	var gotID string
	h := newHarness(t, func(c *Config) {
		c.Record = func(id string) (encoder.Encoder, error) {
			gotID = id
			return rec, nil
		}
	})
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	assert.Equal(t, h.m.Stats().ID, gotID)

	conn := h.dialer.Last()
	require.True(t, h.mic(t).Emit(make([]float32, 4096)))
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, waitFor, 5*time.Millisecond)

	h.m.Stop()
	assert.Equal(t, uint64(4096), rec.TotalFrames())
	assert.True(t, rec.isClosed())
}

func TestRecorderFailureDoesNotBlockStart(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Record = func(string) (encoder.Encoder, error) { return nil, errors.New("disk full") }
	})
	require.NoError(t, h.m.Start(context.Background(), settings(live.VoiceKore, live.ModeStandard)))
	assert.True(t, h.m.Active())
}
