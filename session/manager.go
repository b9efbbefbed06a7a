package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"refuge/audio"
	"refuge/capture"
	"refuge/codec"
	"refuge/live"
	"refuge/log"
	"refuge/playback"
)

const outputRate = 24000

type Stats struct {
	ID            string
	Voice         Voice
	Mode          Mode
	Started       time.Time
	FramesSent    int
	FramesDropped int
	SendErrors    int
	Segments      int
	DecodeErrors  int
	Interruptions int
	Turns         int
}

type Manager struct {
	cfg    Config
	cb     Callbacks
	logger Logger
	sched  *playback.Scheduler
	guard  *guard

	startMu sync.Mutex

	mu          sync.Mutex
	state       State
	gen         uint64
	conn        live.Conn
	res         *resources
	turn        Turn
	stats       Stats
	cancelStart context.CancelFunc
	announced   bool // OnStateChange(true) delivered for the current link
	announcing  bool // OnStateChange(true) in flight
	downPending bool // teardown left the down notification to announce
}

func New(cfg Config) *Manager {
	if cfg.NewAudio == nil {
		cfg.NewAudio = audio.NewContext
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Diagnostics{}
	}
	return &Manager{
		cfg:    cfg,
		cb:     cfg.Callbacks,
		logger: cfg.Logger,
		sched:  playback.NewScheduler(nil),
		guard:  newGuard(),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Active() bool { return m.State() == Active }

// Scheduler exposes the playback schedule for inspection.
func (m *Manager) Scheduler() *playback.Scheduler { return m.sched }

// Stats returns the counters of the current or most recent session.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	if m.res != nil && m.res.capture != nil {
		fillCapture(&s, m.res.capture)
	}
	return s
}

func fillCapture(s *Stats, p *capture.Pipeline) {
	s.FramesSent = p.Sent()
	s.FramesDropped = p.Dropped()
	s.SendErrors = p.SendErrors()
}

// Start tears down any current session and opens a new one with s.
// It returns once the server has confirmed the setup, or with the first
// failure after releasing everything it acquired.
func (m *Manager) Start(ctx context.Context, s Settings) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if err := s.Validate(); err != nil {
		return m.uplinkFailed(err)
	}
	if err := m.cfg.Dialer.Validate(); err != nil {
		return m.uplinkFailed(err)
	}

	m.Stop()
	if err := m.guard.wait(ctx); err != nil {
		return m.uplinkFailed(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = Starting
	m.cancelStart = cancel
	m.stats = Stats{ID: uuid.NewString(), Voice: s.Voice, Mode: s.Mode}
	id := m.stats.ID
	m.mu.Unlock()

	began := time.Now()
	res := &resources{}
	fail := func(err error) error {
		res.release(m.step)
		m.cfg.Metrics.SessionFailed()
		if !m.current(gen) {
			return ErrStartCanceled
		}
		m.uplinkFailed(err)
		m.stopGen(gen)
		return err
	}

	in, err := m.cfg.NewAudio()
	if err != nil {
		return fail(audio.Classify("open input audio", err))
	}
	res.input = in

	opts := capture.Options{Metrics: m.cfg.Metrics, Logger: m.logger}
	if m.cfg.Record != nil {
		rec, err := m.cfg.Record(id)
		if err != nil {
			m.logger.Warnf("recording disabled: %v", err)
		} else {
			res.recorder = rec
			opts.Tap = rec
		}
	}
	pipe, err := capture.Open(in, m.cfg.Device, opts)
	if err != nil {
		return fail(err)
	}
	res.capture = pipe
	if !m.current(gen) {
		return fail(ErrStartCanceled)
	}

	out, err := m.cfg.NewAudio()
	if err != nil {
		return fail(audio.Classify("open output audio", err))
	}
	res.output = out
	dev, err := out.NewPlayback(audio.Config{SampleRate: outputRate, Channels: 1})
	if err != nil {
		return fail(audio.Classify("open output device", err))
	}
	speaker := playback.NewOutput(dev, outputRate)
	res.speaker = speaker
	if err := speaker.Start(m.sched); err != nil {
		return fail(audio.Classify("start output device", err))
	}
	if !m.current(gen) {
		return fail(ErrStartCanceled)
	}

	conn, err := m.cfg.Dialer.Dial(ctx, s)
	if err != nil {
		return fail(err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.step("close link", conn.Close)
		return fail(ErrStartCanceled)
	}
	m.conn = conn
	m.res = res
	m.state = Active
	m.cancelStart = nil
	m.stats.Started = time.Now()
	m.sched.SetClock(speaker)
	m.mu.Unlock()

	m.cfg.Metrics.SessionStarted(time.Since(began))
	log.SessionStart(id, string(s.Voice), string(s.Mode), m.cfg.Model)
	m.logger.Infof("link %s up with %s/%s on %s", id, s.Voice, s.Mode, pipe.DeviceName())
	m.announce(gen, s.Voice)

	pipe.Attach(conn, m.liveFunc(gen))
	go m.read(gen, conn)
	return nil
}

// Stop tears the session down and returns once it is released. A Stop that
// overlaps a teardown already in progress returns immediately.
func (m *Manager) Stop() {
	if !m.guard.acquire() {
		return
	}
	defer m.guard.release()
	m.teardown(0, true)
}

// stopGen stops the session only if gen is still the current one.
func (m *Manager) stopGen(gen uint64) {
	if !m.guard.acquire() {
		return
	}
	defer m.guard.release()
	m.teardown(gen, false)
}

func (m *Manager) teardown(gen uint64, anyGen bool) {
	m.mu.Lock()
	if !anyGen && gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	prev := m.state
	conn, res := m.conn, m.res
	m.conn, m.res = nil, nil
	if m.cancelStart != nil {
		m.cancelStart()
		m.cancelStart = nil
	}
	if prev == Idle && conn == nil && res == nil {
		m.mu.Unlock()
		return
	}
	m.state = Stopping
	down := m.announced
	m.announced = false
	deferred := false
	if down && m.announcing {
		m.downPending = true
		down, deferred = false, true
	}
	m.mu.Unlock()

	if conn != nil {
		m.step("close link", conn.Close)
	}
	res.release(m.step)
	if n := m.sched.Interrupt(); n > 0 {
		m.logger.Debugf("discarded %d scheduled segments", n)
	}
	m.sched.SetClock(nil)

	m.mu.Lock()
	m.turn.Reset()
	m.state = Idle
	if res != nil && res.capture != nil {
		fillCapture(&m.stats, res.capture)
	}
	stats := m.stats
	m.mu.Unlock()

	if prev == Active {
		m.cfg.Metrics.SessionEnded(time.Since(stats.Started))
		log.SessionEnd(log.SessionStats{
			ID:             stats.ID,
			Voice:          string(stats.Voice),
			Mode:           string(stats.Mode),
			Duration:       time.Since(stats.Started),
			FramesSent:     stats.FramesSent,
			FramesDropped:  stats.FramesDropped,
			SendErrors:     stats.SendErrors,
			Segments:       stats.Segments,
			DecodeErrors:   stats.DecodeErrors,
			Interruptions:  stats.Interruptions,
			TurnsCompleted: stats.Turns,
		})
	}

	switch {
	case down:
		m.announceDown()
	case !deferred:
		m.cb.log("Voice Link disconnected.", LevelInfo)
	}
}

// announce reports the link as up. A teardown that lands while these
// callbacks run leaves its down notification here so the two never
// arrive out of order.
func (m *Manager) announce(gen uint64, voice Voice) {
	m.mu.Lock()
	if gen != m.gen || m.state != Active {
		m.mu.Unlock()
		return
	}
	m.announced = true
	m.announcing = true
	m.mu.Unlock()

	m.cb.stateChange(true)
	m.cb.log(fmt.Sprintf("Voice Link established: %s", voice), LevelSuccess)

	m.mu.Lock()
	m.announcing = false
	pending := m.downPending
	m.downPending = false
	m.mu.Unlock()
	if pending {
		m.announceDown()
	}
}

func (m *Manager) announceDown() {
	m.cb.stateChange(false)
	m.cb.log("Voice Link disconnected.", LevelInfo)
}

func (m *Manager) uplinkFailed(err error) error {
	m.logger.Errorf("start failed: %v", err)
	m.cb.log("Uplink failed: "+err.Error(), LevelError)
	return err
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) liveFunc(gen uint64) func() bool {
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return gen == m.gen && m.state == Active && !m.guard.held()
	}
}

// step runs one teardown action; its error or panic is logged and swallowed.
func (m *Manager) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		m.logger.Warnf("%s: %v", name, err)
	}
}

func (m *Manager) read(gen uint64, conn live.Conn) {
	for {
		msg, err := conn.Recv()
		if !m.current(gen) {
			return
		}
		if err != nil {
			var me *live.MessageError
			if errors.As(err, &me) {
				m.logger.Warnf("%v", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				m.logger.Infof("link closed by server")
			} else {
				m.logger.Errorf("link error: %v", err)
				m.cb.log("Session sync error.", LevelError)
			}
			m.stopGen(gen)
			return
		}
		m.dispatch(gen, msg)
	}
}

func (m *Manager) dispatch(gen uint64, msg *live.ServerMessage) {
	var notify []func()
	m.mu.Lock()
	if gen != m.gen || m.state != Active || m.guard.held() {
		m.mu.Unlock()
		return
	}
	if g := msg.GoAway; g != nil {
		id := m.stats.ID
		m.logger.Infof("server going away in %v", g.Remaining())
		notify = append(notify, func() { log.LinkEvent(id, "go_away", g.TimeLeft) })
	}
	if sc := msg.ServerContent; sc != nil {
		if t := sc.InputTranscription; t != nil {
			total := m.turn.AppendUser(t.Text)
			notify = append(notify, func() { m.cb.transcription(total, RoleUser) })
		}
		if t := sc.OutputTranscription; t != nil {
			total := m.turn.AppendAssistant(t.Text)
			notify = append(notify, func() { m.cb.transcription(total, RoleAssistant) })
		}
		for _, blob := range sc.Audio() {
			if err := m.schedule(blob.Data); err != nil {
				m.stats.DecodeErrors++
				m.cfg.Metrics.DecodeError()
				m.logger.Debugf("drop response audio: %v", err)
			}
		}
		if sc.TurnComplete {
			user, assistant := m.turn.Complete()
			m.stats.Turns++
			m.cfg.Metrics.TurnCompleted()
			notify = append(notify, func() {
				log.TurnText(user, assistant)
				m.cb.turnComplete(user, assistant)
			})
		}
		if sc.Interrupted {
			n := m.sched.Interrupt()
			m.stats.Interruptions++
			m.cfg.Metrics.Interrupted()
			m.logger.Debugf("interrupted, flushed %d segments", n)
		}
	}
	m.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// schedule decodes one 24 kHz mono payload onto the playback timeline.
// Called with m.mu held.
func (m *Manager) schedule(data string) error {
	pcm, err := codec.DecodeBinary(data)
	if err != nil {
		return err
	}
	buf, err := codec.PCMToFloat(pcm, outputRate, 1)
	if err != nil {
		return err
	}
	m.sched.Schedule(buf)
	m.stats.Segments++
	m.cfg.Metrics.SegmentScheduled()
	return nil
}
