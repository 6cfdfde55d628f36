package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
)

// DefaultReconnectDelay is the fixed wait between a disconnect and the next
// attempt. There is no backoff.
const DefaultReconnectDelay = 5 * time.Second

const (
	maxReasonLen = 100
	readBufSize  = 32 << 10
)

var (
	// ErrIdentityChanged cancels an attempt superseded by a new identity.
	ErrIdentityChanged = errors.New("stream: identity changed")
	// ErrNoIdentity cancels an attempt when the identity is cleared.
	ErrNoIdentity = errors.New("stream: no active identity")
	// ErrStopped cancels an attempt on explicit teardown.
	ErrStopped = errors.New("stream: session stopped")
	// ErrServerShutdown cancels the read after a shutdown frame.
	ErrServerShutdown = errors.New("stream: server shutting down")
	// ErrClosed is returned by control calls once Run has returned.
	ErrClosed = errors.New("stream: session closed")

	errStreamEnded = errors.New("stream ended by server")
	errEmptyBody   = errors.New("empty response body")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Identity names one configured NodePass endpoint.
type Identity struct {
	ID      string
	RootURL string
	Token   string
	Name    string
}

// Valid reports whether every field needed to connect is present.
func (i Identity) Valid() bool {
	return i.RootURL != "" && i.Token != "" && i.Name != ""
}

// Key is the stable part of the identity.
func (i Identity) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.RootURL
}

// Sink receives every event in arrival order. It is called from the session's
// Run goroutine and must not call Start or Stop synchronously.
type Sink func(Event)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	HTTPClient     *http.Client
	EventsPath     string
	ReconnectDelay time.Duration
	LogCapacity    int
	Logger         *slog.Logger
	Metrics        *Metrics
	// OnStateChange is called from the Run goroutine after every transition.
	OnStateChange func(State)
}

type opKind int

const (
	opStart opKind = iota
	opStop
)

type command struct {
	op       opKind
	identity Identity
	sink     Sink
	reply    chan struct{}
}

type msgKind int

const (
	msgConnected msgKind = iota
	msgChunk
	msgEnd
	msgError
)

type readMsg struct {
	att  *attempt
	kind msgKind
	data []byte
	err  error
}

// attempt is one connection try. Its context is the cancellation token; only
// the Run goroutine touches the other fields.
type attempt struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	parser *Parser
}

// Session keeps one event feed alive for the current identity. All state
// transitions happen on the goroutine running Run; the exported accessors
// read a mutex-guarded snapshot.
type Session struct {
	httpClient *http.Client
	eventsPath string
	delay      time.Duration
	logger     *slog.Logger
	metrics    *Metrics
	onState    func(State)

	ctrl chan command
	msgs chan readMsg
	done chan struct{}
	once sync.Once

	mu      sync.RWMutex
	state   State
	retries int
	log     *EventLog
	active  Identity

	// owned by Run
	identity      Identity
	sink          Sink
	announced     bool
	everConnected bool
	idleNoticed   bool
	current       *attempt
	timer         *time.Timer
}

// NewSession creates an idle session. Call Run before Start.
func NewSession(opts Options) *Session {
	s := &Session{
		httpClient: opts.HTTPClient,
		eventsPath: opts.EventsPath,
		delay:      opts.ReconnectDelay,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		onState:    opts.OnStateChange,
		ctrl:       make(chan command),
		msgs:       make(chan readMsg),
		done:       make(chan struct{}),
		log:        NewEventLog(opts.LogCapacity),
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{}
	}
	if s.eventsPath == "" {
		s.eventsPath = client.DefaultEventsPath
	}
	if s.delay <= 0 {
		s.delay = DefaultReconnectDelay
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Run drives the session until ctx is cancelled. It must be called once.
func (s *Session) Run(ctx context.Context) error {
	defer s.once.Do(func() { close(s.done) })
	defer s.teardown(ErrClosed)

	for {
		var timerC <-chan time.Time
		if s.timer != nil {
			timerC = s.timer.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.ctrl:
			switch cmd.op {
			case opStart:
				s.handleStart(cmd.identity, cmd.sink)
			case opStop:
				s.teardown(ErrStopped)
				s.sink = nil
			}
			close(cmd.reply)
		case m := <-s.msgs:
			s.handleRead(m)
		case <-timerC:
			s.timer = nil
			if s.identity.Valid() {
				s.connect()
			}
		}
	}
}

// Start begins a session for id, or restarts it if id differs from the
// current identity. An unchanged identity is a no-op. An invalid identity
// moves the session to idle.
func (s *Session) Start(id Identity, sink Sink) error {
	return s.send(command{op: opStart, identity: id, sink: sink})
}

// Stop cancels in-flight work and pending reconnects and leaves the session
// idle. It never schedules a reconnect.
func (s *Session) Stop() error {
	return s.send(command{op: opStop})
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Retries returns the number of reconnects scheduled since the last
// successful connection.
func (s *Session) Retries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retries
}

// Events returns the event log, newest first.
func (s *Session) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Entries()
}

// Identity returns the identity the session is serving.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) send(cmd command) error {
	cmd.reply = make(chan struct{})
	select {
	case s.ctrl <- cmd:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-cmd.reply:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) handleStart(id Identity, sink Sink) {
	s.sink = sink
	if !id.Valid() {
		s.enterIdle()
		return
	}
	if id == s.identity && s.State() != StateIdle {
		return
	}

	s.abort(ErrIdentityChanged)
	s.clearTimer()
	s.identity = id
	s.announced = false
	s.idleNoticed = false
	s.mu.Lock()
	s.active = id
	s.retries = 0
	s.log.Reset()
	s.mu.Unlock()
	s.logger.Info("event stream identity set", "endpoint", id.Name, "url", id.RootURL)
	s.connect()
}

func (s *Session) enterIdle() {
	s.abort(ErrNoIdentity)
	s.clearTimer()
	s.identity = Identity{}
	s.announced = false
	s.mu.Lock()
	s.active = Identity{}
	s.retries = 0
	s.mu.Unlock()
	s.setState(StateIdle)
	if s.idleNoticed {
		return
	}
	s.idleNoticed = true
	s.mu.Lock()
	s.log.Reset()
	s.mu.Unlock()
	s.emit(textEvent(KindLog, "Event stream disabled: no active API configuration", LevelWarn, time.Now()))
}

// teardown is the deliberate path shared by Stop and Run's exit.
func (s *Session) teardown(cause error) {
	s.abort(cause)
	s.clearTimer()
	s.identity = Identity{}
	s.announced = false
	s.mu.Lock()
	s.active = Identity{}
	s.retries = 0
	s.mu.Unlock()
	s.setState(StateIdle)
}

// connect starts a fresh attempt against the current identity.
func (s *Session) connect() {
	s.abort(ErrIdentityChanged)
	s.clearTimer()
	s.setState(StateConnecting)

	id := s.identity
	if !s.announced {
		s.announced = true
		s.emit(textEvent(KindLog, fmt.Sprintf("Initializing event stream for %s (%s)", id.Name, id.RootURL), LevelInfo, time.Now()))
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	a := &attempt{ctx: ctx, cancel: cancel, parser: NewParser()}
	s.current = a
	s.logger.Debug("event stream connecting", "url", id.RootURL+s.eventsPath)
	go s.read(a, id)
}

// abort cancels the current attempt deliberately. Messages it already queued
// are dropped because it is no longer current.
func (s *Session) abort(cause error) {
	if s.current == nil {
		return
	}
	s.current.cancel(cause)
	s.current = nil
}

func (s *Session) clearTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) handleRead(m readMsg) {
	if m.att != s.current {
		return
	}
	switch m.kind {
	case msgConnected:
		s.mu.Lock()
		s.retries = 0
		s.mu.Unlock()
		s.setState(StateConnected)
		s.logger.Info("event stream connected", "endpoint", s.identity.Name)
		if !s.everConnected {
			s.everConnected = true
			s.emit(textEvent(KindLog, "Event stream connected", LevelInfo, time.Now()))
		}
	case msgChunk:
		for _, ev := range m.att.parser.Feed(m.data) {
			s.emit(ev)
			if ev.Kind == KindShutdown {
				s.abort(ErrServerShutdown)
				s.scheduleReconnect(ErrServerShutdown)
				return
			}
		}
	case msgEnd:
		s.abort(errStreamEnded)
		s.scheduleReconnect(errStreamEnded)
	case msgError:
		s.abort(m.err)
		s.scheduleReconnect(m.err)
	}
}

func (s *Session) scheduleReconnect(reason error) {
	s.clearTimer()
	s.setState(StateDisconnected)
	s.mu.Lock()
	s.retries++
	retries := s.retries
	s.mu.Unlock()
	s.metrics.reconnect()

	s.logger.Warn("event stream disconnected", "endpoint", s.identity.Name, "err", reason, "retry", retries)
	if retries > 1 {
		s.emit(textEvent(KindError, s.failureMessage(reason, retries), LevelError, time.Now()))
	}
	s.timer = time.NewTimer(s.delay)
}

func (s *Session) failureMessage(reason error, retries int) string {
	text := truncate(reason.Error(), maxReasonLen)
	var b strings.Builder
	fmt.Fprintf(&b, "Cannot establish event stream to %s%s: %s.", s.identity.RootURL, s.eventsPath, text)
	if hint := networkHint(text); hint != "" {
		b.WriteString(" ")
		b.WriteString(hint)
	}
	fmt.Fprintf(&b, " Reconnecting in %s (attempt %d).", s.delay, retries)
	return b.String()
}

var networkMarkers = []string{
	"cors",
	"cross-origin",
	"network",
	"connection refused",
	"no such host",
	"timeout",
	"certificate",
	"tls",
}

func networkHint(reason string) string {
	lower := strings.ToLower(reason)
	for _, m := range networkMarkers {
		if strings.Contains(lower, m) {
			return "Check that the API is reachable from this host and that the URL, TLS settings and any proxy or cross-origin policy allow the request."
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	s.log.Add(ev)
	s.mu.Unlock()
	s.metrics.event(ev)
	if s.sink != nil {
		s.sink(ev)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if !changed {
		return
	}
	s.metrics.setState(st)
	if s.onState != nil {
		s.onState(st)
	}
}

// read performs one attempt's request and forwards everything it receives to
// Run. It returns as soon as the attempt is cancelled.
func (s *Session) read(a *attempt, id Identity) {
	req, err := client.New(id.RootURL, id.Token).EventsRequest(a.ctx, s.eventsPath)
	if err != nil {
		s.post(a, readMsg{kind: msgError, err: err})
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.post(a, readMsg{kind: msgError, err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.post(a, readMsg{kind: msgError, err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))})
		return
	}
	if resp.ContentLength == 0 {
		s.post(a, readMsg{kind: msgError, err: errEmptyBody})
		return
	}
	if !s.post(a, readMsg{kind: msgConnected}) {
		return
	}

	buf := make([]byte, readBufSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.post(a, readMsg{kind: msgChunk, data: chunk}) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			s.post(a, readMsg{kind: msgEnd})
			return
		}
		if err != nil {
			s.post(a, readMsg{kind: msgError, err: err})
			return
		}
	}
}

func (s *Session) post(a *attempt, m readMsg) bool {
	m.att = a
	select {
	case s.msgs <- m:
		return true
	case <-a.ctx.Done():
		return false
	}
}
