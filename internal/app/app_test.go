package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/NodePassProject/nodepass-panel/internal/config"
	"github.com/NodePassProject/nodepass-panel/internal/stream"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu      sync.Mutex
	started []stream.Identity
	sink    stream.Sink
	state   stream.State
	events  []stream.Event
}

func (f *fakeSession) Start(id stream.Identity, sink stream.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	f.sink = sink
	return nil
}

func (f *fakeSession) State() stream.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Retries() int { return 0 }

func (f *fakeSession) Events() []stream.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.Event(nil), f.events...)
}

type fakeAPI struct {
	mu      sync.Mutex
	list    []client.Instance
	actions []string
	fail    error
}

func (f *fakeAPI) ListInstances(context.Context) ([]client.Instance, error) {
	return f.list, f.fail
}

func (f *fakeAPI) ControlInstance(_ context.Context, id string, action client.Action) (*client.Instance, error) {
	f.mu.Lock()
	f.actions = append(f.actions, string(action)+" "+id)
	f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	status := client.StatusRunning
	if action == client.ActionStop {
		status = client.StatusStopped
	}
	return &client.Instance{ID: id, Type: client.TypeServer, Status: status}, nil
}

func (f *fakeAPI) DeleteInstance(_ context.Context, id string) error {
	f.mu.Lock()
	f.actions = append(f.actions, "delete "+id)
	f.mu.Unlock()
	return f.fail
}

type harness struct {
	session *fakeSession
	api     *fakeAPI
	store   *config.FileStore
	lab     config.Endpoint
	prod    config.Endpoint
}

func newHarness(t *testing.T) (*harness, Model) {
	t.Helper()
	store, err := config.Open(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	lab, err := store.Set(config.Endpoint{Name: "lab", URL: "http://lab:9090/api", Token: "a"})
	require.NoError(t, err)
	prod, err := store.Set(config.Endpoint{Name: "prod", URL: "http://prod:9090/api", Token: "b"})
	require.NoError(t, err)
	require.NoError(t, store.SetActive(lab.ID))

	h := &harness{
		session: &fakeSession{state: stream.StateConnected},
		api: &fakeAPI{list: []client.Instance{
			{ID: "s1", Type: client.TypeServer, Status: client.StatusRunning, TCPRX: 100},
			{ID: "c1", Type: client.TypeClient, Status: client.StatusStopped},
		}},
		store: store,
		lab:   lab,
		prod:  prod,
	}
	m := New(Deps{
		Session: h.session,
		Store:   store,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dial:    func(config.Endpoint) InstanceAPI { return h.api },
	})
	t.Cleanup(m.cancel)
	return h, m
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// exec runs cmd, giving up on commands that wait for ticks or the inbox.
func exec(cmd tea.Cmd) tea.Msg {
	ch := make(chan tea.Msg, 1)
	go func() { ch <- cmd() }()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

// run executes cmd, expanding batches, and feeds the resulting start, list
// and action messages back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	msg := exec(cmd)
	switch msg := msg.(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			m = run(t, m, c)
		}
		return m
	case startedMsg, instancesMsg, actionMsg:
		next, follow := update(t, m, msg)
		return run(t, next, follow)
	}
	return m
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestStartActivatesConfiguredEndpoint(t *testing.T) {
	h, m := newHarness(t)
	m = run(t, m, tea.Batch(m.startCmd(m.endpoint), m.fetchCmd(m.endpoint)))

	require.Len(t, h.session.started, 1)
	assert.Equal(t, h.lab.Identity(), h.session.started[0])
	assert.Len(t, m.instances, 2)
	cur, ok := m.table.Current()
	require.True(t, ok)
	assert.Equal(t, "s1", cur.ID, "servers sort first")
}

func TestLifecycleEventsUpdateInstances(t *testing.T) {
	_, m := newHarness(t)
	ev := func(kind stream.Kind, id string, status client.InstanceStatus) eventMsg {
		return eventMsg{endpointID: m.endpoint.ID, ev: stream.Event{
			Kind:    kind,
			Payload: stream.InstancePayload{Instance: client.Instance{ID: id, Status: status}},
			Time:    time.Now(),
		}}
	}

	m, _ = update(t, m, ev(stream.KindInitial, "a", client.StatusRunning))
	m, _ = update(t, m, ev(stream.KindCreate, "b", client.StatusStopped))
	m, _ = update(t, m, ev(stream.KindUpdate, "a", client.StatusError))
	require.Len(t, m.instances, 2)
	assert.Equal(t, client.StatusError, m.instances["a"].Status)

	m, _ = update(t, m, ev(stream.KindDelete, "b", ""))
	assert.Len(t, m.instances, 1)

	m, _ = update(t, m, eventMsg{endpointID: m.endpoint.ID, ev: stream.Event{Kind: stream.KindLog, Payload: stream.TextPayload("INFO hi"), Time: time.Now()}})
	assert.Len(t, m.instances, 1, "text events leave instances alone")
}

func TestTabSwitchesEndpoint(t *testing.T) {
	h, m := newHarness(t)
	m.instances["stale"] = client.Instance{ID: "stale"}

	m, cmd := update(t, m, keyMsg("tab"))
	assert.Equal(t, h.prod.ID, m.endpoint.ID)
	assert.NotContains(t, m.instances, "stale", "switching clears the old endpoint's instances")

	active, ok := h.store.Active()
	require.True(t, ok)
	assert.Equal(t, h.prod.ID, active.ID, "active endpoint persisted")

	m = run(t, m, cmd)
	require.NotEmpty(t, h.session.started)
	assert.Equal(t, h.prod.Identity(), h.session.started[len(h.session.started)-1])
	assert.Len(t, m.instances, 2)
}

func TestStaleInstanceListDropped(t *testing.T) {
	h, m := newHarness(t)
	m, _ = update(t, m, keyMsg("tab"))
	m, _ = update(t, m, instancesMsg{endpointID: h.lab.ID, list: []client.Instance{{ID: "old"}}})
	assert.Empty(t, m.instances)
}

func TestConfigChangeSwitchesIdentity(t *testing.T) {
	h, m := newHarness(t)
	require.NoError(t, h.store.SetActive(h.prod.ID))

	m, cmd := update(t, m, configChangedMsg{})
	assert.Equal(t, h.prod.ID, m.endpoint.ID)
	m = run(t, m, cmd)
	assert.Equal(t, h.prod.Identity(), h.session.started[len(h.session.started)-1])

	// Unchanged config is a no-op.
	n := len(h.session.started)
	_, cmd = update(t, m, configChangedMsg{})
	_ = run(t, m, cmd)
	assert.Len(t, h.session.started, n)
}

func TestConfigChangeWithoutActiveDisablesSession(t *testing.T) {
	h, m := newHarness(t)
	require.NoError(t, h.store.SetActive(""))
	m, cmd := update(t, m, configChangedMsg{})
	_ = run(t, m, cmd)
	last := h.session.started[len(h.session.started)-1]
	assert.False(t, last.Valid())
	assert.Nil(t, m.api)
}

func TestInstanceActions(t *testing.T) {
	h, m := newHarness(t)
	m = run(t, m, m.fetchCmd(m.endpoint))

	m, cmd := update(t, m, keyMsg("x"))
	require.NotNil(t, cmd)
	m = run(t, m, cmd)
	assert.Equal(t, []string{"stop s1"}, h.api.actions)
	assert.Equal(t, client.StatusStopped, m.instances["s1"].Status)
	assert.Contains(t, m.statusBar.Notice, "stop s1 ok")
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	h, m := newHarness(t)
	m = run(t, m, m.fetchCmd(m.endpoint))

	m, cmd := update(t, m, keyMsg("D"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.statusBar.Notice, "press D again")

	m, cmd = update(t, m, keyMsg("D"))
	require.NotNil(t, cmd)
	m = run(t, m, cmd)
	assert.Equal(t, []string{"delete s1"}, h.api.actions)
	assert.NotContains(t, m.instances, "s1")
}

func TestDeleteConfirmationResetByOtherKey(t *testing.T) {
	h, m := newHarness(t)
	m = run(t, m, m.fetchCmd(m.endpoint))
	m, _ = update(t, m, keyMsg("D"))
	m, _ = update(t, m, keyMsg("j"))
	m, _ = update(t, m, keyMsg("k"))
	_, cmd := update(t, m, keyMsg("D"))
	assert.Nil(t, cmd)
	assert.Empty(t, h.api.actions)
}

func TestActionFailureShownInDetail(t *testing.T) {
	h, m := newHarness(t)
	m = run(t, m, m.fetchCmd(m.endpoint))
	m, _ = update(t, m, keyMsg("enter"))
	require.Equal(t, OverlayDetail, m.overlay)

	h.api.fail = &client.APIError{Method: "PATCH", Path: "/instances/s1", StatusCode: 500, Body: "boom"}
	m, cmd := update(t, m, keyMsg("r"))
	m = run(t, m, cmd)
	assert.Contains(t, m.detail.ActionError, "500")
	assert.Contains(t, m.statusBar.Notice, "restart s1 failed")
}

func TestListFailureShowsNotice(t *testing.T) {
	h, m := newHarness(t)
	h.api.fail = errors.New("connection refused")
	m = run(t, m, m.fetchCmd(m.endpoint))
	assert.Contains(t, m.statusBar.Notice, "connection refused")
}

func TestSinkDeliversThroughInbox(t *testing.T) {
	_, m := newHarness(t)
	ev := stream.Event{Kind: stream.KindLog, Payload: stream.TextPayload("hello"), Time: time.Now()}
	m.sinkFor(m.endpoint.ID)(ev)
	msg := m.waitForInbox()()
	got, ok := msg.(eventMsg)
	require.True(t, ok)
	assert.Equal(t, ev, got.ev)
	assert.Equal(t, m.endpoint.ID, got.endpointID)
}

func TestQueuedEventsFromPreviousEndpointAreDropped(t *testing.T) {
	h, m := newHarness(t)
	h.api.fail = errors.New("unreachable")
	labSink := m.sinkFor(h.lab.ID)
	labSink(stream.Event{
		Kind:    stream.KindInitial,
		Payload: stream.InstancePayload{Instance: client.Instance{ID: "lab-only", Status: client.StatusRunning}},
		Time:    time.Now(),
	})

	m, _ = update(t, m, keyMsg("tab"))
	require.Equal(t, h.prod.ID, m.endpoint.ID)

	m, cmd := update(t, m, <-m.inbox)
	assert.NotContains(t, m.instances, "lab-only", "lab events must not show under prod")
	assert.NotNil(t, cmd, "the inbox is still drained")

	m, _ = update(t, m, eventMsg{endpointID: h.prod.ID, ev: stream.Event{
		Kind:    stream.KindInitial,
		Payload: stream.InstancePayload{Instance: client.Instance{ID: "prod-1", Status: client.StatusRunning}},
		Time:    time.Now(),
	}})
	assert.Contains(t, m.instances, "prod-1")
}

func TestSinkUnblocksOnQuit(t *testing.T) {
	_, m := newHarness(t)
	sink := m.sinkFor(m.endpoint.ID)
	for i := 0; i < inboxSize; i++ {
		sink(stream.Event{Kind: stream.KindLog})
	}
	done := make(chan struct{})
	go func() {
		sink(stream.Event{Kind: stream.KindLog})
		close(done)
	}()
	_, cmd := update(t, m, keyMsg("q"))
	require.NotNil(t, cmd)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink still blocked after quit")
	}
}

func TestViewLayout(t *testing.T) {
	h, m := newHarness(t)
	h.session.events = []stream.Event{{Kind: stream.KindLog, Payload: stream.TextPayload("Event stream connected"), Time: time.Now()}}
	m = run(t, m, m.fetchCmd(m.endpoint))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 40})
	m.refresh()

	v := m.View()
	for _, want := range []string{"Connected", "lab", "s1", "c1", "Event stream connected"} {
		assert.Contains(t, v, want)
	}

	m, _ = update(t, m, keyMsg("?"))
	assert.True(t, strings.Contains(m.View(), "quit"))
	m, _ = update(t, m, keyMsg("esc"))
	assert.Equal(t, OverlayNone, m.overlay)
}

func TestViewBeforeResize(t *testing.T) {
	_, m := newHarness(t)
	assert.Equal(t, "Initializing...", m.View())
}

func TestHelpShowsConfiguredReconnectDelay(t *testing.T) {
	h, _ := newHarness(t)
	m := New(Deps{
		Session:        h.session,
		Store:          h.store,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dial:           func(config.Endpoint) InstanceAPI { return h.api },
		ReconnectDelay: 30 * time.Second,
	})
	t.Cleanup(m.cancel)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, keyMsg("?"))
	require.Equal(t, OverlayHelp, m.overlay)

	v := ansi.Strip(m.View())
	assert.Contains(t, v, "30s")

	before := m.help
	m, _ = update(t, m, frameMsg(time.Now()))
	assert.Same(t, before, m.help, "frame ticks keep the cached help overlay")
	assert.Equal(t, v, ansi.Strip(m.View()))
}
