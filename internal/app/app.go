package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/NodePassProject/nodepass-panel/internal/config"
	"github.com/NodePassProject/nodepass-panel/internal/stream"
	"github.com/NodePassProject/nodepass-panel/internal/theme"
	"github.com/NodePassProject/nodepass-panel/internal/views/detail"
	"github.com/NodePassProject/nodepass-panel/internal/views/eventlog"
	"github.com/NodePassProject/nodepass-panel/internal/views/help"
	"github.com/NodePassProject/nodepass-panel/internal/views/instances"
	"github.com/NodePassProject/nodepass-panel/internal/views/status"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	inboxSize  = 256
	apiTimeout = 10 * time.Second
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayHelp
)

// Session is the part of stream.Session the UI drives.
type Session interface {
	Start(id stream.Identity, sink stream.Sink) error
	State() stream.State
	Retries() int
	Events() []stream.Event
}

// InstanceAPI is the part of the NodePass REST API the UI calls.
type InstanceAPI interface {
	ListInstances(ctx context.Context) ([]client.Instance, error)
	ControlInstance(ctx context.Context, id string, action client.Action) (*client.Instance, error)
	DeleteInstance(ctx context.Context, id string) error
}

// Deps are the collaborators of the root model.
type Deps struct {
	// Context bounds the UI's background work. Defaults to Background.
	Context context.Context
	Session Session
	Store   config.Store
	Logger  *slog.Logger

	// Dial returns an API client for an endpoint. Defaults to client.New.
	Dial func(config.Endpoint) InstanceAPI

	// ReconnectDelay is shown in the help overlay. Defaults to
	// stream.DefaultReconnectDelay.
	ReconnectDelay time.Duration
}

// Messages. Everything from outside the Bubble Tea goroutine arrives through
// the inbox channel.
type (
	eventMsg         struct {
		endpointID string
		ev         stream.Event
	}
	configChangedMsg struct{}
	frameMsg         time.Time

	startedMsg struct {
		endpointID string
		err        error
	}
	instancesMsg struct {
		endpointID string
		list       []client.Instance
		err        error
	}
	actionMsg struct {
		endpointID string
		id         string
		action     string
		inst       *client.Instance
		err        error
	}
)

// Model is the root Bubble Tea model.
type Model struct {
	session Session
	store   config.Store
	logger  *slog.Logger
	dial    func(config.Endpoint) InstanceAPI
	api     InstanceAPI
	inbox   chan tea.Msg
	ctx     context.Context
	cancel  context.CancelFunc

	keys   KeyMap
	width  int
	height int

	endpoint      config.Endpoint
	instances     map[string]client.Instance
	overlay       Overlay
	confirmDelete string

	// Throughput sampling for the gauge.
	frames    int
	lastTotal uint64

	// Sub-views.
	statusBar status.Model
	table     instances.Model
	events    eventlog.Model
	detail    detail.Model
	help      *help.Model
}

// New creates the root model.
func New(deps Deps) Model {
	parent := deps.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	m := Model{
		session:   deps.Session,
		store:     deps.Store,
		logger:    deps.Logger,
		dial:      deps.Dial,
		inbox:     make(chan tea.Msg, inboxSize),
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		instances: make(map[string]client.Instance),
		statusBar: status.New(),
		table:     instances.New(),
		events:    eventlog.New(),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	delay := deps.ReconnectDelay
	if delay <= 0 {
		delay = stream.DefaultReconnectDelay
	}
	m.help = help.New(m.keys.Bindings(), delay)
	if m.dial == nil {
		m.dial = func(ep config.Endpoint) InstanceAPI { return client.New(ep.URL, ep.Token) }
	}
	if ep, ok := m.store.Active(); ok {
		m.endpoint = ep
		m.api = m.dial(ep)
	}
	return m
}

// ConfigChanged tells the UI that the config file changed on disk. It is
// safe to call from any goroutine and never blocks.
func (m Model) ConfigChanged() {
	select {
	case m.inbox <- configChangedMsg{}:
	default:
	}
}

// sinkFor returns a sink that forwards session events into the inbox tagged
// with endpointID. It runs on the session goroutine, so it only blocks until
// the UI drains the inbox or quits.
func (m Model) sinkFor(endpointID string) stream.Sink {
	inbox, ctx := m.inbox, m.ctx
	return func(ev stream.Event) {
		select {
		case inbox <- eventMsg{endpointID: endpointID, ev: ev}:
		case <-ctx.Done():
		}
	}
}

// Init activates the configured endpoint and starts the UI loops.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForInbox(),
		frame(),
		m.statusBar.Spinner.Tick,
		m.startCmd(m.endpoint),
		m.fetchCmd(m.endpoint),
	)
}

func (m Model) waitForInbox() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.inbox:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/instances.FrameRate, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// startCmd moves the session to ep. Start blocks until the session loop picks
// up the command, so it never runs on the UI goroutine.
func (m Model) startCmd(ep config.Endpoint) tea.Cmd {
	session, sink := m.session, m.sinkFor(ep.ID)
	return func() tea.Msg {
		return startedMsg{endpointID: ep.ID, err: session.Start(ep.Identity(), sink)}
	}
}

func (m Model) fetchCmd(ep config.Endpoint) tea.Cmd {
	if ep.ID == "" {
		return nil
	}
	api, ctx := m.dial(ep), m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, apiTimeout)
		defer cancel()
		list, err := api.ListInstances(ctx)
		return instancesMsg{endpointID: ep.ID, list: list, err: err}
	}
}

func (m Model) actionCmd(id string, action client.Action) tea.Cmd {
	api, ctx, epID := m.api, m.ctx, m.endpoint.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, apiTimeout)
		defer cancel()
		inst, err := api.ControlInstance(ctx, id, action)
		return actionMsg{endpointID: epID, id: id, action: string(action), inst: inst, err: err}
	}
}

func (m Model) deleteCmd(id string) tea.Cmd {
	api, ctx, epID := m.api, m.ctx, m.endpoint.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, apiTimeout)
		defer cancel()
		return actionMsg{endpointID: epID, id: id, action: "delete", err: api.DeleteInstance(ctx, id)}
	}
}

// switchTo makes ep the displayed endpoint and returns the commands that
// move the session over and reload the instance list.
func (m *Model) switchTo(ep config.Endpoint) tea.Cmd {
	if ep == m.endpoint {
		return m.startCmd(ep)
	}
	m.logger.Info("switching endpoint", "name", ep.Name, "url", ep.URL)
	m.endpoint = ep
	m.api = nil
	if ep.ID != "" {
		m.api = m.dial(ep)
	}
	m.instances = make(map[string]client.Instance)
	m.overlay = OverlayNone
	m.confirmDelete = ""
	m.lastTotal = 0
	m.refresh()
	return tea.Batch(m.startCmd(ep), m.fetchCmd(ep))
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.table.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.statusBar.Spinner, cmd = m.statusBar.Spinner.Update(msg)
		return m, cmd

	case frameMsg:
		m.frames++
		if m.frames%instances.FrameRate == 0 {
			total := client.SumTraffic(m.table.Instances()).Total()
			if m.lastTotal > 0 && total >= m.lastTotal {
				m.table.SetRate(float64(total - m.lastTotal))
			}
			m.lastTotal = total
		}
		m.table.Animate()
		m.refresh()
		return m, frame()

	case eventMsg:
		// Events queued before a switch belong to the previous endpoint.
		if msg.endpointID != m.endpoint.ID {
			return m, m.waitForInbox()
		}
		m.applyEvent(msg.ev)
		m.refresh()
		return m, m.waitForInbox()

	case configChangedMsg:
		cmd := m.reloadConfig()
		return m, tea.Batch(cmd, m.waitForInbox())

	case startedMsg:
		if msg.err != nil {
			m.logger.Error("session start failed", "endpoint", msg.endpointID, "err", msg.err)
		}
		m.refresh()
		return m, nil

	case instancesMsg:
		if msg.endpointID != m.endpoint.ID {
			return m, nil
		}
		if msg.err != nil {
			m.logger.Warn("listing instances failed", "endpoint", m.endpoint.Name, "err", msg.err)
			m.statusBar.Notice = "list failed: " + msg.err.Error()
			return m, nil
		}
		m.instances = make(map[string]client.Instance, len(msg.list))
		for _, inst := range msg.list {
			m.instances[inst.ID] = inst
		}
		m.refresh()
		return m, nil

	case actionMsg:
		if msg.endpointID != m.endpoint.ID {
			return m, nil
		}
		if msg.err != nil {
			m.logger.Warn("instance action failed", "id", msg.id, "action", msg.action, "err", msg.err)
			m.statusBar.Notice = fmt.Sprintf("%s %s failed", msg.action, msg.id)
			if m.overlay == OverlayDetail {
				m.detail.ActionError = msg.err.Error()
			}
			return m, nil
		}
		m.statusBar.Notice = fmt.Sprintf("%s %s ok", msg.action, msg.id)
		if msg.action == "delete" {
			delete(m.instances, msg.id)
			if m.overlay == OverlayDetail {
				m.overlay = OverlayNone
			}
		} else if msg.inst != nil {
			m.instances[msg.inst.ID] = *msg.inst
		}
		m.refresh()
		return m, nil
	}

	return m, nil
}

// applyEvent keeps the instance map current from lifecycle events.
func (m *Model) applyEvent(ev stream.Event) {
	inst, ok := ev.Instance()
	if !ok || inst.ID == "" {
		return
	}
	switch ev.Kind {
	case stream.KindInitial, stream.KindCreate, stream.KindUpdate:
		m.instances[inst.ID] = inst
	case stream.KindDelete:
		delete(m.instances, inst.ID)
	}
}

func (m *Model) reloadConfig() tea.Cmd {
	if r, ok := m.store.(interface{ Reload() error }); ok {
		if err := r.Reload(); err != nil {
			m.logger.Warn("reloading config failed", "err", err)
			m.statusBar.Notice = "config reload failed"
			return nil
		}
	}
	ep, _ := m.store.Active()
	if ep == m.endpoint {
		return nil
	}
	return m.switchTo(ep)
}

// refresh copies session and instance state into the sub-views.
func (m *Model) refresh() {
	m.statusBar.Endpoint = m.endpoint.Name
	m.statusBar.URL = m.endpoint.URL
	m.statusBar.State = m.session.State()
	m.statusBar.Retries = m.session.Retries()
	m.statusBar.Instances = len(m.instances)

	entries := m.session.Events()
	m.statusBar.Events = len(entries)
	m.events.SetEntries(entries)
	m.table.SetInstances(m.instances)

	if m.overlay == OverlayDetail && m.detail.Instance != nil {
		inst, ok := m.instances[m.detail.Instance.ID]
		if !ok {
			m.overlay = OverlayNone
			return
		}
		actionErr := m.detail.ActionError
		m.detail = detail.New(inst, entries)
		m.detail.ActionError = actionErr
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		if key.Matches(msg, m.keys.Escape) {
			m.overlay = OverlayNone
			return m, nil
		}
		if m.overlay == OverlayHelp {
			return m, nil
		}
	}

	if !key.Matches(msg, m.keys.Delete) {
		m.confirmDelete = ""
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		m.table.Next()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.table.Prev()
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		next, ok := config.Next(m.store)
		if !ok {
			m.statusBar.Notice = "no endpoints configured"
			return m, nil
		}
		if err := m.store.SetActive(next.ID); err != nil {
			m.logger.Error("saving active endpoint failed", "err", err)
			m.statusBar.Notice = "could not save active endpoint"
		}
		return m, m.switchTo(next)

	case key.Matches(msg, m.keys.Enter):
		if inst, ok := m.table.Current(); ok {
			m.detail = detail.New(inst, m.session.Events())
			m.overlay = OverlayDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil

	case key.Matches(msg, m.keys.Start):
		return m, m.instanceAction(client.ActionStart)

	case key.Matches(msg, m.keys.Stop):
		return m, m.instanceAction(client.ActionStop)

	case key.Matches(msg, m.keys.Restart):
		return m, m.instanceAction(client.ActionRestart)

	case key.Matches(msg, m.keys.Delete):
		inst, ok := m.table.Current()
		if !ok || m.api == nil {
			return m, nil
		}
		if m.confirmDelete != inst.ID {
			m.confirmDelete = inst.ID
			m.statusBar.Notice = fmt.Sprintf("press D again to delete %s", inst.ID)
			return m, nil
		}
		m.confirmDelete = ""
		return m, m.deleteCmd(inst.ID)

	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetchCmd(m.endpoint)

	case key.Matches(msg, m.keys.LogOlder):
		m.events.ScrollDown(5)
		return m, nil

	case key.Matches(msg, m.keys.LogNewer):
		m.events.ScrollUp(5)
		return m, nil
	}

	return m, nil
}

func (m *Model) instanceAction(action client.Action) tea.Cmd {
	inst, ok := m.table.Current()
	if !ok || m.api == nil {
		return nil
	}
	m.statusBar.Notice = fmt.Sprintf("%s %s...", action, inst.ID)
	return m.actionCmd(inst.ID, action)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayHelp:
		return m.help.View(m.width)
	case OverlayDetail:
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.detail.View())
	}

	top := lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar.View(),
		m.table.View(),
	)
	footer := theme.StyleDimmed.Render("  j/k:select  enter:detail  s/x/r:start/stop/restart  D:delete  tab:endpoint  ?:help  q:quit")
	logHeight := m.height - lipgloss.Height(top) - lipgloss.Height(footer)
	if logHeight < 5 {
		logHeight = 5
	}

	return lipgloss.JoinVertical(lipgloss.Left, top, m.events.View(m.width, logHeight), footer)
}
