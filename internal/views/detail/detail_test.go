package detail

import (
	"strings"
	"testing"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/NodePassProject/nodepass-panel/internal/stream"
)

func lifecycle(kind stream.Kind, id string, status client.InstanceStatus) stream.Event {
	return stream.Event{
		Kind:    kind,
		Payload: stream.InstancePayload{Instance: client.Instance{ID: id, Status: status}},
		Time:    time.Now(),
	}
}

func TestNewPicksInstanceHistory(t *testing.T) {
	events := []stream.Event{
		lifecycle(stream.KindUpdate, "a", client.StatusRunning),
		lifecycle(stream.KindUpdate, "b", client.StatusStopped),
		{Kind: stream.KindLog, Payload: stream.TextPayload("hello"), Time: time.Now()},
		lifecycle(stream.KindCreate, "a", client.StatusStopped),
	}
	m := New(client.Instance{ID: "a"}, events)
	if len(m.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(m.History))
	}
	if m.History[0].Kind != stream.KindUpdate || m.History[1].Kind != stream.KindCreate {
		t.Errorf("history out of order: %v", m.History)
	}
}

func TestNewCapsHistory(t *testing.T) {
	var events []stream.Event
	for i := 0; i < 20; i++ {
		events = append(events, lifecycle(stream.KindUpdate, "a", client.StatusRunning))
	}
	if m := New(client.Instance{ID: "a"}, events); len(m.History) != maxHistory {
		t.Errorf("expected %d history entries, got %d", maxHistory, len(m.History))
	}
}

func TestViewParsesTunnelURL(t *testing.T) {
	inst := client.Instance{
		ID:     "abc",
		Type:   client.TypeServer,
		Status: client.StatusRunning,
		URL:    "server://:10101/127.0.0.1:8080?log=debug&tls=1",
		TCPRX:  2048,
	}
	v := New(inst, nil).View()
	for _, want := range []string{"Instance: abc", ":10101", "127.0.0.1:8080", "Log:", "debug", "Tls:", "2.0 KiB"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewShowsActionError(t *testing.T) {
	m := New(client.Instance{ID: "abc"}, nil)
	m.ActionError = "PATCH /instances/abc: 500 boom"
	if v := m.View(); !strings.Contains(v, "Action failed") {
		t.Error("view should show the action error")
	}
}

func TestViewEmpty(t *testing.T) {
	if v := (Model{}).View(); v != "" {
		t.Errorf("expected empty view, got %q", v)
	}
}
