package instances

import (
	"strings"
	"testing"

	"github.com/NodePassProject/nodepass-panel/internal/client"
)

func sample() map[string]client.Instance {
	return map[string]client.Instance{
		"c1": {ID: "c1", Type: client.TypeClient, Status: client.StatusStopped, URL: "client://h:1/127.0.0.1:2"},
		"s2": {ID: "s2", Type: client.TypeServer, Status: client.StatusRunning, URL: "server://:1/127.0.0.1:2", TCPRX: 300},
		"s1": {ID: "s1", Type: client.TypeServer, Status: client.StatusError, TCPTX: 100},
	}
}

func TestSetInstancesSortsServersFirst(t *testing.T) {
	m := New()
	m.SetInstances(sample())
	var ids []string
	for _, inst := range m.Instances() {
		ids = append(ids, inst.ID)
	}
	if got := strings.Join(ids, ","); got != "s1,s2,c1" {
		t.Errorf("order = %s, want s1,s2,c1", got)
	}
}

func TestSelectionFollowsInstance(t *testing.T) {
	m := New()
	m.SetInstances(sample())
	m.Next() // s2
	cur, _ := m.Current()
	if cur.ID != "s2" {
		t.Fatalf("selected %s, want s2", cur.ID)
	}

	updated := sample()
	delete(updated, "s1")
	m.SetInstances(updated)
	cur, _ = m.Current()
	if cur.ID != "s2" {
		t.Errorf("selection moved to %s after removal, want s2", cur.ID)
	}
}

func TestSelectionClampedWhenSelectedRemoved(t *testing.T) {
	m := New()
	m.SetInstances(sample())
	m.Prev() // wraps to c1
	cur, _ := m.Current()
	if cur.ID != "c1" {
		t.Fatalf("selected %s, want c1", cur.ID)
	}
	updated := sample()
	delete(updated, "c1")
	m.SetInstances(updated)
	if m.Selected != 1 {
		t.Errorf("Selected = %d, want 1", m.Selected)
	}

	m.SetInstances(nil)
	if _, ok := m.Current(); ok {
		t.Error("empty table should have no selection")
	}
}

func TestGaugeSpringConverges(t *testing.T) {
	m := New()
	m.SetRate(1000)
	if m.Settled() {
		t.Fatal("gauge should not be settled right after a new sample")
	}
	for i := 0; i < 10*FrameRate; i++ {
		m.Animate()
	}
	if !m.Settled() {
		t.Errorf("gauge did not settle, shown = %.2f", m.Shown())
	}
}

func TestViewEmpty(t *testing.T) {
	m := New()
	m.Width = 120
	if v := m.View(); !strings.Contains(v, "No instances") {
		t.Error("empty view should show 'No instances'")
	}
}

func TestViewWithInstances(t *testing.T) {
	m := New()
	m.Width = 160
	m.SetInstances(sample())
	v := m.View()
	for _, want := range []string{"s1", "s2", "c1", "Running: 1", "Stopped: 1", "Error: 1", "75%"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
