// Package client provides the HTTP client for the NodePass management API.
// Types mirror the NodePass wire format without depending on NodePass itself.
package client

import "fmt"

// InstanceType is the tunnel role of an instance.
type InstanceType string

const (
	TypeServer InstanceType = "server"
	TypeClient InstanceType = "client"
)

// InstanceStatus is the run state reported by NodePass.
type InstanceStatus string

const (
	StatusRunning InstanceStatus = "running"
	StatusStopped InstanceStatus = "stopped"
	StatusError   InstanceStatus = "error"
)

// Instance is a server or client tunnel definition managed by NodePass.
type Instance struct {
	ID     string         `json:"id"`
	Type   InstanceType   `json:"type"`
	Status InstanceStatus `json:"status"`
	URL    string         `json:"url"`
	TCPRX  uint64         `json:"tcprx"`
	TCPTX  uint64         `json:"tcptx"`
	UDPRX  uint64         `json:"udprx"`
	UDPTX  uint64         `json:"udptx"`
}

// TotalBytes sums all four traffic counters.
func (i Instance) TotalBytes() uint64 {
	return i.TCPRX + i.TCPTX + i.UDPRX + i.UDPTX
}

// Action is a lifecycle command accepted by PATCH /instances/{id}.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// ParseAction validates a user-supplied action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStart, ActionStop, ActionRestart:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q (want start, stop or restart)", s)
}

// Traffic aggregates byte counters over a set of instances.
type Traffic struct {
	TCPRX uint64
	TCPTX uint64
	UDPRX uint64
	UDPTX uint64
}

// Add accumulates one instance's counters.
func (t *Traffic) Add(i Instance) {
	t.TCPRX += i.TCPRX
	t.TCPTX += i.TCPTX
	t.UDPRX += i.UDPRX
	t.UDPTX += i.UDPTX
}

// Total is the sum of all counters.
func (t Traffic) Total() uint64 {
	return t.TCPRX + t.TCPTX + t.UDPRX + t.UDPTX
}

// SumTraffic totals the counters of every instance.
func SumTraffic(instances []Instance) Traffic {
	var t Traffic
	for _, i := range instances {
		t.Add(i)
	}
	return t
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
