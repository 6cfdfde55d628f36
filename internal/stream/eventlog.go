package stream

import "strings"

// DefaultLogCapacity bounds the event log.
const DefaultLogCapacity = 200

// statusKeywords mark connection-status lines. Only the newest such line is
// kept in the log.
var statusKeywords = []string{
	"initializing",
	"connected",
	"connection closed",
	"cannot establish",
	"shutting down",
	"disabled",
	"初始化",
	"已连接",
	"连接已关闭",
	"无法建立",
	"正在关闭",
	"已禁用",
}

// IsStatus reports whether e is a connection-status line.
func IsStatus(e Event) bool {
	text, ok := e.Text()
	if !ok {
		return false
	}
	text = strings.ToLower(text)
	for _, kw := range statusKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// EventLog is a bounded, newest-first list of events. It is not safe for
// concurrent use; Session guards its own log.
type EventLog struct {
	entries  []Event
	capacity int
}

// NewEventLog returns an empty log holding at most capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &EventLog{capacity: capacity}
}

// Add inserts e at the front. A status event first evicts every earlier status
// event; the oldest entries beyond capacity are dropped.
func (l *EventLog) Add(e Event) {
	kept := l.entries
	if IsStatus(e) {
		kept = make([]Event, 0, len(l.entries))
		for _, old := range l.entries {
			if !IsStatus(old) {
				kept = append(kept, old)
			}
		}
	}
	n := len(kept) + 1
	if n > l.capacity {
		n = l.capacity
	}
	next := make([]Event, n)
	next[0] = e
	copy(next[1:], kept)
	l.entries = next
}

// Entries returns a copy of the log, newest first.
func (l *EventLog) Entries() []Event {
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of buffered events.
func (l *EventLog) Len() int {
	return len(l.entries)
}

// Reset empties the log.
func (l *EventLog) Reset() {
	l.entries = nil
}
