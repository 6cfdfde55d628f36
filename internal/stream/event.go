// Package stream consumes the NodePass instance event feed: it frames and
// decodes the server-sent-event body, keeps a bounded log of recent events and
// runs the connection state machine that reconnects after failures.
package stream

import (
	"regexp"
	"strings"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/charmbracelet/x/ansi"
)

// Kind classifies a decoded event.
type Kind string

const (
	KindInitial  Kind = "initial"
	KindCreate   Kind = "create"
	KindUpdate   Kind = "update"
	KindDelete   Kind = "delete"
	KindLog      Kind = "log"
	KindShutdown Kind = "shutdown"
	KindError    Kind = "error"
)

// IsLifecycle reports whether events of this kind carry an instance record.
func (k Kind) IsLifecycle() bool {
	switch k {
	case KindInitial, KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Level is a log severity found in a text payload.
type Level string

const (
	LevelNone  Level = ""
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

var levelPattern = regexp.MustCompile(`(?i)\b(DEBUG|INFO|WARN|ERROR|FATAL)\b`)

// ExtractLevel returns the first whole-word, case-insensitive level token in
// text. ANSI colour sequences are stripped first so "\x1b[32mINFO" matches.
func ExtractLevel(text string) Level {
	m := levelPattern.FindStringSubmatch(ansi.Strip(text))
	if m == nil {
		return LevelNone
	}
	return Level(strings.ToUpper(m[1]))
}

// Payload is the body of an event: either InstancePayload or TextPayload.
type Payload interface {
	isPayload()
}

// InstancePayload carries an instance record for lifecycle events.
type InstancePayload struct {
	Instance client.Instance
}

// TextPayload carries a log line or a diagnostic message.
type TextPayload string

func (InstancePayload) isPayload() {}
func (TextPayload) isPayload()     {}

// Event is one decoded unit delivered to the session's sink.
type Event struct {
	Kind    Kind
	Payload Payload
	Level   Level
	Time    time.Time
}

// Text returns the text payload, if the event has one.
func (e Event) Text() (string, bool) {
	t, ok := e.Payload.(TextPayload)
	return string(t), ok
}

// Instance returns the instance payload, if the event has one.
func (e Event) Instance() (client.Instance, bool) {
	p, ok := e.Payload.(InstancePayload)
	return p.Instance, ok
}

// String renders the event payload for display.
func (e Event) String() string {
	if t, ok := e.Text(); ok {
		return t
	}
	if inst, ok := e.Instance(); ok {
		return string(e.Kind) + " " + string(inst.Type) + " " + inst.ID + " " + string(inst.Status)
	}
	return string(e.Kind)
}

func instanceEvent(kind Kind, inst client.Instance, at time.Time) Event {
	return Event{Kind: kind, Payload: InstancePayload{Instance: inst}, Time: at}
}

// textEvent builds a text event. The level comes from the text itself; fallback
// applies only when the text names no level.
func textEvent(kind Kind, text string, fallback Level, at time.Time) Event {
	lvl := ExtractLevel(text)
	if lvl == LevelNone {
		lvl = fallback
	}
	return Event{Kind: kind, Payload: TextPayload(text), Level: lvl, Time: at}
}
