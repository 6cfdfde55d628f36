package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
)

const (
	defaultEventName  = "message"
	instanceEventName = "instance"

	// ShutdownMessage is the payload of every shutdown event.
	ShutdownMessage = "Server shutting down"
)

var frameSeparator = []byte("\n\n")

// RawFrame is one blank-line-delimited block of the event stream.
type RawFrame struct {
	Event string
	Data  string
}

// ParseFrame scans the lines of a frame. Only "event:" and "data:" are kept;
// a repeated field overwrites the earlier value.
func ParseFrame(block string) RawFrame {
	f := RawFrame{Event: defaultEventName}
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			f.Event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			f.Data = strings.TrimSpace(line[len("data:"):])
		}
	}
	return f
}

// Parser splits an incrementally delivered stream into frames and decodes
// them. The unterminated tail of the stream is kept until its separator
// arrives. A Parser is not safe for concurrent use.
type Parser struct {
	buf []byte
	now func() time.Time
}

// NewParser returns a parser stamping events without a time field with
// time.Now.
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// Feed appends chunk to the buffer and returns the events decoded from every
// frame completed by it, in stream order.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, bytes.ReplaceAll(chunk, []byte("\r"), nil)...)

	var out []Event
	for {
		i := bytes.Index(p.buf, frameSeparator)
		if i < 0 {
			break
		}
		block := string(p.buf[:i])
		p.buf = p.buf[i+len(frameSeparator):]
		if ev, ok := Decode(ParseFrame(block), p.now()); ok {
			out = append(out, ev)
		}
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Pending returns the number of buffered bytes not yet terminated by a
// separator.
func (p *Parser) Pending() int {
	return len(p.buf)
}

type wireEvent struct {
	Type     string          `json:"type"`
	Time     json.RawMessage `json:"time"`
	Instance json.RawMessage `json:"instance"`
	Data     json.RawMessage `json:"data"`
	Logs     *string         `json:"logs"`
}

// Decode classifies a frame. It returns false when the frame yields no event:
// empty data, an instance frame without data, or a "retry:" advisory.
func Decode(f RawFrame, now time.Time) (Event, bool) {
	if f.Data == "" {
		return Event{}, false
	}
	if f.Event != instanceEventName {
		if strings.HasPrefix(f.Data, "retry:") {
			return Event{}, false
		}
		return textEvent(KindLog, fmt.Sprintf("Generic message [%s]: %s", f.Event, f.Data), LevelNone, now), true
	}

	var w wireEvent
	if err := json.Unmarshal([]byte(f.Data), &w); err != nil {
		return malformed(err, f.Data, now), true
	}
	at := eventTime(w.Time, now)

	switch kind := Kind(w.Type); kind {
	case KindInitial, KindCreate, KindUpdate, KindDelete:
		var inst client.Instance
		src := w.Instance
		if !present(src) {
			src = w.Data
		}
		if present(src) {
			if err := json.Unmarshal(src, &inst); err != nil {
				return malformed(err, f.Data, now), true
			}
		}
		return instanceEvent(kind, inst, at), true
	case KindLog:
		if w.Logs == nil {
			return textEvent(KindLog, "Malformed log frame without logs field: "+f.Data, LevelWarn, at), true
		}
		return textEvent(KindLog, *w.Logs, LevelNone, at), true
	case KindShutdown:
		return textEvent(KindShutdown, ShutdownMessage, LevelWarn, at), true
	default:
		return textEvent(KindLog, fmt.Sprintf("Unknown instance event type %q: event=%s data=%s", w.Type, f.Event, f.Data), LevelNone, at), true
	}
}

func malformed(err error, raw string, now time.Time) Event {
	return textEvent(KindLog, fmt.Sprintf("Failed to parse instance event: %v (raw: %s)", err, raw), LevelError, now)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func eventTime(raw json.RawMessage, now time.Time) time.Time {
	if !present(raw) {
		return now
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil || t.IsZero() {
		return now
	}
	return t
}
