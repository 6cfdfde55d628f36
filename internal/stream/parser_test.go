package stream

import (
	"testing"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedSplitMidLine(t *testing.T) {
	p := NewParser()

	evs := p.Feed([]byte("event: instance\ndat"))
	assert.Empty(t, evs)
	assert.Equal(t, len("event: instance\ndat"), p.Pending())

	evs = p.Feed([]byte("a: {\"type\":\"log\",\"logs\":\"hello\"}\n\n"))
	require.Len(t, evs, 1)
	assert.Equal(t, KindLog, evs[0].Kind)
	text, ok := evs[0].Text()
	require.True(t, ok)
	assert.Equal(t, "hello", text)
	assert.Zero(t, p.Pending())
}

func TestFeedKeepsOrderAcrossFrames(t *testing.T) {
	p := NewParser()
	evs := p.Feed([]byte(
		"event: instance\ndata: {\"type\":\"create\",\"instance\":{\"id\":\"a\"}}\n\n" +
			"event: instance\ndata: {\"type\":\"update\",\"instance\":{\"id\":\"b\"}}\n\n" +
			"event: instance\ndata: {\"type\":\"delete\",\"instance\":{\"id\":\"c\"}}\n\nevent: inst"))
	require.Len(t, evs, 3)
	var ids []string
	for _, ev := range evs {
		inst, ok := ev.Instance()
		require.True(t, ok)
		ids = append(ids, inst.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, len("event: inst"), p.Pending())
}

func TestFeedCRLF(t *testing.T) {
	p := NewParser()
	evs := p.Feed([]byte("event: instance\r\ndata: {\"type\":\"log\",\"logs\":\"x\"}\r\n\r\n"))
	require.Len(t, evs, 1)
}

func TestFeedMultibyteSplit(t *testing.T) {
	p := NewParser()
	frame := []byte("event: instance\ndata: {\"type\":\"log\",\"logs\":\"已连接\"}\n\n")
	// split inside the first multi-byte rune
	cut := len("event: instance\ndata: {\"type\":\"log\",\"logs\":\"") + 1
	assert.Empty(t, p.Feed(frame[:cut]))
	evs := p.Feed(frame[cut:])
	require.Len(t, evs, 1)
	text, _ := evs[0].Text()
	assert.Equal(t, "已连接", text)
}

func TestDecodeLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, kind := range []Kind{KindInitial, KindCreate, KindUpdate, KindDelete} {
		t.Run(string(kind), func(t *testing.T) {
			data := `{"type":"` + string(kind) + `","instance":{"id":"i1","type":"server","status":"running","url":"server://:1/x","tcprx":1,"tcptx":2,"udprx":3,"udptx":4}}`
			ev, ok := Decode(RawFrame{Event: "instance", Data: data}, now)
			require.True(t, ok)
			assert.Equal(t, kind, ev.Kind)
			inst, ok := ev.Instance()
			require.True(t, ok)
			assert.Equal(t, client.Instance{
				ID: "i1", Type: client.TypeServer, Status: client.StatusRunning, URL: "server://:1/x",
				TCPRX: 1, TCPTX: 2, UDPRX: 3, UDPTX: 4,
			}, inst)
			assert.Equal(t, LevelNone, ev.Level)
			assert.Equal(t, now, ev.Time)
		})
	}
}

func TestDecodeLifecycleFallbacks(t *testing.T) {
	now := time.Now()

	ev, ok := Decode(RawFrame{Event: "instance", Data: `{"type":"update","data":{"id":"d1"}}`}, now)
	require.True(t, ok)
	inst, _ := ev.Instance()
	assert.Equal(t, "d1", inst.ID)

	ev, ok = Decode(RawFrame{Event: "instance", Data: `{"type":"create"}`}, now)
	require.True(t, ok)
	inst, ok = ev.Instance()
	require.True(t, ok)
	assert.Equal(t, client.Instance{}, inst)
}

func TestDecodeUsesPayloadTime(t *testing.T) {
	ev, ok := Decode(RawFrame{Event: "instance", Data: `{"type":"log","time":"2025-06-01T10:00:00Z","logs":"x"}`}, time.Now())
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), ev.Time.UTC())

	now := time.Now()
	ev, _ = Decode(RawFrame{Event: "instance", Data: `{"type":"log","time":"yesterday","logs":"x"}`}, now)
	assert.Equal(t, now, ev.Time)
}

func TestDecodeLogLevels(t *testing.T) {
	tests := []struct {
		logs string
		want Level
	}{
		{"2025-01-01 ERROR dial failed", LevelError},
		{"something error happened", LevelError},
		{"\x1b[32mINFO\x1b[0m tunnel ready", LevelInfo},
		{"warn: slow handshake", LevelWarn},
		{"debugging ERRORS only", LevelNone},
		{"fatal then info", LevelFatal},
		{"no level here", LevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.logs, func(t *testing.T) {
			data := `{"type":"log","logs":` + quote(tt.logs) + `}`
			ev, ok := Decode(RawFrame{Event: "instance", Data: data}, time.Now())
			require.True(t, ok)
			assert.Equal(t, KindLog, ev.Kind)
			assert.Equal(t, tt.want, ev.Level)
		})
	}
}

func TestDecodeLogWithoutField(t *testing.T) {
	ev, ok := Decode(RawFrame{Event: "instance", Data: `{"type":"log"}`}, time.Now())
	require.True(t, ok)
	assert.Equal(t, KindLog, ev.Kind)
	text, _ := ev.Text()
	assert.Contains(t, text, "Malformed log frame")
	assert.Contains(t, text, `{"type":"log"}`)
}

func TestDecodeShutdown(t *testing.T) {
	ev, ok := Decode(RawFrame{Event: "instance", Data: `{"type":"shutdown"}`}, time.Now())
	require.True(t, ok)
	assert.Equal(t, KindShutdown, ev.Kind)
	text, _ := ev.Text()
	assert.Equal(t, ShutdownMessage, text)
	assert.True(t, IsStatus(ev))
}

func TestDecodeUnknownType(t *testing.T) {
	ev, ok := Decode(RawFrame{Event: "instance", Data: `{"type":"migrate"}`}, time.Now())
	require.True(t, ok)
	assert.Equal(t, KindLog, ev.Kind)
	text, _ := ev.Text()
	assert.Contains(t, text, `"migrate"`)
	assert.Contains(t, text, "event=instance")
}

func TestDecodeMalformedJSON(t *testing.T) {
	p := NewParser()
	evs := p.Feed([]byte("event: instance\ndata: {not json\n\nevent: instance\ndata: {\"type\":\"log\",\"logs\":\"after\"}\n\n"))
	require.Len(t, evs, 2)
	assert.Equal(t, KindLog, evs[0].Kind)
	assert.Equal(t, LevelError, evs[0].Level)
	text, _ := evs[0].Text()
	assert.Contains(t, text, "{not json")

	text, _ = evs[1].Text()
	assert.Equal(t, "after", text)
}

func TestDecodeNonInstanceFrames(t *testing.T) {
	now := time.Now()

	_, ok := Decode(ParseFrame("data: retry: 3000"), now)
	assert.False(t, ok, "retry advisory must be discarded")

	_, ok = Decode(ParseFrame("retry: 5000"), now)
	assert.False(t, ok)

	_, ok = Decode(ParseFrame("event: instance"), now)
	assert.False(t, ok)

	ev, ok := Decode(ParseFrame("event: ping\ndata: hi"), now)
	require.True(t, ok)
	assert.Equal(t, KindLog, ev.Kind)
	text, _ := ev.Text()
	assert.Equal(t, "Generic message [ping]: hi", text)
}

func TestParseFrame(t *testing.T) {
	f := ParseFrame(": comment\nid: 7\nevent:  instance \ndata: one\ndata: two")
	assert.Equal(t, RawFrame{Event: "instance", Data: "two"}, f)

	assert.Equal(t, "message", ParseFrame("data: x").Event)
}

func quote(s string) string {
	out := []byte{'"'}
	for _, r := range s {
		switch r {
		case '"':
			out = append(out, '\\', '"')
		case '\x1b':
			out = append(out, []byte(`\u001b`)...)
		default:
			out = append(out, string(r)...)
		}
	}
	return string(append(out, '"'))
}
