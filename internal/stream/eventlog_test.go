package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logEvent(text string) Event {
	return textEvent(KindLog, text, LevelNone, time.Now())
}

func TestEventLogNewestFirst(t *testing.T) {
	l := NewEventLog(0)
	l.Add(logEvent("one"))
	l.Add(logEvent("two"))
	got := l.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].String())
	assert.Equal(t, "one", got[1].String())
}

func TestEventLogCapacity(t *testing.T) {
	l := NewEventLog(DefaultLogCapacity)
	for i := 1; i <= DefaultLogCapacity; i++ {
		l.Add(logEvent(fmt.Sprintf("line %d", i)))
	}
	require.Equal(t, DefaultLogCapacity, l.Len())
	assert.Equal(t, "line 1", l.Entries()[DefaultLogCapacity-1].String())

	l.Add(logEvent("line 201"))
	got := l.Entries()
	require.Len(t, got, DefaultLogCapacity)
	assert.Equal(t, "line 201", got[0].String())
	assert.Equal(t, "line 2", got[DefaultLogCapacity-1].String(), "oldest entry should be dropped")
}

func TestEventLogStatusDedupe(t *testing.T) {
	l := NewEventLog(0)
	l.Add(logEvent("Initializing event stream for lab"))
	l.Add(logEvent("tunnel up"))
	l.Add(instanceEvent(KindUpdate, client.Instance{ID: "x"}, time.Now()))
	l.Add(logEvent("连接已关闭"))
	l.Add(logEvent("plain line"))
	l.Add(logEvent("Event stream connected"))

	var texts []string
	for _, e := range l.Entries() {
		texts = append(texts, e.String())
	}
	assert.Equal(t, []string{
		"Event stream connected",
		"plain line",
		"update  x ",
		"tunnel up",
	}, texts)
}

func TestEventLogChineseKeyword(t *testing.T) {
	l := NewEventLog(0)
	l.Add(logEvent("已连接"))
	l.Add(logEvent("other"))
	l.Add(logEvent("服务器已连接"))
	got := l.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, "服务器已连接", got[0].String())
	assert.Equal(t, "other", got[1].String())
}

func TestIsStatus(t *testing.T) {
	assert.True(t, IsStatus(logEvent("Cannot establish event stream to x")))
	assert.True(t, IsStatus(logEvent("SERVER SHUTTING DOWN")))
	assert.False(t, IsStatus(logEvent("traffic stats")))
	assert.False(t, IsStatus(instanceEvent(KindCreate, client.Instance{}, time.Now())))
}

func TestEventLogReset(t *testing.T) {
	l := NewEventLog(0)
	l.Add(logEvent("x"))
	l.Reset()
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Entries())
}
