package web

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt StatusEvent
		require.NoError(t, json.Unmarshal([]byte(msg), &evt))
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return StatusEvent{}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("warning", "hello")

	evt := recv(t, ch)
	assert.Equal(t, KindLog, evt.Kind)
	assert.Equal(t, "warning", evt.Level)
	assert.Equal(t, "hello", evt.Msg)
	assert.NotEmpty(t, evt.Time)
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()
	assert.Equal(t, 2, b.Clients())

	b.Broadcast("info", "multi")

	for _, ch := range []<-chan string{ch1, ch2} {
		assert.Equal(t, "multi", recv(t, ch).Msg)
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, b.Clients())

	// Publishing with no subscribers must not panic.
	b.Broadcast("info", "after unsub")
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 64; i++ {
		b.Broadcast("info", "fill")
	}
	b.Broadcast("info", "overflow")

	assert.Len(t, ch, 64)
}

func TestBroadcaster_MotorEvent(t *testing.T) {
	b := NewStatusBroadcaster()
	b.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ch, unsub := b.Subscribe()
	defer unsub()

	b.MotorEvent("control", map[string]string{"status": "success"})

	evt := recv(t, ch)
	assert.Equal(t, KindMotor, evt.Kind)
	assert.Equal(t, "control", evt.Msg)
	assert.Equal(t, "2024-05-01T12:00:00Z", evt.Time)
	assert.Equal(t, map[string]interface{}{"status": "success"}, evt.Data)
}

func TestBroadcastWriter_LogrusLines(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	p := []byte("time=\"x\" level=warning msg=\"config\"\n  plain line  \n")
	n, err := w.Write(p)
	require.NoError(t, err)
	assert.Equal(t, len(p), n)

	first := recv(t, ch)
	assert.Equal(t, "warning", first.Level)
	assert.Equal(t, `time="x" level=warning msg="config"`, first.Msg)

	second := recv(t, ch)
	assert.Equal(t, "info", second.Level)
	assert.Equal(t, "plain line", second.Msg)
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	_, _ = BroadcastWriter(b).Write([]byte("   \n\n"))
	assert.Len(t, ch, 0)
}
