package web

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event kinds sent on the SSE stream.
const (
	KindLog   = "log"
	KindMotor = "motor"
)

// StatusEvent is a single SSE message.
type StatusEvent struct {
	Time  string      `json:"t"`
	Kind  string      `json:"kind"`
	Level string      `json:"l,omitempty"`
	Msg   string      `json:"msg"`
	Data  interface{} `json:"data,omitempty"`
}

// StatusBroadcaster distributes events to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel that receives broadcast events and a cleanup
// function the caller must run on disconnect.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of connected subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish sends evt to every subscriber. Slow clients miss events rather
// than block the publisher.
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	if evt.Time == "" {
		evt.Time = b.now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Broadcast sends a log line.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Kind: KindLog, Level: level, Msg: msg})
}

// MotorEvent publishes the outcome of a motor command. action is the API
// verb (init, control, stop) and resp the body returned to the caller.
func (b *StatusBroadcaster) MotorEvent(action string, resp interface{}) {
	b.Publish(StatusEvent{Kind: KindMotor, Msg: action, Data: resp})
}

var levelField = regexp.MustCompile(`\blevel=(\w+)`)

// BroadcastWriter returns an io.Writer that forwards each log line to SSE
// clients. The logrus text level, when present, becomes the event level.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		level := "info"
		if m := levelField.FindStringSubmatch(line); m != nil {
			level = m[1]
		}
		w.b.Broadcast(level, line)
	}
	return len(p), nil
}
