package web

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/SmartStepper/internal/config"
	"github.com/cjeanneret/SmartStepper/internal/logic/motion"
)

func TestServe_ShutdownWithOpenEventStream(t *testing.T) {
	session := motion.NewSession(mockStepperFactory())
	defer session.Close()
	b := NewStatusBroadcaster()
	srv, err := NewServer(config.Default(), session, b)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 10*time.Millisecond)

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), shutdownTimeout)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, 0, b.Clients(), "stream handler should have unsubscribed")
}

func TestRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Default()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	cfg.Server.Host = host
	cfg.Server.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	srv, err := NewServer(cfg, motion.NewSession(mockStepperFactory()), nil)
	require.NoError(t, err)
	assert.Error(t, srv.Run(context.Background()), "address already in use")
}
