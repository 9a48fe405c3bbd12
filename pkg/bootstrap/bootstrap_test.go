package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSingleNodeBecomesLeader(t *testing.T) {
	n, err := New(Config{
		Host:    "127.0.0.1",
		Port:    19000,
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(n.Shutdown)

	require.Eventually(t, n.manager.IsLeader, 2*time.Second, 5*time.Millisecond)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	n, err := New(Config{
		Host:    "127.0.0.1",
		Port:    19001,
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Serve(ctx) }()

	require.Eventually(t, n.manager.IsLeader, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}

func TestServerIDFormatsHostPort(t *testing.T) {
	cfg := Config{Host: "10.0.0.5", Port: 9001}
	require.Equal(t, "10.0.0.5:9001", cfg.ServerID())
}
