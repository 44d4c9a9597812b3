// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/log"
)

// testServerConfig returns a config with timeouts short enough for
// lifecycle tests.
func testServerConfig(host string, port int) config.ServerConfig {
	return config.ServerConfig{
		Host:            host,
		Port:            port,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     10 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 2 * time.Second,
	}
}

// reserveListenAddr grabs a free port and returns it split for
// config.ServerConfig, which builds the listen address itself.
func reserveListenAddr(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "reserve listen addr")
	addr := ln.Addr().String()
	_ = ln.Close()
	return splitAddr(t, addr)
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err, "split %q", addr)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err, "parse port %q", portStr)
	return host, port
}

// waitForListen polls addr until a TCP dial succeeds.
func waitForListen(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never started listening on %s", addr)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewManager(t *testing.T) {
	mgr, err := NewManager(testServerConfig("127.0.0.1", 0), Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: http.NotFoundHandler(),
	})
	require.NoError(t, err)
	require.NotNil(t, mgr)
}

func TestNewManager_DepsValidation(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
		want string
	}{
		{
			name: "disabled logger",
			deps: Deps{Logger: zerolog.Nop(), APIHandler: http.NotFoundHandler()},
			want: "logger is required",
		},
		{
			name: "missing api handler",
			deps: Deps{Logger: log.WithComponent("test")},
			want: "API handler is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(testServerConfig("127.0.0.1", 0), tt.deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestManager_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	_, cancel, errCh := startedManager(t)
	defer cancel()

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestManager_ShutdownTimesOutOnStuckRequest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var once sync.Once
	inFlight := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(inFlight) })
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})

	host, port := reserveListenAddr(t)
	cfg := testServerConfig(host, port)
	cfg.ShutdownTimeout = 100 * time.Millisecond // force the timeout path

	mgr, err := NewManager(cfg, Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: handler,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- mgr.Start(ctx) }()
	waitForListen(t, cfg.ListenAddr())

	requestDone := make(chan struct{})
	go func() {
		defer close(requestDone)
		client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+cfg.ListenAddr(), nil)
		if resp, err := client.Do(req); err == nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-inFlight:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an in-flight request before shutdown")
	}

	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err, "drain should not finish while a request is stuck")
		assert.ErrorContains(t, err, "context deadline exceeded")
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}

	close(release)

	select {
	case <-requestDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stuck request did not terminate after shutdown")
	}
}

func TestManager_Shutdown_NotStarted(t *testing.T) {
	mgr, err := NewManager(testServerConfig("127.0.0.1", 0), Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: http.NotFoundHandler(),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_PropagatesListenErrors(t *testing.T) {
	// Occupy a port, then ask the manager to bind it.
	occupied := httptest.NewServer(http.NotFoundHandler())
	defer occupied.Close()

	host, port := splitAddr(t, occupied.Listener.Addr().String())
	mgr, err := NewManager(testServerConfig(host, port), Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: http.NotFoundHandler(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = mgr.Start(ctx)
	require.Error(t, err, "binding an occupied port must fail")
	assert.ErrorContains(t, err, "api server")
}
