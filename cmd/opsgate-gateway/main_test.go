package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juanpasaflipz/agentic-devops/internal/config"
)

func TestRunDefaults(t *testing.T) {
	var got *http.Server
	cmd := newRootCmd(func(_ context.Context, srv *http.Server) error {
		got = srv
		return nil
	})
	cmd.SetArgs([]string{"--policy", filepath.Join(t.TempDir(), "policy.yaml")})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Addr != config.DefaultListenAddr {
		t.Fatalf("expected default addr, got %+v", got)
	}
	if got.Handler == nil {
		t.Fatalf("expected handler to be set")
	}
}

func TestRunLoadsConfigFileAndFlagsWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opsgate.yaml")
	body := "listen_addr: \":9999\"\npolicy_path: \"" + filepath.Join(dir, "policy.yaml") + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var addrs []string
	listen := func(_ context.Context, srv *http.Server) error {
		addrs = append(addrs, srv.Addr)
		return nil
	}

	cmd := newRootCmd(listen)
	cmd.SetArgs([]string{"--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmd = newRootCmd(listen)
	cmd.SetArgs([]string{"--config", path, "--listen", "127.0.0.1:1234"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 2 || addrs[0] != ":9999" || addrs[1] != "127.0.0.1:1234" {
		t.Fatalf("unexpected addrs: %v", addrs)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	called := false
	cmd := newRootCmd(func(context.Context, *http.Server) error {
		called = true
		return nil
	})
	cmd.SetArgs([]string{"--mode", "production"})
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected production without token to fail")
	}
	if called {
		t.Fatalf("server must not start with invalid config")
	}
}

func TestBuildServesHealthz(t *testing.T) {
	cfg := config.Default()
	cfg.PolicyPath = filepath.Join(t.TempDir(), "policy.yaml")
	gw, err := build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer gw.Close()
	if gw.store.Durable() {
		t.Fatalf("expected in-memory ledger without a db driver")
	}

	res := httptest.NewRecorder()
	gw.server.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
