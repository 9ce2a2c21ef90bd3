package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/blockmon/internal/core/config"
	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/indexing/ingest"
)

const nodeHash = "0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6"

// newNode serves eth_getBlockByNumber with a fresh block.
func newNode(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"number":"0x2a","hash":"%s","timestamp":"0x%x"}}`,
			req.ID, nodeHash, time.Now().Unix())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

func testConfig(t *testing.T, rpcURL string) *config.AppConfig {
	cfg := config.Default()
	cfg.Server.Listen = freeAddr(t)
	cfg.RPC.HTTPURL = rpcURL
	cfg.RPC.Timeout = time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestWatcher_PollLifecycle(t *testing.T) {
	node := newNode(t)
	cfg := testConfig(t, node.URL)

	w, err := NewWatcher(cfg, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The poller fetches immediately on start.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := w.state.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.Latest != nil {
			if snap.Latest.Number != 42 {
				t.Errorf("expected block 42, got %d", snap.Latest.Number)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no block ingested")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Health endpoint is served on the configured address.
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + cfg.Server.Listen + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_StreamClosedIsFatal(t *testing.T) {
	node := newNode(t)
	refuse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer refuse.Close()

	cfg := testConfig(t, node.URL)
	cfg.RPC.WSURL = "ws" + strings.TrimPrefix(refuse.URL, "http")
	cfg.Subscriber.InitialBackoff = 10 * time.Millisecond
	cfg.Subscriber.MaxReconnects = 1

	w, err := NewWatcher(cfg, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if cfg.Mode() != domain.IngestModePush {
		t.Fatalf("expected push mode")
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ingest.ErrStreamClosed) {
			t.Fatalf("expected ErrStreamClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after stream closed")
	}
}

func TestWatcher_FatalStopsRun(t *testing.T) {
	node := newNode(t)
	w, err := NewWatcher(testConfig(t, node.URL), nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	boom := errors.New("state poisoned")
	// Wait until Run has installed its cancel func.
	for i := 0; i < 100; i++ {
		w.mu.Lock()
		ready := w.cancel != nil
		w.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.fatal(boom)

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected fatal error, got %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Run did not return after fatal")
	}
}

func TestNewWatcher_ZeroFrequency(t *testing.T) {
	cfg := config.Default()
	cfg.Monitor.BlockFrequency = 0

	_, err := NewWatcher(cfg, nil)
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error, got %v", err)
	}
}
