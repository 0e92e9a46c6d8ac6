package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cursorrunner/cursor-runner/internal/cloudlog"
)

func testLogger() cloudlog.Logger {
	return cloudlog.NewStderrLogger("callback-test")
}

func TestDeliverSucceedsOnFirstAttempt(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		if r.URL.Query().Get("secret") != "shh" {
			t.Errorf("expected signed secret query param, got %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{WebhookSecret: "shh"}, testLogger())
	d.Deliver(context.Background(), "req-1", srv.URL, map[string]any{"ok": true})

	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("received = %d, want 1", received)
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{}, testLogger())
	start := time.Now()
	d.Deliver(context.Background(), "req-2", srv.URL, map[string]any{"ok": true})
	elapsed := time.Since(start)

	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	// two backoffs (1s + 2s) must have elapsed before the third, successful attempt
	if elapsed < 3*time.Second {
		t.Fatalf("elapsed = %v, want at least 3s of backoff", elapsed)
	}
}

func TestDeliverExhaustsRetriesAndDrops(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Config{}, testLogger())
	d.Deliver(context.Background(), "req-3", srv.URL, map[string]any{"ok": false})

	if atomic.LoadInt32(&attempts) != maxAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, maxAttempts)
	}
}

func TestGatedDestinationSkippedWhenDisabled(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := srvHostname(srv.URL)
	d := New(Config{GatedHostnameSubstring: u, GatedFeatureEnabled: false}, testLogger())
	d.Deliver(context.Background(), "req-4", srv.URL, map[string]any{"ok": true})

	if atomic.LoadInt32(&received) != 0 {
		t.Fatalf("received = %d, want 0 (gated destination should no-op)", received)
	}
}

func TestGatedDestinationDeliveredWhenEnabled(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := srvHostname(srv.URL)
	d := New(Config{GatedHostnameSubstring: u, GatedFeatureEnabled: true}, testLogger())
	d.Deliver(context.Background(), "req-5", srv.URL, map[string]any{"ok": true})

	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("received = %d, want 1 (gated but enabled destination should deliver)", received)
	}
}

func TestMaskSecrets(t *testing.T) {
	in := "https://example.com/hook?secret=abc123&Token=xyz&other=keepme"
	out := maskSecrets(in)
	if contains(out, "abc123") || contains(out, "xyz") {
		t.Fatalf("maskSecrets(%q) = %q, secret values leaked", in, out)
	}
	if !contains(out, "keepme") {
		t.Fatalf("maskSecrets(%q) = %q, non-secret param was masked", in, out)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}

func srvHostname(rawURL string) (string, error) {
	// httptest servers listen on 127.0.0.1:<port>; the hostname substring
	// match only needs to uniquely identify this server's host.
	return "127.0.0.1", nil
}
