package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	recorder := New()
	recorder.ObserveEvent("message.created")
	recorder.ObserveEvent("message.created")
	recorder.ObserveReconstruction("identity")
	recorder.ObserveEdit()
	recorder.ObserveCommand("snipe", OutcomeServed)
	recorder.ObserveOutboundError("discord", "rate_limited")

	if got := testutil.ToFloat64(recorder.eventsTotal.WithLabelValues("message.created")); got != 2 {
		t.Fatalf("events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(recorder.reconstructionsTotal.WithLabelValues("identity")); got != 1 {
		t.Fatalf("reconstructions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(recorder.editsTotal); got != 1 {
		t.Fatalf("edits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(recorder.commandsTotal.WithLabelValues("snipe", OutcomeServed)); got != 1 {
		t.Fatalf("commands = %v, want 1", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	t.Parallel()

	var recorder *Recorder
	recorder.ObserveEvent("x")
	recorder.ObserveReconstruction("x")
	recorder.ObserveEdit()
	recorder.ObserveCommand("x", "y")
	recorder.ObserveOutboundError("x", "y")
	if err := recorder.RegisterGauge("x", "y", func() float64 { return 0 }); err != nil {
		t.Fatalf("nil recorder gauge registration failed: %v", err)
	}
}

func TestServerHandler(t *testing.T) {
	t.Parallel()

	recorder := New()
	if err := recorder.RegisterGauge("snipebot_identity_cache_entries", "entries", func() float64 { return 7 }); err != nil {
		t.Fatalf("register gauge failed: %v", err)
	}
	recorder.ObserveCommand("snipe", OutcomeDenied)

	server := NewServer("", recorder, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler := server.Handler()

	recorderResponse := httptest.NewRecorder()
	handler.ServeHTTP(recorderResponse, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := recorderResponse.Body.String()
	for _, want := range []string{
		"snipebot_identity_cache_entries 7",
		`snipebot_commands_total{command="snipe",outcome="denied"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics body missing %q", want)
		}
	}

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", health.Code)
	}
}

func TestServerServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := NewServer(listener.Addr().String(), New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, listener)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
