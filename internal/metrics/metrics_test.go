package metrics_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cohort-run/cohort/internal/metrics"
)

func TestRegistryExposesMetrics(t *testing.T) {
	worker := "metrics_test_worker"

	metrics.EmitBuildInfo()
	metrics.SetWorkerRunning(worker, true)
	metrics.IncrementWorkerExit(worker, "exited")
	metrics.IncrementStopSignal(worker, "terminate")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}

	body := rec.Body.String()
	runningLine := fmt.Sprintf("cohort_worker_running{worker=\"%s\"} 1", worker)
	if !strings.Contains(body, runningLine) {
		t.Fatalf("expected running metric line %q in body:\n%s", runningLine, body)
	}

	exitsLine := fmt.Sprintf("cohort_worker_exits_total{outcome=\"exited\",worker=\"%s\"} 1", worker)
	if !strings.Contains(body, exitsLine) {
		t.Fatalf("expected exit metric line %q in body:\n%s", exitsLine, body)
	}

	signalsLine := fmt.Sprintf("cohort_stop_signals_total{signal=\"terminate\",worker=\"%s\"} 1", worker)
	if !strings.Contains(body, signalsLine) {
		t.Fatalf("expected signal metric line %q in body:\n%s", signalsLine, body)
	}

	if !strings.Contains(body, "cohort_build_info{") {
		t.Fatalf("expected build info metric in body:\n%s", body)
	}
	if !strings.Contains(body, "go_version=") {
		t.Fatalf("expected go_version label on build info metric:\n%s", body)
	}
}

func TestResetWorkerClearsSeries(t *testing.T) {
	worker := "metrics_test_reset"
	metrics.SetWorkerRunning(worker, true)
	metrics.IncrementWorkerExit(worker, "killed")

	metrics.ResetWorker(worker)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, fmt.Sprintf("worker=\"%s\"", worker)) {
		t.Fatalf("expected worker series to be cleared, body:\n%s", body)
	}
}

func TestServerServesMetricsUntilCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	srv := metrics.NewServer(metrics.ServerConfig{Listener: listener})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	url := fmt.Sprintf("http://%s/metrics", srv.Addr())
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics endpoint never came up: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status %d from metrics endpoint", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_gc") && !strings.Contains(string(body), "cohort_") {
		t.Fatalf("unexpected metrics body:\n%s", string(body))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
}
