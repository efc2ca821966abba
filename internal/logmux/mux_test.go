package logmux

import (
	"strings"
	"testing"
	"time"

	"github.com/cohort-run/cohort/internal/runtime"
	"github.com/cohort-run/cohort/internal/supervise"
)

func collect(t *testing.T, out <-chan supervise.Event) []supervise.Event {
	t.Helper()
	var events []supervise.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-out:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-deadline:
			t.Fatalf("timed out draining mux; got %d events", len(events))
		}
	}
}

func TestMuxMergesWorkerLogsAndLifecycleEvents(t *testing.T) {
	mux := New(16)

	logs := make(chan runtime.LogEntry, 4)
	logs <- runtime.LogEntry{Message: "step 1", Source: runtime.LogSourceStdout}
	logs <- runtime.LogEntry{Message: "oom warning", Source: runtime.LogSourceStderr}
	close(logs)

	lifecycle := make(chan supervise.Event, 2)
	lifecycle <- supervise.Event{Type: supervise.EventTypeExited, Worker: "trainer", Code: 1}
	close(lifecycle)

	mux.AddWorkerLogs("trainer", 0, logs)
	mux.Add(lifecycle)

	done := make(chan struct{})
	var events []supervise.Event
	go func() {
		defer close(done)
		events = collect(t, mux.Output())
	}()
	mux.Close()
	<-done

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}

	var sawExit, sawWarn bool
	for _, evt := range events {
		if evt.Type == supervise.EventTypeExited {
			sawExit = true
		}
		if evt.Type == supervise.EventTypeLog && evt.Level == "warn" && evt.Source == runtime.LogSourceStderr {
			sawWarn = true
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("events should carry timestamps after normalization")
		}
	}
	if !sawExit || !sawWarn {
		t.Fatalf("missing expected events: exit=%v warn=%v", sawExit, sawWarn)
	}
}

func TestMuxDropsLogsUnderPressureAndReportsCounts(t *testing.T) {
	mux := New(1)

	logs := make(chan runtime.LogEntry, 8)
	for i := 0; i < 8; i++ {
		logs <- runtime.LogEntry{Message: "line"}
	}
	close(logs)
	mux.AddWorkerLogs("trainer", 0, logs)

	// Nothing is reading yet, so the bounded channel overflows.
	time.Sleep(50 * time.Millisecond)

	go mux.Close()
	events := collect(t, mux.Output())
	var dropped bool
	for _, evt := range events {
		if strings.HasPrefix(evt.Message, "dropped=") {
			dropped = true
		}
	}
	if !dropped {
		t.Fatalf("expected a synthesized drop event, got %+v", events)
	}
}

func TestMuxNeverDropsLifecycleEvents(t *testing.T) {
	mux := New(1)

	lifecycle := make(chan supervise.Event, 4)
	for i := 0; i < 4; i++ {
		lifecycle <- supervise.Event{Type: supervise.EventTypeExited, Slot: i}
	}
	close(lifecycle)
	mux.Add(lifecycle)

	done := make(chan struct{})
	var events []supervise.Event
	go func() {
		defer close(done)
		events = collect(t, mux.Output())
	}()
	mux.Close()
	<-done

	var exits int
	for _, evt := range events {
		if evt.Type == supervise.EventTypeExited {
			exits++
		}
	}
	if exits != 4 {
		t.Fatalf("expected all 4 lifecycle events, got %d", exits)
	}
}
