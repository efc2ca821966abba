package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/cohort-run/cohort/internal/runtime"
	"github.com/cohort-run/cohort/internal/supervise"
)

// Mux fans in events from per-worker log streams and the supervisor into a
// single bounded channel. Lifecycle events are never discarded; when the
// downstream consumer cannot keep up, log records are dropped and a
// synthesized warning surfaces the number of discarded lines per worker.
type Mux struct {
	out chan supervise.Event

	mu     sync.Mutex
	drops  map[string]int
	inputs sync.WaitGroup
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan supervise.Event, size),
		drops: make(map[string]int),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan supervise.Event {
	return m.out
}

// Add registers a new event source. The mux consumes the channel until it
// is closed.
func (m *Mux) Add(source <-chan supervise.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			m.deliver(normalize(evt))
		}
	}()
}

// AddWorkerLogs registers a worker's raw log stream, converting each line
// into a log event attributed to the worker.
func (m *Mux) AddWorkerLogs(name string, slot int, logs <-chan runtime.LogEntry) {
	if logs == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for entry := range logs {
			if entry.Message == "" {
				continue
			}
			m.deliver(normalize(supervise.Event{
				Worker:  name,
				Slot:    slot,
				Type:    supervise.EventTypeLog,
				Message: entry.Message,
				Level:   entry.Level,
				Source:  entry.Source,
			}))
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop
// metadata, and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt supervise.Event) {
	if evt.Type != supervise.EventTypeLog {
		m.blockingSend(evt)
		return
	}
	if !m.flushPending(evt.Worker) {
		m.recordDrop(evt.Worker, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt.Worker, 1)
}

func (m *Mux) flushPending(worker string) bool {
	for {
		count := m.takeDrops(worker)
		if count == 0 {
			return true
		}
		if m.trySend(synthesizeDropEvent(worker, count)) {
			continue
		}
		m.recordDrop(worker, count)
		return false
	}
}

func (m *Mux) takeDrops(worker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.drops[worker]
	if count != 0 {
		delete(m.drops, worker)
	}
	return count
}

func (m *Mux) recordDrop(worker string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[worker] += count
}

func (m *Mux) flushDrops() {
	m.mu.Lock()
	pending := m.drops
	m.drops = make(map[string]int)
	m.mu.Unlock()
	for worker, count := range pending {
		if count > 0 {
			m.blockingSend(synthesizeDropEvent(worker, count))
		}
	}
}

func (m *Mux) trySend(evt supervise.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func (m *Mux) blockingSend(evt supervise.Event) {
	m.out <- evt
}

func normalize(evt supervise.Event) supervise.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = runtime.LogSourceStdout
	}
	if evt.Level == "" {
		if evt.Source == runtime.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func synthesizeDropEvent(worker string, count int) supervise.Event {
	return supervise.Event{
		Timestamp: time.Now(),
		Worker:    worker,
		Type:      supervise.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    runtime.LogSourceSystem,
	}
}
