package supervise

import (
	"time"

	"github.com/cohort-run/cohort/internal/runtime"
)

// EventType captures high level lifecycle notifications emitted during a
// supervision pass.
type EventType string

const (
	EventTypeSupervising EventType = "supervising"
	EventTypeExited      EventType = "exited"
	EventTypeTerminating EventType = "terminating"
	EventTypeKilling     EventType = "killing"
	EventTypeDone        EventType = "done"
	EventTypeAborted     EventType = "aborted"
	EventTypeLog         EventType = "log"
	EventTypeError       EventType = "error"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Worker    string
	Slot      int
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	Code      int
	Reason    string
}

const (
	ReasonTrigger      = "trigger"
	ReasonSiblingExit  = "sibling_exit"
	ReasonGroupStop    = "group_stop"
	ReasonEscalation   = "escalation"
	ReasonSignalFailed = "signal_failed"
	ReasonCancelled    = "cancelled"
	ReasonComplete     = "group_complete"
)

func sendEvent(events chan<- Event, worker string, slot int, t EventType, message string, code int, reason string, err error) {
	if events == nil {
		return
	}
	level := "info"
	if t == EventTypeError {
		level = "error"
	}
	events <- Event{
		Timestamp: time.Now(),
		Worker:    worker,
		Slot:      slot,
		Type:      t,
		Message:   message,
		Level:     level,
		Source:    runtime.LogSourceSystem,
		Err:       err,
		Code:      code,
		Reason:    reason,
	}
}
