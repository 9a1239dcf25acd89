package app

import (
	"time"

	"gorisk/domain/core"
)

// Run lifecycle event types.
const (
	EventRunStarted  = "run_started"
	EventRunFinished = "run_finished"
	EventRunFailed   = "run_failed"
)

// RunEvent reports progress of a run to live subscribers.
type RunEvent struct {
	EventType string                 `json:"event_type"`
	Kind      core.RunKind           `json:"kind"`
	Scenario  string                 `json:"scenario"`
	RunID     core.RunID             `json:"run_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventBroadcaster receives run events. Implementations must not block.
type EventBroadcaster interface {
	Broadcast(event RunEvent)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(RunEvent) {}

// ServiceOption configures a SimulationService.
type ServiceOption func(*SimulationService)

// WithEvents publishes run lifecycle events to b.
func WithEvents(b EventBroadcaster) ServiceOption {
	return func(s *SimulationService) {
		if b != nil {
			s.events = b
		}
	}
}

func (s *SimulationService) emit(eventType string, kind core.RunKind, scenario string, id core.RunID, data map[string]interface{}) {
	s.events.Broadcast(RunEvent{
		EventType: eventType,
		Kind:      kind,
		Scenario:  scenario,
		RunID:     id,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
