package notify

import (
	"time"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

// Envelope wraps every message pushed to a websocket client.
type Envelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type LockEventPayload struct {
	CheckID       string `json:"check_id"`
	CompartmentID string `json:"compartment_id"`
	ActorID       string `json:"actor_id"`
	ActorName     string `json:"actor_name"`
}

func envelopeFor(event domain.LockEvent) Envelope {
	return Envelope{
		Type: string(event.Type),
		Payload: LockEventPayload{
			CheckID:       event.CheckID,
			CompartmentID: event.CompartmentID,
			ActorID:       event.ActorID,
			ActorName:     event.ActorName,
		},
		Timestamp: event.At.UTC(),
	}
}
