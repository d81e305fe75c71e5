// Package events provides event types and publishing infrastructure for
// phase changes.
package events

import (
	"strings"
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventPhaseChanged indicates a phase moved to a new status.
	EventPhaseChanged EventType = "phase_changed"
	// EventEntityCreated indicates a new entity started being tracked.
	EventEntityCreated EventType = "entity_created"
	// EventEntityDeleted indicates an entity was removed.
	EventEntityDeleted EventType = "entity_deleted"
)

// Event represents a published event. Key identifies the entity as
// "kind/id".
type Event struct {
	Type EventType `json:"type"`
	Key  string    `json:"key"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, key string, data any) Event {
	return Event{
		Type: eventType,
		Key:  key,
		Data: data,
		Time: time.Now(),
	}
}

// EntityKey builds the subscription key for one entity.
func EntityKey(kind, id string) string {
	return kind + "/" + id
}

// KindKey builds the subscription key matching every entity of kind.
func KindKey(kind string) string {
	return kind + "/" + GlobalKey
}

// kindOf returns the kind portion of an entity key.
func kindOf(key string) string {
	kind, _, _ := strings.Cut(key, "/")
	return kind
}

// PhaseChange is the payload of EventPhaseChanged.
type PhaseChange struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Phase string `json:"phase"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// EntityChange is the payload of EventEntityCreated and EventEntityDeleted.
type EntityChange struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}
