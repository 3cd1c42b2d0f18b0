// Package model holds the entities of spec §3: events, catalog entities,
// rules, wallets and their ledgers, reward history, and the user-state
// projection. It has no storage or evaluation logic of its own.
package model

import (
	"time"
)

// Event is an immutable record of a user action, either ingested directly
// or emitted as a cascade by the Reward Executor.
type Event struct {
	EventID      string                 `json:"eventId" db:"event_id"`
	EventType    string                 `json:"eventType" db:"event_type"`
	UserID       string                 `json:"userId" db:"user_id"`
	OccurredAt   time.Time              `json:"occurredAt" db:"occurred_at"`
	Attributes   map[string]interface{} `json:"attributes,omitempty" db:"-"`
	CascadeDepth int                    `json:"cascadeDepth,omitempty" db:"cascade_depth"`
}

// Attr reads a named attribute, returning (value, ok).
func (e *Event) Attr(name string) (interface{}, bool) {
	if e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// EventDefinition is the catalog-managed schema for an event type.
type EventDefinition struct {
	ID            string            `json:"id" db:"id"`
	Description   string            `json:"description" db:"description"`
	PayloadSchema map[string]string `json:"payloadSchema,omitempty" db:"-"`
}

// Cascade event types emitted by the Reward Executor (§4.5).
const (
	EventTypeBadgeGranted  = "BADGE_GRANTED"
	EventTypeTrophyGranted = "TROPHY_GRANTED"
	EventTypeLevelUp       = "LEVEL_UP"
)
