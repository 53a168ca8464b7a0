package domain

import (
	"encoding/json"
	"time"
)

// statusSlug is the class slug used in status JSON projections.
const statusSlug = "work_status"

type refProjection struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

type eventProjection struct {
	Type       string         `json:"type"`
	ID         int64          `json:"id"`
	CreatedAt  string         `json:"created_at"`
	ModifiedAt string         `json:"modified_at"`
	Data       map[string]any `json:"data"`
	Parent     *refProjection `json:"parent,omitempty"`
	User       *refProjection `json:"user,omitempty"`
}

type statusProjection struct {
	Type  string `json:"type"`
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// MarshalJSON renders the event projection used on the wire.
func (e *Event) MarshalJSON() ([]byte, error) {
	projection := eventProjection{
		Type:       e.Type(),
		ID:         e.ID,
		CreatedAt:  e.Created.UTC().Format(time.RFC3339Nano),
		ModifiedAt: e.Modified.UTC().Format(time.RFC3339Nano),
		Data:       e.Data,
	}
	if projection.Data == nil {
		projection.Data = map[string]any{}
	}
	if e.Parent != nil {
		projection.Parent = &refProjection{Type: e.Parent.Kind, ID: e.Parent.ID}
	}
	if e.Actor != nil {
		projection.User = &refProjection{Type: e.Actor.Kind, ID: e.Actor.ID}
	}
	return json.Marshal(projection)
}

// MarshalJSON renders the status projection used on the wire.
func (s *Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusProjection{
		Type:  statusSlug,
		ID:    s.ID,
		Value: s.Value,
	})
}
