package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested ledger record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// AssociationRecord binds a collection of ledger rows to exactly one parent
// entity. Event and status associations live in disjoint tables but share
// this shape.
type AssociationRecord struct {
	ID       int64
	Kind     string
	ParentID int64
}

// EventRecord stores one immutable activity event row.
type EventRecord struct {
	ID            int64
	Created       time.Time
	Modified      time.Time
	Target        string
	Action        string
	DataJSON      string
	AssociationID *int64
	ParentKind    string
	ParentID      int64
	ActorKind     string
	ActorID       *int64
}

// StatusRecord stores one immutable work status row.
type StatusRecord struct {
	ID            int64
	Created       time.Time
	Value         string
	AssociationID int64
	EventID       *int64
}

// RecordEventParams describes one event append. ParentKind/ParentID are
// optional; when set the event is attached to the parent's event
// association, created lazily inside the same transaction.
type RecordEventParams struct {
	Target     string
	Action     string
	DataJSON   string
	ParentKind string
	ParentID   int64
	ActorKind  string
	ActorID    *int64
}

// AppendStatusParams describes one status append for a parent. EventID
// optionally links the causing activity event.
type AppendStatusParams struct {
	Kind     string
	ParentID int64
	Value    string
	EventID  *int64
}

// AssociationStore manages the per-parent indirection rows.
type AssociationStore interface {
	EnsureEventAssociation(ctx context.Context, kind string, parentID int64) (AssociationRecord, error)
	EnsureStatusAssociation(ctx context.Context, kind string, parentID int64) (AssociationRecord, error)
}

// EventStore persists the activity event ledger.
type EventStore interface {
	RecordEvent(ctx context.Context, params RecordEventParams) (EventRecord, error)
	GetEvent(ctx context.Context, id int64) (EventRecord, error)
	ListEventsByActor(ctx context.Context, kind string, parentID int64, actorKind string, actorID int64) ([]EventRecord, error)
}

// StatusStore persists the work status ledger.
type StatusStore interface {
	AppendStatus(ctx context.Context, params AppendStatusParams) (StatusRecord, error)
	LatestStatus(ctx context.Context, kind string, parentID int64, value string) (StatusRecord, error)
	ListStatuses(ctx context.Context, kind string, parentID int64) ([]StatusRecord, error)
}

// IntegrityStore exposes the startup schema check for the pluggable actor
// reference on the event ledger.
type IntegrityStore interface {
	VerifyActorColumns(ctx context.Context) error
}

// Store is the full persistence surface required by the engine domain.
type Store interface {
	AssociationStore
	EventStore
	StatusStore
	IntegrityStore
}
