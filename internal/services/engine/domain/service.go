package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/torquehq/engine/internal/services/engine/storage"
)

var (
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("ledger store is not configured")
	// ErrParentRequired indicates a ledger append without a parent. The
	// capability contract was not applied or the parent was never persisted.
	ErrParentRequired = errors.New("ledger parent is required")
	// ErrActorKindNotConfigured indicates the pluggable actor entity type
	// was never installed. This is a startup error, never a runtime one.
	ErrActorKindNotConfigured = errors.New("actor kind is not configured")
)

// Service orchestrates the event and status ledgers for registered parent
// kinds. The actor kind parameterizes the event ledger's pluggable actor
// reference and must be installed before first use.
type Service struct {
	store        storage.Store
	registry     *Registry
	actorKind    string
	defaultState string
	clock        func() time.Time
}

// NewService constructs the ledger use-cases. An empty defaultState falls
// back to DefaultState.
func NewService(store storage.Store, registry *Registry, actorKind string, defaultState string, clock func() time.Time) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	if strings.TrimSpace(defaultState) == "" {
		defaultState = DefaultState
	}
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:        store,
		registry:     registry,
		actorKind:    strings.TrimSpace(actorKind),
		defaultState: defaultState,
		clock:        clock,
	}
}

// Registry returns the association registry backing this service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// VerifyIntegrity confirms the actor reference was installed on the event
// ledger before any dispatch is accepted. Failing this check is fatal at
// startup.
func (s *Service) VerifyIntegrity(ctx context.Context) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	if s.actorKind == "" {
		return ErrActorKindNotConfigured
	}
	return s.store.VerifyActorColumns(ctx)
}

// RecordEventInput describes one activity event append. Parent and ActorID
// are optional.
type RecordEventInput struct {
	Target  string
	Action  string
	Data    map[string]any
	Parent  Parent
	ActorID int64
}

// RecordEvent creates and persists one immutable activity event.
func (s *Service) RecordEvent(ctx context.Context, input RecordEventInput) (*Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	target := strings.TrimSpace(input.Target)
	action := strings.TrimSpace(input.Action)
	if target == "" || action == "" {
		return nil, ErrTypeRequired
	}

	params := storage.RecordEventParams{
		Target: target,
		Action: action,
	}
	if input.Parent != nil {
		kind := strings.TrimSpace(input.Parent.LedgerKind())
		if !s.registry.Registered(kind) {
			return nil, fmt.Errorf("%w: %q", ErrKindNotRegistered, kind)
		}
		params.ParentKind = kind
		params.ParentID = input.Parent.LedgerID()
	}
	if input.ActorID > 0 {
		if s.actorKind == "" {
			return nil, ErrActorKindNotConfigured
		}
		actorID := input.ActorID
		params.ActorKind = s.actorKind
		params.ActorID = &actorID
	}

	data := input.Data
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	params.DataJSON = string(encoded)

	record, err := s.store.RecordEvent(ctx, params)
	if err != nil {
		return nil, err
	}
	return eventFromRecord(record)
}

// ParentEventInput describes one parent-scoped activity event. When Type is
// empty it derives from the parent kind and, absent an explicit Action, the
// parent's current status value.
type ParentEventInput struct {
	Parent  Parent
	ActorID int64
	Type    string
	Action  string
	Data    map[string]any
}

// RecordParentEvent creates an event for a parent, deriving the compound
// type when not given and embedding the parent's snapshot in the payload
// when the parent can describe itself.
func (s *Service) RecordParentEvent(ctx context.Context, input ParentEventInput) (*Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if input.Parent == nil {
		return nil, ErrParentRequired
	}

	var target, action string
	if strings.TrimSpace(input.Type) != "" {
		var err error
		target, action, err = SplitType(input.Type)
		if err != nil {
			return nil, err
		}
	} else {
		target = strings.TrimSpace(input.Parent.LedgerKind())
		source := strings.TrimSpace(input.Action)
		if source == "" {
			status, err := s.CurrentStatus(ctx, input.Parent, "")
			if err != nil {
				return nil, err
			}
			if status == nil {
				return nil, fmt.Errorf("parent has no status history to derive an action from")
			}
			source = status.Value
		}
		// "state:CONFIRMED" -> "confirmed"
		if idx := strings.LastIndex(source, ":"); idx >= 0 {
			source = source[idx+1:]
		}
		action = strings.ToLower(source)
	}

	data := input.Data
	if data == nil {
		data = map[string]any{}
	}
	if snapshotter, ok := input.Parent.(Snapshotter); ok {
		data["snapshot"] = snapshotter.Snapshot()
	}

	return s.RecordEvent(ctx, RecordEventInput{
		Target:  target,
		Action:  action,
		Data:    data,
		Parent:  input.Parent,
		ActorID: input.ActorID,
	})
}

// LookupEvent returns the activity event with the given id, or nil when the
// id is unknown. Absence is a normal outcome, not a fault.
func (s *Service) LookupEvent(ctx context.Context, id int64) (*Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	record, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return eventFromRecord(record)
}

// MatchingEvent returns an existing event for the parent recorded by the
// given actor whose payload equals data, or nil when no duplicate exists.
func (s *Service) MatchingEvent(ctx context.Context, parent Parent, actorID int64, data map[string]any) (*Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if parent == nil {
		return nil, ErrParentRequired
	}
	if s.actorKind == "" {
		return nil, ErrActorKindNotConfigured
	}

	// Round-trip the candidate payload through JSON so numeric types
	// compare the way stored payloads decode.
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode candidate data: %w", err)
	}
	var candidate map[string]any
	if err := json.Unmarshal(encoded, &candidate); err != nil {
		return nil, fmt.Errorf("decode candidate data: %w", err)
	}

	records, err := s.store.ListEventsByActor(ctx, parent.LedgerKind(), parent.LedgerID(), s.actorKind, actorID)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		event, err := eventFromRecord(record)
		if err != nil {
			return nil, err
		}
		if reflect.DeepEqual(event.Data, candidate) {
			return event, nil
		}
	}
	return nil, nil
}

// AppendStatus appends one immutable status row to a parent's history and
// touches the parent's modified timestamp. The ledger rows are written in a
// single unit of work and the returned row carries its persisted id.
func (s *Service) AppendStatus(ctx context.Context, parent Parent, value string, causingEvent *Event) (*Status, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if parent == nil {
		return nil, ErrParentRequired
	}
	kind := strings.TrimSpace(parent.LedgerKind())
	if !s.registry.Registered(kind) {
		return nil, fmt.Errorf("%w: %q", ErrKindNotRegistered, kind)
	}
	if strings.TrimSpace(value) == "" {
		value = s.defaultState
	}

	params := storage.AppendStatusParams{
		Kind:     kind,
		ParentID: parent.LedgerID(),
		Value:    value,
	}
	if causingEvent != nil {
		eventID := causingEvent.ID
		params.EventID = &eventID
	}

	record, err := s.store.AppendStatus(ctx, params)
	if err != nil {
		return nil, err
	}
	if touchable, ok := parent.(Touchable); ok {
		touchable.Touch(s.clock().UTC())
	}
	return statusFromRecord(record), nil
}

// CurrentStatus returns the parent's most recent status row, optionally
// restricted to rows whose value matches. Ties on the created timestamp
// break on the highest id. A nil row means no matching history exists.
func (s *Service) CurrentStatus(ctx context.Context, parent Parent, value string) (*Status, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if parent == nil {
		return nil, ErrParentRequired
	}
	record, err := s.store.LatestStatus(ctx, parent.LedgerKind(), parent.LedgerID(), strings.TrimSpace(value))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return statusFromRecord(record), nil
}

// StatusHistory lists the parent's status rows oldest first. History is
// strictly additive.
func (s *Service) StatusHistory(ctx context.Context, parent Parent) ([]Status, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if parent == nil {
		return nil, ErrParentRequired
	}
	records, err := s.store.ListStatuses(ctx, parent.LedgerKind(), parent.LedgerID())
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(records))
	for _, record := range records {
		statuses = append(statuses, *statusFromRecord(record))
	}
	return statuses, nil
}

// ResolveActivityEvent resolves the activity event an inbound notification
// refers to: an integer event_id param wins, then the context's current
// status' causing event, then nil. Malformed and unknown ids are absence.
func (s *Service) ResolveActivityEvent(ctx context.Context, req *Request, resource Context) (*Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if id, ok := req.EventID(); ok {
		event, err := s.LookupEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if event != nil {
			return event, nil
		}
	}

	parent, ok := resource.(Parent)
	if !ok || parent == nil {
		return nil, nil
	}
	status, err := s.CurrentStatus(ctx, parent, "")
	if err != nil {
		return nil, err
	}
	if status == nil || status.EventID == nil {
		return nil, nil
	}
	return s.LookupEvent(ctx, *status.EventID)
}

func eventFromRecord(record storage.EventRecord) (*Event, error) {
	event := &Event{
		ID:       record.ID,
		Created:  record.Created,
		Modified: record.Modified,
		Target:   record.Target,
		Action:   record.Action,
		Data:     map[string]any{},
	}
	if strings.TrimSpace(record.DataJSON) != "" {
		if err := json.Unmarshal([]byte(record.DataJSON), &event.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
	}
	if record.ParentKind != "" && record.ParentID > 0 {
		event.Parent = &ParentRef{Kind: record.ParentKind, ID: record.ParentID}
	}
	if record.ActorKind != "" && record.ActorID != nil {
		event.Actor = &ActorRef{Kind: record.ActorKind, ID: *record.ActorID}
	}
	return event, nil
}

func statusFromRecord(record storage.StatusRecord) *Status {
	return &Status{
		ID:      record.ID,
		Created: record.Created,
		Value:   record.Value,
		EventID: record.EventID,
	}
}
