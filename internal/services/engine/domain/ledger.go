// Package domain implements the shared work-history ledgers and the
// capability-routed subscription dispatch used by the engine service.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrKindNotRegistered indicates a parent kind was never registered
	// with the association registry. Appending history for it is a
	// programming error, not a runtime condition.
	ErrKindNotRegistered = errors.New("parent kind is not registered")
	// ErrKindRequired indicates an empty parent kind identifier.
	ErrKindRequired = errors.New("parent kind is required")
	// ErrTypeRequired indicates an event type with an empty target or action.
	ErrTypeRequired = errors.New("event target and action are required")
)

// DefaultState is the status value used when none is given.
const DefaultState = "state:CREATED"

// JoinType composes a namespaced event type from its target and action
// tokens, e.g. ("job", "confirmed") -> "job:confirmed".
func JoinType(target, action string) string {
	return target + ":" + action
}

// SplitType splits a namespaced event type on the first colon. It is the
// inverse of JoinType for targets without a colon.
func SplitType(value string) (target, action string, err error) {
	target, action, ok := strings.Cut(value, ":")
	if !ok || target == "" || action == "" {
		return "", "", fmt.Errorf("%w: %q", ErrTypeRequired, value)
	}
	return target, action, nil
}

// ParentRef identifies the parent entity an event belongs to.
type ParentRef struct {
	Kind string
	ID   int64
}

// ActorRef identifies whoever triggered an event. The kind is the pluggable
// actor entity type configured at startup.
type ActorRef struct {
	Kind string
	ID   int64
}

// Event is one immutable activity ledger entry.
type Event struct {
	ID       int64
	Created  time.Time
	Modified time.Time
	Target   string
	Action   string
	Data     map[string]any
	Parent   *ParentRef
	Actor    *ActorRef
}

// Type returns the compound target:action event type.
func (e *Event) Type() string {
	return JoinType(e.Target, e.Action)
}

// SetType overwrites both tokens from a compound target:action value.
func (e *Event) SetType(value string) error {
	target, action, err := SplitType(value)
	if err != nil {
		return err
	}
	e.Target = target
	e.Action = action
	return nil
}

// Status is one immutable work status ledger entry.
type Status struct {
	ID      int64
	Created time.Time
	Value   string
	EventID *int64
}

// Parent is the capability contract adopted by entity types that keep a
// shared event and status history.
type Parent interface {
	LedgerKind() string
	LedgerID() int64
}

// Touchable is implemented by parents that track a modified timestamp. The
// ledger updates it whenever a status is appended.
type Touchable interface {
	Touch(now time.Time)
}

// Snapshotter is implemented by parents that can describe themselves for
// inclusion in an event payload.
type Snapshotter interface {
	Snapshot() map[string]any
}

// Family is the association pair handle produced by registering a parent
// kind. Event and status associations live in disjoint registries but share
// the kind discriminator.
type Family struct {
	Kind string
}

// Registry maps parent kinds to their association families. Registration is
// idempotent per kind.
type Registry struct {
	mu       sync.RWMutex
	families map[string]Family
}

// NewRegistry returns an empty association registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]Family)}
}

// Register produces or returns the cached association family for one parent
// kind. The kind must be non-empty and stable across calls.
func (r *Registry) Register(kind string) (Family, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Family{}, ErrKindRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if family, ok := r.families[kind]; ok {
		return family, nil
	}
	family := Family{Kind: kind}
	r.families[kind] = family
	return family, nil
}

// Registered reports whether a parent kind has an association family.
func (r *Registry) Registered(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.families[strings.TrimSpace(kind)]
	return ok
}

// Kinds lists the registered parent kinds in no particular order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.families))
	for kind := range r.families {
		kinds = append(kinds, kind)
	}
	return kinds
}

// CapabilityResource is the generic capability every resolved resource
// satisfies, alongside its kind-specific capability.
const CapabilityResource Capability = "resource"

// Resource is a generic parent resolved from an inbound notification path.
// It satisfies both its kind capability and the generic resource capability.
type Resource struct {
	Kind       string
	ID         int64
	ModifiedAt time.Time
}

// Capabilities declares the markers this resource satisfies.
func (r *Resource) Capabilities() []Capability {
	return []Capability{Capability(r.Kind), CapabilityResource}
}

// LedgerKind returns the resource's parent kind.
func (r *Resource) LedgerKind() string { return r.Kind }

// LedgerID returns the resource's parent id.
func (r *Resource) LedgerID() int64 { return r.ID }

// Touch records a modification time on the in-memory resource.
func (r *Resource) Touch(now time.Time) { r.ModifiedAt = now }
