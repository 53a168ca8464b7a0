package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrHandlerRequired indicates a subscription without a handler.
	ErrHandlerRequired = errors.New("subscription handler is required")
	// ErrEventNameRequired indicates a subscription without event names.
	ErrEventNameRequired = errors.New("at least one namespaced event name is required")
	// ErrContextRequired indicates a dispatch without a context object.
	ErrContextRequired = errors.New("dispatch context is required")
)

// Capability is a marker a context object satisfies. Capabilities are the
// dispatch routing key: a context declares which it satisfies and the
// dispatcher fans out to every subscription registered against any of them.
type Capability string

// Context is a resolved resource carrying its declared capabilities. A
// context may satisfy several capabilities simultaneously.
type Context interface {
	Capabilities() []Capability
}

// Request carries the decoded JSON body of an inbound change notification.
type Request struct {
	Body map[string]any
}

// Param returns the string value of one body field. Non-string values
// report absence.
func (r *Request) Param(name string) (string, bool) {
	if r == nil || r.Body == nil {
		return "", false
	}
	value, ok := r.Body[name].(string)
	return value, ok
}

// EventID returns the integer event_id body field. Missing or malformed
// values report absence, never an error.
func (r *Request) EventID() (int64, bool) {
	if r == nil || r.Body == nil {
		return 0, false
	}
	switch value := r.Body["event_id"].(type) {
	case float64:
		id := int64(value)
		if float64(id) != value {
			return 0, false
		}
		return id, true
	case json.Number:
		id, err := value.Int64()
		if err != nil {
			return 0, false
		}
		return id, true
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	case int64:
		return value, true
	case int:
		return int64(value), true
	default:
		return 0, false
	}
}

// Invocation is the single combined argument every subscription receives.
type Invocation struct {
	Request *Request
	Context Context
	Event   *Event
}

// Handler reacts to one dispatched change notification. A nil result is
// discarded from the dispatch aggregate; an error propagates to the
// dispatch caller without stopping later handlers.
type Handler func(inv Invocation) (any, error)

// Operation pairs a handler with an operation name, replacing decorator
// style tagging with a plain record.
type Operation struct {
	Name    string
	Handler func(inv Invocation, operation string) (any, error)
}

// Subscriber adapts the operation into a plain Handler that passes the
// operation name through.
func (o Operation) Subscriber() Handler {
	return func(inv Invocation) (any, error) {
		if o.Handler == nil {
			return nil, ErrHandlerRequired
		}
		return o.Handler(inv, o.Name)
	}
}

// paramSubscriber gates a handler on one request body param matching an
// exact expected value. Mismatches decline silently.
type paramSubscriber struct {
	param   string
	value   string
	handler Handler
}

func (p paramSubscriber) invoke(inv Invocation) (any, error) {
	value, ok := inv.Request.Param(p.param)
	if !ok || value != p.value {
		return nil, nil
	}
	return p.handler(inv)
}

// Dispatcher routes change notifications to subscriptions registered by
// capability. Subscriptions fire in registration order per capability and
// are stable within a process.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[Capability][]paramSubscriber
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[Capability][]paramSubscriber)}
}

// Subscribe registers handler for one or more namespaced event names under a
// capability marker. Each name splits on its first colon into the request
// param to inspect, e.g. "state:DECLINED" matches body {"state":
// "state:DECLINED"}.
func (d *Dispatcher) Subscribe(marker Capability, handler Handler, events ...string) error {
	if strings.TrimSpace(string(marker)) == "" {
		return fmt.Errorf("subscription capability is required")
	}
	if handler == nil {
		return ErrHandlerRequired
	}
	if len(events) == 0 {
		return ErrEventNameRequired
	}

	wrapped := make([]paramSubscriber, 0, len(events))
	for _, name := range events {
		param, _, err := SplitType(name)
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", name, err)
		}
		wrapped = append(wrapped, paramSubscriber{param: param, value: name, handler: handler})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[marker] = append(d.subs[marker], wrapped...)
	return nil
}

// Result aggregates the non-nil handler returns of one dispatch, in firing
// order.
type Result struct {
	Handlers []any `json:"handlers"`
}

// Dispatch fans one change notification out to every subscription registered
// for any capability the context satisfies. Each subscription is invoked
// with the single combined invocation; nil returns are discarded. A failing
// handler never stops later handlers: all handler errors are joined and
// returned alongside the collected results.
func (d *Dispatcher) Dispatch(inv Invocation) (Result, error) {
	result := Result{Handlers: []any{}}
	if inv.Context == nil {
		return result, ErrContextRequired
	}

	d.mu.RLock()
	var fired []paramSubscriber
	for _, capability := range inv.Context.Capabilities() {
		fired = append(fired, d.subs[capability]...)
	}
	d.mu.RUnlock()

	var errs []error
	for _, sub := range fired {
		value, err := sub.invoke(inv)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if value != nil {
			result.Handlers = append(result.Handlers, value)
		}
	}
	return result, errors.Join(errs...)
}
