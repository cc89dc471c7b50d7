// Package enhancers implements the enhancer registry and the fold-style
// enhancement chain shared by context adapters, tool adapters and session
// event handlers.
package enhancers

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Kind identifies the enhancer variant.
type Kind string

const (
	KindContext Kind = "context"
	KindTool    Kind = "tool"
	KindEvent   Kind = "event"
)

// Enhancer is the closed set of enhancer variants stored by the Registry.
// Only *Adapter values created by this package satisfy it.
type Enhancer interface {
	ID() string
	Kind() Kind
	Priority() int
	matches(target any) bool
}

// Func transforms a value. Event handlers may return a nil value to drop the
// event from projection.
type Func[T any] func(ctx context.Context, v T) (T, error)

// Adapter is an immutable enhancer descriptor.
type Adapter[T any] struct {
	id       string
	kind     Kind
	priority int
	when     func(T) bool
	fn       Func[T]
	isNil    func(T) bool
}

type (
	ContextAdapter = Adapter[*models.Context]
	ToolAdapter    = Adapter[*models.Tool]
	EventHandler   = Adapter[*models.SessionEvent]
)

// NewContextAdapter creates a context adapter. Lower priorities run first.
func NewContextAdapter(id string, priority int, fn Func[*models.Context]) *ContextAdapter {
	return &ContextAdapter{id: id, kind: KindContext, priority: priority, fn: fn,
		isNil: func(c *models.Context) bool { return c == nil }}
}

// NewToolAdapter creates a tool adapter.
func NewToolAdapter(id string, priority int, fn Func[*models.Tool]) *ToolAdapter {
	return &ToolAdapter{id: id, kind: KindTool, priority: priority, fn: fn,
		isNil: func(t *models.Tool) bool { return t == nil }}
}

// NewEventHandler creates a session event handler. Returning (nil, nil)
// means the event stays in the log but does not change derived state.
func NewEventHandler(id string, priority int, fn Func[*models.SessionEvent]) *EventHandler {
	return &EventHandler{id: id, kind: KindEvent, priority: priority, fn: fn,
		isNil: func(e *models.SessionEvent) bool { return e == nil }}
}

// When returns a copy of the adapter that only applies to values accepted
// by pred. pred must be a pure function of the value's shape.
func (a *Adapter[T]) When(pred func(T) bool) *Adapter[T] {
	out := *a
	out.when = pred
	return &out
}

func (a *Adapter[T]) ID() string    { return a.id }
func (a *Adapter[T]) Kind() Kind    { return a.kind }
func (a *Adapter[T]) Priority() int { return a.priority }

// Applicable reports whether the adapter applies to v.
func (a *Adapter[T]) Applicable(v T) bool {
	if a.isNil != nil && a.isNil(v) {
		return false
	}
	return a.when == nil || a.when(v)
}

func (a *Adapter[T]) matches(target any) bool {
	if target == nil {
		return true
	}
	v, ok := target.(T)
	if !ok {
		return false
	}
	return a.Applicable(v)
}

// call runs the adapter with panic recovery and checks its result.
func (a *Adapter[T]) call(ctx context.Context, v T) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("enhancer %s panic: %v", a.id, p)
		}
	}()
	if a.fn == nil {
		return v, fmt.Errorf("enhancer %s has no apply function", a.id)
	}
	out, err = a.fn(ctx, v)
	if err != nil {
		return v, err
	}
	if a.kind != KindEvent && a.isNil != nil && a.isNil(out) {
		return v, fmt.Errorf("enhancer %s returned nil", a.id)
	}
	return out, nil
}
