package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter EventType = "node_enter"
	EventNodeLeave EventType = "node_leave"
	EventNodeError EventType = "node_error"
	EventSuspend   EventType = "suspend"
	EventResume    EventType = "resume"
	EventComplete  EventType = "complete"
)

// Event is emitted by the runner while it executes a thread.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Type      EventType     `json:"type"`
	ThreadID  string        `json:"thread_id"`
	Node      string        `json:"node,omitempty"`
	Step      int           `json:"step"`
	Duration  time.Duration `json:"duration,omitempty"`
	Err       error         `json:"-"`
}

// LifecycleHooks defines callbacks for runner observability.
// Any hook may be nil.
type LifecycleHooks struct {
	OnNodeEnter func(context.Context, *Event)
	OnNodeLeave func(context.Context, *Event)
	OnNodeError func(context.Context, *Event)
	OnSuspend   func(context.Context, *Event)
	OnResume    func(context.Context, *Event)
	OnComplete  func(context.Context, *Event)
}

// Emit dispatches the event to the matching hook.
func (h LifecycleHooks) Emit(ctx context.Context, ev *Event) {
	var fn func(context.Context, *Event)
	switch ev.Type {
	case EventNodeEnter:
		fn = h.OnNodeEnter
	case EventNodeLeave:
		fn = h.OnNodeLeave
	case EventNodeError:
		fn = h.OnNodeError
	case EventSuspend:
		fn = h.OnSuspend
	case EventResume:
		fn = h.OnResume
	case EventComplete:
		fn = h.OnComplete
	}
	if fn != nil {
		fn(ctx, ev)
	}
}

// MergeHooks chains several hook sets so each callback fires in order.
func MergeHooks(all ...LifecycleHooks) LifecycleHooks {
	chain := func(pick func(LifecycleHooks) func(context.Context, *Event)) func(context.Context, *Event) {
		var fns []func(context.Context, *Event)
		for _, h := range all {
			if fn := pick(h); fn != nil {
				fns = append(fns, fn)
			}
		}
		if len(fns) == 0 {
			return nil
		}
		return func(ctx context.Context, ev *Event) {
			for _, fn := range fns {
				fn(ctx, ev)
			}
		}
	}
	return LifecycleHooks{
		OnNodeEnter: chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnNodeEnter }),
		OnNodeLeave: chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnNodeLeave }),
		OnNodeError: chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnNodeError }),
		OnSuspend:   chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnSuspend }),
		OnResume:    chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnResume }),
		OnComplete:  chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnComplete }),
	}
}
