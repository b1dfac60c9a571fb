package graph

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
)

const (
	// START is the virtual node entry routing leaves from.
	START = domain.StartNode
	// END is the terminal destination.
	END = domain.EndNode
)

// Update is a partial state: channel name -> value to merge.
type Update map[string]any

// Result is what a node returns: either continue with an update, or suspend.
type Result struct {
	update  Update
	suspend bool
	payload any
}

// Continue merges the update and follows the node's outgoing edge.
func Continue(update Update) Result {
	return Result{update: update}
}

// Suspend merges the update and parks the thread. The payload is surfaced to the caller.
func Suspend(payload any, update Update) Result {
	return Result{update: update, suspend: true, payload: payload}
}

// Update returns the partial state carried by the result.
func (r Result) Update() Update { return r.update }

// Suspended reports whether the node asked to park the thread.
func (r Result) Suspended() bool { return r.suspend }

// Payload returns the suspension payload.
func (r Result) Payload() any { return r.payload }

// NodeFunc is the body of a node. It receives a private copy of the state.
type NodeFunc func(ctx context.Context, state domain.State) (Result, error)

// RouteFunc picks the route key of a conditional edge. It must be deterministic and total.
type RouteFunc func(state domain.State) string

// Edge describes an outgoing edge for introspection.
type Edge struct {
	From string
	// To holds the destination of a static edge.
	To string
	// Routes holds route key -> destination for conditional edges.
	Routes map[string]string
}

// Conditional reports whether the edge is decided at run time.
func (e Edge) Conditional() bool { return e.Routes != nil }

type edge struct {
	to     string
	route  RouteFunc
	routes map[string]string
}
