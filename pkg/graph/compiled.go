package graph

import (
	"fmt"
	"sort"

	"github.com/aretw0/arbor/pkg/domain"
)

// CompiledGraph is a validated, immutable graph.
type CompiledGraph struct {
	channels     map[string]Channel
	channelOrder []string
	nodes        map[string]NodeFunc
	nodeOrder    []string
	edges        map[string]edge
	entry        edge
	inputChannel string
}

// Nodes returns the node names in declaration order.
func (g *CompiledGraph) Nodes() []string {
	return append([]string(nil), g.nodeOrder...)
}

// Channels returns the channel names in declaration order.
func (g *CompiledGraph) Channels() []string {
	return append([]string(nil), g.channelOrder...)
}

// Node returns the function of a node.
func (g *CompiledGraph) Node(name string) (NodeFunc, bool) {
	fn, ok := g.nodes[name]
	return fn, ok
}

// InputChannel is the channel resume values are merged into.
func (g *CompiledGraph) InputChannel() string {
	return g.inputChannel
}

// Edges lists every edge, entry routing first.
func (g *CompiledGraph) Edges() []Edge {
	out := []Edge{toEdge(START, g.entry)}
	for _, name := range g.nodeOrder {
		out = append(out, toEdge(name, g.edges[name]))
	}
	return out
}

func toEdge(from string, e edge) Edge {
	if e.route == nil {
		return Edge{From: from, To: e.to}
	}
	return Edge{From: from, Routes: copyRoutes(e.routes)}
}

// Initial builds the starting state: channel defaults merged with the given values.
func (g *CompiledGraph) Initial(values map[string]any) (domain.State, error) {
	state := domain.State{}
	for _, name := range g.channelOrder {
		state[name] = g.channels[name].initial()
	}
	return g.Apply(state, values)
}

// Apply merges an update into state using each channel's reducer.
// The input state is not modified. The result is normalized to its JSON form.
func (g *CompiledGraph) Apply(state domain.State, update map[string]any) (domain.State, error) {
	next := state.Clone()
	if next == nil {
		next = domain.State{}
	}

	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		ch, ok := g.channels[k]
		if !ok {
			return nil, fmt.Errorf("channel %q: %w", k, ErrUnknownChannel)
		}
		merged, err := ch.Reducer(next[k], update[k])
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", k, err)
		}
		next[k] = merged
	}
	return next.Normalize()
}

// Entry resolves the first node for a fresh thread.
func (g *CompiledGraph) Entry(state domain.State) (string, error) {
	return resolve(START, g.entry, state)
}

// Next resolves the destination after from completed.
func (g *CompiledGraph) Next(from string, state domain.State) (string, error) {
	e, ok := g.edges[from]
	if !ok {
		return "", fmt.Errorf("node %q: %w", from, ErrUnknownNode)
	}
	return resolve(from, e, state)
}

func resolve(from string, e edge, state domain.State) (string, error) {
	if e.route == nil {
		return e.to, nil
	}
	key := e.route(state)
	to, ok := e.routes[key]
	if !ok {
		return "", fmt.Errorf("edge from %s returned %q: %w", describe(from), key, ErrUnmappedRoute)
	}
	return to, nil
}
