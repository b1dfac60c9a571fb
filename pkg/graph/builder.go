package graph

import (
	"fmt"
	"sort"
)

// DefaultInputChannel receives resume values unless SetInputChannel says otherwise.
const DefaultInputChannel = "input"

// Builder manages the graph construction.
// Declaration errors are collected and reported together by Compile.
type Builder struct {
	channels     map[string]Channel
	channelOrder []string
	nodes        map[string]NodeFunc
	nodeOrder    []string
	edges        map[string]edge
	entry        *edge
	inputChannel string
	problems     []error
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{
		channels:     make(map[string]Channel),
		nodes:        make(map[string]NodeFunc),
		edges:        make(map[string]edge),
		inputChannel: DefaultInputChannel,
	}
}

// AddChannel declares a state channel. A nil reducer means Replace.
func (b *Builder) AddChannel(name string, reducer Reducer, def func() any) *Builder {
	if _, ok := b.channels[name]; ok {
		b.problems = append(b.problems, fmt.Errorf("channel %q: %w", name, ErrDuplicate))
		return b
	}
	if reducer == nil {
		reducer = Replace
	}
	b.channels[name] = Channel{Name: name, Reducer: reducer, Default: def}
	b.channelOrder = append(b.channelOrder, name)
	return b
}

// AddNode declares a node.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	switch {
	case name == START || name == END || name == "":
		b.problems = append(b.problems, fmt.Errorf("node %q: %w", name, ErrReservedName))
	case b.nodes[name] != nil:
		b.problems = append(b.problems, fmt.Errorf("node %q: %w", name, ErrDuplicate))
	case fn == nil:
		b.problems = append(b.problems, fmt.Errorf("node %q: nil function", name))
	default:
		b.nodes[name] = fn
		b.nodeOrder = append(b.nodeOrder, name)
	}
	return b
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	return b.setEdge(from, edge{to: to})
}

// AddConditionalEdges routes out of from through route. The returned key is looked up in routes.
func (b *Builder) AddConditionalEdges(from string, route RouteFunc, routes map[string]string) *Builder {
	if route == nil {
		b.problems = append(b.problems, fmt.Errorf("edge from %q: nil route function", from))
		return b
	}
	return b.setEdge(from, edge{route: route, routes: copyRoutes(routes)})
}

// SetEntryPoint makes the thread start at node.
func (b *Builder) SetEntryPoint(node string) *Builder {
	return b.setEdge(START, edge{to: node})
}

// SetEntryRouter decides the first node from the initial state.
func (b *Builder) SetEntryRouter(route RouteFunc, routes map[string]string) *Builder {
	return b.AddConditionalEdges(START, route, routes)
}

// SetInputChannel names the channel resume values are written to.
func (b *Builder) SetInputChannel(name string) *Builder {
	b.inputChannel = name
	return b
}

func (b *Builder) setEdge(from string, e edge) *Builder {
	if from == START {
		if b.entry != nil {
			b.problems = append(b.problems, fmt.Errorf("entry: %w", ErrDuplicate))
			return b
		}
		b.entry = &e
		return b
	}
	if _, ok := b.edges[from]; ok {
		b.problems = append(b.problems, fmt.Errorf("edge from %q: %w", from, ErrDuplicate))
		return b
	}
	b.edges[from] = e
	return b
}

// Compile validates the declarations and freezes the graph.
func (b *Builder) Compile() (*CompiledGraph, error) {
	problems := append([]error(nil), b.problems...)

	if b.entry == nil {
		problems = append(problems, ErrNoEntry)
	} else {
		problems = append(problems, b.checkEdge(START, *b.entry)...)
	}

	for from, e := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			problems = append(problems, fmt.Errorf("edge from %q: %w", from, ErrUnknownNode))
			continue
		}
		problems = append(problems, b.checkEdge(from, e)...)
	}

	for _, name := range b.nodeOrder {
		if _, ok := b.edges[name]; !ok {
			problems = append(problems, fmt.Errorf("node %q: %w", name, ErrMissingEdge))
		}
	}

	if _, ok := b.channels[b.inputChannel]; !ok {
		problems = append(problems, fmt.Errorf("input channel %q: %w", b.inputChannel, ErrUnknownChannel))
	}

	if len(problems) == 0 {
		problems = append(problems, b.checkTermination()...)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	g := &CompiledGraph{
		channels:     make(map[string]Channel, len(b.channels)),
		channelOrder: append([]string(nil), b.channelOrder...),
		nodes:        make(map[string]NodeFunc, len(b.nodes)),
		nodeOrder:    append([]string(nil), b.nodeOrder...),
		edges:        make(map[string]edge, len(b.edges)),
		entry:        *b.entry,
		inputChannel: b.inputChannel,
	}
	for k, v := range b.channels {
		g.channels[k] = v
	}
	for k, v := range b.nodes {
		g.nodes[k] = v
	}
	for k, v := range b.edges {
		g.edges[k] = v
	}
	return g, nil
}

func (b *Builder) checkEdge(from string, e edge) []error {
	var problems []error
	check := func(to, label string) {
		if to == END {
			return
		}
		if _, ok := b.nodes[to]; !ok {
			problems = append(problems, fmt.Errorf("edge %s -> %q%s: %w", describe(from), to, label, ErrUnknownNode))
		}
	}
	if e.route == nil {
		check(e.to, "")
		return problems
	}
	if len(e.routes) == 0 {
		problems = append(problems, fmt.Errorf("edge from %s: %w: empty route map", describe(from), ErrUnmappedRoute))
	}
	keys := make([]string, 0, len(e.routes))
	for k := range e.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		check(e.routes[k], fmt.Sprintf(" (route %q)", k))
	}
	return problems
}

// checkTermination verifies every node can reach END by walking edges backwards from it.
func (b *Builder) checkTermination() []error {
	reverse := make(map[string][]string)
	for from, e := range b.edges {
		for _, to := range targets(e) {
			reverse[to] = append(reverse[to], from)
		}
	}

	reaches := map[string]bool{END: true}
	queue := []string{END}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, prev := range reverse[cur] {
			if !reaches[prev] {
				reaches[prev] = true
				queue = append(queue, prev)
			}
		}
	}

	var problems []error
	for _, name := range b.nodeOrder {
		if !reaches[name] {
			problems = append(problems, fmt.Errorf("node %q: %w", name, ErrNoTerminalPath))
		}
	}
	return problems
}

func targets(e edge) []string {
	if e.route == nil {
		return []string{e.to}
	}
	out := make([]string, 0, len(e.routes))
	for _, to := range e.routes {
		out = append(out, to)
	}
	return out
}

func describe(node string) string {
	if node == START {
		return "START"
	}
	return fmt.Sprintf("%q", node)
}

func copyRoutes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
