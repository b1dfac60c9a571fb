package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownNode is reported when an edge or entry references a node that does not exist.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnmappedRoute is reported when a route key has no destination.
	ErrUnmappedRoute = errors.New("unmapped route")
	// ErrNoTerminalPath is reported for nodes that cannot reach END.
	ErrNoTerminalPath = errors.New("node has no path to END")
	// ErrMissingEdge is reported for nodes without an outgoing edge.
	ErrMissingEdge = errors.New("node has no outgoing edge")
	// ErrDuplicate is reported when a node, channel or edge is declared twice.
	ErrDuplicate = errors.New("duplicate declaration")
	// ErrReservedName is reported when START or END is used as a node name.
	ErrReservedName = errors.New("reserved node name")
	// ErrNoEntry is reported when no entry point or router was set.
	ErrNoEntry = errors.New("graph has no entry point")
	// ErrUnknownChannel is returned when an update writes a channel that was not declared.
	ErrUnknownChannel = errors.New("unknown channel")
)

// ValidationError collects every problem found by Compile.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("invalid graph: %s", strings.Join(msgs, "; "))
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Problems
}
