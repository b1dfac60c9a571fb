package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFromHistory derives the visited and current nodes from a thread's checkpoints,
// oldest first.
func OverlayFromHistory(history []*domain.Checkpoint) *GraphOverlay {
	overlay := &GraphOverlay{}
	for _, cp := range history {
		if cp.Node != "" {
			overlay.VisitedNodes = append(overlay.VisitedNodes, cp.Node)
		}
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		switch {
		case last.Suspended():
			overlay.CurrentNode = last.Interrupt.Node
		case !last.Terminal():
			overlay.CurrentNode = last.Next
		}
	}
	return overlay
}

// GenerateMermaid produces a Mermaid flowchart for a compiled graph.
// START and END are drawn as circles, conditional edges carry their route key as label.
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(g *graph.CompiledGraph, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	sb.WriteString(fmt.Sprintf("    %s((\"start\"))\n", sanitizeMermaidID(graph.START)))
	for _, node := range g.Nodes() {
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", sanitizeMermaidID(node), node))
	}
	sb.WriteString(fmt.Sprintf("    %s((\"end\"))\n", sanitizeMermaidID(graph.END)))

	for _, e := range g.Edges() {
		from := sanitizeMermaidID(e.From)
		if !e.Conditional() {
			if e.To != "" {
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, sanitizeMermaidID(e.To)))
			}
			continue
		}

		keys := make([]string, 0, len(e.Routes))
		for k := range e.Routes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			label := strings.ReplaceAll(k, "\"", "'")
			sb.WriteString(fmt.Sprintf("    %s -. \"%s\" .-> %s\n", from, label, sanitizeMermaidID(e.Routes[k])))
		}
	}

	// Apply Overlay Styles
	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.CurrentNode != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode)))
		}
	}

	return sb.String()
}

// sanitizeMermaidID maps node names onto identifiers Mermaid accepts.
// START/END use double underscores, which Mermaid reads as markup.
func sanitizeMermaidID(id string) string {
	s := strings.Trim(id, "_")
	s = strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(s)
	if id == graph.START || id == graph.END {
		s = "node_" + s
	}
	return s
}
