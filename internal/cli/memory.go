package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/knowledge"
)

// ShowMemory prints a summary of the knowledge memory.
func ShowMemory(eng *arbor.Engine, w io.Writer) {
	entities, relationships := eng.Memory().Len()
	fmt.Fprintf(w, "%d entities, %d relationships\n", entities, relationships)
	if entities > 0 {
		fmt.Fprintln(w, eng.Memory().Describe())
	}
}

// ShowEntity prints one entity and its relationships.
func ShowEntity(eng *arbor.Engine, name string, w io.Writer) error {
	store := eng.Memory()
	e, ok := store.FindEntityByName(name)
	if !ok {
		return fmt.Errorf("entity %q: %w", name, domain.ErrEntityNotFound)
	}

	fmt.Fprintf(w, "%s", e.Name)
	if e.Type != "" {
		fmt.Fprintf(w, " (%s)", e.Type)
	}
	fmt.Fprintln(w)
	if len(e.Tags) > 0 {
		fmt.Fprintf(w, "  tags: %s\n", strings.Join(e.Tags, ", "))
	}
	keys := make([]string, 0, len(e.Properties))
	for k := range e.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, e.Properties[k])
	}

	for _, r := range store.FindRelations(knowledge.RelationFilter{From: name}) {
		fmt.Fprintf(w, "  -> %s %s\n", r.Type, r.To)
	}
	for _, r := range store.FindRelations(knowledge.RelationFilter{To: name}) {
		fmt.Fprintf(w, "  <- %s %s\n", r.Type, r.From)
	}
	return nil
}

// ShowRelations prints the relationships matching filter.
func ShowRelations(eng *arbor.Engine, filter knowledge.RelationFilter, w io.Writer) error {
	rels := eng.Memory().FindRelations(filter)
	if len(rels) == 0 {
		fmt.Fprintln(w, "No relationships found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTYPE\tTO")
	for _, r := range rels {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.From, r.Type, r.To)
	}
	return tw.Flush()
}

// ExportMemory writes the memory as JSON to path, or to w when path is "" or "-".
func ExportMemory(eng *arbor.Engine, path string, w io.Writer) error {
	if path == "" || path == "-" {
		return writeJSON(w, eng.Memory().Snapshot())
	}
	if err := eng.Memory().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "Memory exported to %s\n", path)
	return nil
}

// ImportMemory merges a memory file into the engine's memory and flushes it.
// It returns the number of rejected relationships.
func ImportMemory(eng *arbor.Engine, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	other, err := knowledge.Load(path)
	if err != nil {
		return 0, err
	}
	snap := other.Snapshot()
	rejected := eng.Memory().Merge(domain.Extraction{Entities: snap.Entities, Relationships: snap.Relationships})
	return rejected, eng.Flush()
}
