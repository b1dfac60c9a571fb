package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aretw0/arbor"
	pgraph "github.com/aretw0/arbor/internal/presentation/graph"
)

// ListThreads prints one line per stored thread with its status.
func ListThreads(ctx context.Context, eng *arbor.Engine, w io.Writer) error {
	ids, err := eng.Threads(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No threads found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tSTATUS\tSTEP\tNEXT\tUPDATED")
	for _, id := range ids {
		cp, err := eng.Inspect(ctx, id)
		if err != nil {
			fmt.Fprintf(tw, "%s\t(unreadable: %v)\t\t\t\n", id, err)
			continue
		}
		status := "running"
		switch {
		case cp.Suspended():
			status = "suspended"
		case cp.Terminal():
			status = "completed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", id, status, cp.Step, cp.Next, cp.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

// InspectThread prints the latest checkpoint of a thread as JSON.
func InspectThread(ctx context.Context, eng *arbor.Engine, threadID string, w io.Writer) error {
	cp, err := eng.Inspect(ctx, threadID)
	if err != nil {
		return err
	}
	return writeJSON(w, cp)
}

// ThreadHistory prints every checkpoint of a thread, one line each.
func ThreadHistory(ctx context.Context, eng *arbor.Engine, threadID string, w io.Writer) error {
	history, err := eng.History(ctx, threadID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSOURCE\tNODE\tNEXT\tCHECKPOINT")
	for _, cp := range history {
		node := cp.Node
		if node == "" {
			node = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", cp.Step, cp.Source, node, cp.Next, cp.ID)
	}
	return tw.Flush()
}

// DeleteThread removes a thread.
func DeleteThread(ctx context.Context, eng *arbor.Engine, threadID string, w io.Writer) error {
	if err := eng.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	fmt.Fprintf(w, "Thread '%s' deleted.\n", threadID)
	return nil
}

// PrintGraph writes the workflow as a Mermaid chart. With a thread ID, the nodes the
// thread visited and the node it waits on are highlighted.
func PrintGraph(ctx context.Context, eng *arbor.Engine, threadID string, w io.Writer) error {
	var overlay *pgraph.GraphOverlay
	if threadID != "" {
		history, err := eng.History(ctx, threadID)
		if err != nil {
			return err
		}
		overlay = pgraph.OverlayFromHistory(history)
	}
	_, err := fmt.Fprint(w, pgraph.GenerateMermaid(eng.Graph(), overlay))
	return err
}
