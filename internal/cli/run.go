package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/presentation/tui"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/flows"
	"golang.org/x/term"
)

// RunOptions configures a terminal run of a flow.
type RunOptions struct {
	Flow      string
	ThreadID  string
	Input     string
	SourceDir string
	// Headless disables the banner, prompts and markdown rendering.
	Headless bool
	// JSON prints the run result as JSON instead of conversing.
	JSON bool

	Stdin  io.Reader
	Stdout io.Writer
}

func (o *RunOptions) defaults() {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
}

// RunFlow starts a thread and converses with it on the terminal until it completes
// or the human leaves. In JSON mode the first result is printed and the thread stays parked.
func RunFlow(ctx context.Context, eng *arbor.Engine, opts RunOptions) error {
	opts.defaults()

	if !opts.JSON && !opts.Headless {
		tui.PrintBanner(opts.Stdout, arbor.Version)
	}

	res, err := eng.Start(ctx, arbor.StartRequest{
		ThreadID:  opts.ThreadID,
		Flow:      opts.Flow,
		Input:     opts.Input,
		SourceDir: opts.SourceDir,
	})
	if err != nil {
		return err
	}
	return converse(ctx, eng, res, opts)
}

// ResumeThread answers the pending question of a thread. With an empty answer and an
// interactive terminal, it re-asks the pending question instead.
func ResumeThread(ctx context.Context, eng *arbor.Engine, threadID, answer string, opts RunOptions) error {
	opts.defaults()

	var res *domain.RunResult
	var err error
	if answer == "" && !opts.JSON {
		cp, err := eng.Inspect(ctx, threadID)
		if err != nil {
			return err
		}
		res = domain.ResultFromCheckpoint(cp)
	} else {
		res, err = eng.Resume(ctx, threadID, answer)
		if err != nil {
			return err
		}
	}
	return converse(ctx, eng, res, opts)
}

func converse(ctx context.Context, eng *arbor.Engine, res *domain.RunResult, opts RunOptions) error {
	if opts.JSON {
		return writeJSON(opts.Stdout, res)
	}

	console := &arbor.Console{
		Input:    opts.Stdin,
		Output:   opts.Stdout,
		Headless: opts.Headless,
	}
	if !opts.Headless && isTerminal(opts.Stdout) {
		console.Renderer = tui.NewRenderer(terminalWidth(opts.Stdout))
	}

	final, err := console.Run(ctx, eng, res)
	if err != nil {
		return err
	}
	if !final.Suspended() && !opts.Headless {
		printSystemMessage(opts.Stdout, "Thread %s finished (%s).", final.ThreadID, final.State.String(flows.ChannelFlow))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// Fatal prints err on stderr with the standard prefix.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
