package arbor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/flows"
)

// ContentRenderer transforms text before it is written (e.g. markdown to ANSI).
type ContentRenderer func(string) (string, error)

// Console drives a thread interactively: it prints each question, reads the answer
// from Input and resumes the thread until it completes.
type Console struct {
	Input    io.Reader
	Output   io.Writer
	Headless bool
	Renderer ContentRenderer
}

// Run loops from res until the thread completes, the input ends, or the human types
// "exit" or "quit". A thread left on EOF or exit stays parked and can be resumed later.
func (c *Console) Run(ctx context.Context, eng *Engine, res *domain.RunResult) (*domain.RunResult, error) {
	if c.Input == nil {
		return nil, fmt.Errorf("input reader must be set (use os.Stdin)")
	}
	if c.Output == nil {
		return nil, fmt.Errorf("output writer must be set (use os.Stdout)")
	}
	lineReader := bufio.NewReader(c.Input)

	if !c.Headless {
		fmt.Fprintf(c.Output, "--- arbor thread %s ---\n", res.ThreadID)
	}

	for res.Suspended() {
		c.print(res.Question)
		if !c.Headless {
			fmt.Fprint(c.Output, "> ")
		}

		text, err := lineReader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && text != "") {
			if errors.Is(err, io.EOF) {
				c.parked(res)
				return res, nil
			}
			return nil, fmt.Errorf("input error: %w", err)
		}
		answer := strings.TrimSpace(text)
		if answer == "exit" || answer == "quit" {
			c.parked(res)
			return res, nil
		}

		res, err = eng.Resume(ctx, res.ThreadID, answer)
		if err != nil {
			return nil, err
		}
	}

	c.print(res.State.String(flows.ChannelOutput))
	return res, nil
}

func (c *Console) print(text string) {
	if text == "" {
		return
	}
	if c.Renderer != nil {
		if rendered, err := c.Renderer(text); err == nil {
			text = rendered
		}
	}
	fmt.Fprintln(c.Output, strings.TrimSpace(text))
}

func (c *Console) parked(res *domain.RunResult) {
	if !c.Headless {
		fmt.Fprintf(c.Output, "Thread %s parked. Resume with: arbor resume %s \"<answer>\"\n", res.ThreadID, res.ThreadID)
	}
}
