package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/session"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NodeError reports a failed node. No checkpoint is written for the failed step,
// so retrying replays from the last durable checkpoint.
type NodeError struct {
	ThreadID string
	Node     string
	Step     int
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("thread %s: node %q (step %d): %v", e.ThreadID, e.Node, e.Step, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// NewThreadID returns a new sortable unique thread ID.
func NewThreadID() string {
	return ulid.Make().String()
}

// Runner executes a compiled graph against a checkpoint saver.
type Runner struct {
	graph    *graph.CompiledGraph
	sessions *session.Manager
	locker   ports.DistributedLocker
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	maxSteps int
	now      func() time.Time
}

// New creates a runner for g persisting to saver.
func New(g *graph.CompiledGraph, saver ports.CheckpointSaver, opts ...Option) *Runner {
	r := &Runner{
		graph:    g,
		logger:   logging.NewNop(),
		maxSteps: DefaultMaxSteps,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	sessOpts := []session.Option{session.WithLogger(r.logger)}
	if r.locker != nil {
		sessOpts = append(sessOpts, session.WithLocker(r.locker))
	}
	r.sessions = session.NewManager(saver, sessOpts...)
	return r
}

// Graph returns the compiled graph the runner executes.
func (r *Runner) Graph() *graph.CompiledGraph { return r.graph }

// Sessions exposes the thread manager (inspection, listing, deletion).
func (r *Runner) Sessions() *session.Manager { return r.sessions }

// Start runs a thread from its initial state until it suspends or completes.
// An empty threadID generates one. Starting a thread that already has checkpoints does not
// reset it: a parked or finished thread reports its stored result, an interrupted one continues.
func (r *Runner) Start(ctx context.Context, threadID string, initial map[string]any) (*domain.RunResult, error) {
	if threadID == "" {
		threadID = NewThreadID()
	}

	var res *domain.RunResult
	err := r.sessions.WithLock(ctx, threadID, func(ctx context.Context) error {
		saver := r.sessions.Saver()
		latest, err := saver.Latest(ctx, threadID)
		if err == nil {
			r.logger.Debug("Thread exists, continuing from latest checkpoint",
				"thread_id", threadID, "step", latest.Step, "source", latest.Source)
			res, err = r.continueFrom(ctx, latest)
			return err
		}
		if !errors.Is(err, domain.ErrThreadNotFound) {
			return fmt.Errorf("failed to load thread: %w", err)
		}

		state, err := r.graph.Initial(initial)
		if err != nil {
			return fmt.Errorf("invalid initial state: %w", err)
		}
		next, err := r.graph.Entry(state)
		if err != nil {
			return fmt.Errorf("entry routing failed: %w", err)
		}

		cp := r.checkpoint(threadID, 0, domain.SourceInput, "", next, state)
		if err := saver.Put(ctx, cp); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		r.logger.Info("Thread started", "thread_id", threadID, "next", next)

		res, err = r.run(ctx, cp)
		return err
	})
	return res, err
}

// Resume injects value into the graph's input channel and continues a suspended thread.
func (r *Runner) Resume(ctx context.Context, threadID string, value any) (*domain.RunResult, error) {
	var res *domain.RunResult
	err := r.sessions.WithLock(ctx, threadID, func(ctx context.Context) error {
		latest, err := r.sessions.Saver().Latest(ctx, threadID)
		if err != nil {
			return err
		}

		switch {
		case latest.Suspended():
			cp, err := r.inject(ctx, latest, value)
			if err != nil {
				return err
			}
			res, err = r.run(ctx, cp)
			return err

		case latest.Terminal():
			return fmt.Errorf("thread %s: %w", threadID, domain.ErrThreadCompleted)

		case latest.Source == domain.SourceResume:
			// A crash after the resume was recorded: replay without injecting again.
			if err := sameValue(latest.ResumeValue, value); err != nil {
				return fmt.Errorf("thread %s: %w", threadID, err)
			}
			r.logger.Info("Replaying recorded resume", "thread_id", threadID, "step", latest.Step)
			res, err = r.run(ctx, latest)
			return err

		default:
			// Interrupted mid-run: nothing is pending, just continue.
			r.logger.Warn("Thread is not suspended, continuing without resume value",
				"thread_id", threadID, "step", latest.Step, "source", latest.Source)
			res, err = r.run(ctx, latest)
			return err
		}
	})
	return res, err
}

func (r *Runner) inject(ctx context.Context, from *domain.Checkpoint, value any) (*domain.Checkpoint, error) {
	state, err := r.graph.Apply(from.State, map[string]any{r.graph.InputChannel(): value})
	if err != nil {
		return nil, fmt.Errorf("failed to merge resume value: %w", err)
	}
	normalized, err := domain.NormalizeValue(value)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize resume value: %w", err)
	}

	cp := r.checkpoint(from.ThreadID, from.Step+1, domain.SourceResume, "", from.Next, state)
	cp.ResumeValue = normalized
	if err := r.sessions.Saver().Put(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	r.hooks.Emit(ctx, &domain.Event{
		Timestamp: r.now(), Type: domain.EventResume, ThreadID: cp.ThreadID, Node: cp.Next, Step: cp.Step,
	})
	r.logger.Info("Thread resumed", "thread_id", cp.ThreadID, "next", cp.Next, "step", cp.Step)
	return cp, nil
}

func (r *Runner) continueFrom(ctx context.Context, cp *domain.Checkpoint) (*domain.RunResult, error) {
	if cp.Suspended() || cp.Terminal() {
		return domain.ResultFromCheckpoint(cp), nil
	}
	return r.run(ctx, cp)
}

// run executes nodes starting at cp.Next until the thread suspends or reaches END.
func (r *Runner) run(ctx context.Context, cp *domain.Checkpoint) (*domain.RunResult, error) {
	saver := r.sessions.Saver()
	executed := 0

	for !cp.Terminal() {
		if r.maxSteps > 0 && executed >= r.maxSteps {
			return nil, fmt.Errorf("thread %s: %w (%d)", cp.ThreadID, domain.ErrStepLimit, r.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := cp.Next
		step := cp.Step + 1
		fn, ok := r.graph.Node(node)
		if !ok {
			return nil, fmt.Errorf("thread %s: node %q: %w", cp.ThreadID, node, graph.ErrUnknownNode)
		}

		started := r.now()
		r.hooks.Emit(ctx, &domain.Event{Timestamp: started, Type: domain.EventNodeEnter, ThreadID: cp.ThreadID, Node: node, Step: step})
		r.logger.Debug("Entering node", "thread_id", cp.ThreadID, "node", node, "step", step)

		next, err := r.step(ctx, cp, node, step, fn)
		if err != nil {
			nerr := &NodeError{ThreadID: cp.ThreadID, Node: node, Step: step, Err: err}
			r.hooks.Emit(ctx, &domain.Event{
				Timestamp: r.now(), Type: domain.EventNodeError, ThreadID: cp.ThreadID, Node: node, Step: step,
				Duration: r.now().Sub(started), Err: err,
			})
			r.logger.Error("Node failed", "thread_id", cp.ThreadID, "node", node, "step", step, "err", err)
			return nil, nerr
		}

		if err := saver.Put(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		executed++

		r.hooks.Emit(ctx, &domain.Event{
			Timestamp: r.now(), Type: domain.EventNodeLeave, ThreadID: cp.ThreadID, Node: node, Step: step,
			Duration: r.now().Sub(started),
		})
		cp = next

		if cp.Suspended() {
			r.hooks.Emit(ctx, &domain.Event{Timestamp: r.now(), Type: domain.EventSuspend, ThreadID: cp.ThreadID, Node: node, Step: step})
			r.logger.Info("Thread suspended", "thread_id", cp.ThreadID, "node", node, "step", step)
			return domain.ResultFromCheckpoint(cp), nil
		}
	}

	r.hooks.Emit(ctx, &domain.Event{Timestamp: r.now(), Type: domain.EventComplete, ThreadID: cp.ThreadID, Step: cp.Step})
	r.logger.Info("Thread completed", "thread_id", cp.ThreadID, "step", cp.Step)
	return domain.ResultFromCheckpoint(cp), nil
}

// step runs one node and builds, without persisting, the checkpoint that follows it.
func (r *Runner) step(ctx context.Context, cp *domain.Checkpoint, node string, step int, fn graph.NodeFunc) (*domain.Checkpoint, error) {
	result, err := fn(ctx, cp.State.Clone())
	if err != nil {
		return nil, err
	}

	state, err := r.graph.Apply(cp.State, result.Update())
	if err != nil {
		return nil, err
	}

	dest, err := r.graph.Next(node, state)
	if err != nil {
		return nil, err
	}

	source := domain.SourceLoop
	if result.Suspended() {
		source = domain.SourceInterrupt
	}
	next := r.checkpoint(cp.ThreadID, step, source, node, dest, state)
	if result.Suspended() {
		payload, err := domain.NormalizeValue(result.Payload())
		if err != nil {
			return nil, fmt.Errorf("invalid suspend payload: %w", err)
		}
		next.Interrupt = &domain.Interrupt{Node: node, Payload: payload}
	}
	return next, nil
}

func (r *Runner) checkpoint(threadID string, step int, source domain.CheckpointSource, node, next string, state domain.State) *domain.Checkpoint {
	return &domain.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Step:      step,
		Source:    source,
		Node:      node,
		Next:      next,
		State:     state,
		CreatedAt: r.now().UTC(),
	}
}

func sameValue(recorded, value any) error {
	normalized, err := domain.NormalizeValue(value)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(recorded, normalized) {
		return domain.ErrResumeConflict
	}
	return nil
}
