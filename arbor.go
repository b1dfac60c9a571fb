package arbor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/flows"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/runner"
)

// ErrUnknownFlow is returned when a start request names a flow the engine does not run.
var ErrUnknownFlow = errors.New("unknown flow")

// Engine is the high-level entry point of the arbor library.
// It wires the node library, the runner, the checkpoint saver and the knowledge memory.
type Engine struct {
	runner     *runner.Runner
	library    *flows.Library
	memory     *knowledge.Store
	memoryPath string
	flushEach  bool
	saver      ports.CheckpointSaver
	model      ports.LanguageModel
	flowOpts   []flows.Option
	runnerOpts []runner.Option
	hooks      domain.LifecycleHooks
	logger     *slog.Logger

	flushMu sync.Mutex
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithSaver sets where checkpoints are persisted (default: in memory).
func WithSaver(saver ports.CheckpointSaver) Option {
	return func(e *Engine) {
		e.saver = saver
	}
}

// WithModel sets the language model used by the conversational flows.
func WithModel(model ports.LanguageModel) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithMemory injects an already loaded knowledge store.
func WithMemory(store *knowledge.Store) Option {
	return func(e *Engine) {
		e.memory = store
	}
}

// WithMemoryFile loads the knowledge memory from path and makes Flush write it back.
// With flushEach, the memory is also written after every node that changed it.
func WithMemoryFile(path string, flushEach bool) Option {
	return func(e *Engine) {
		e.memoryPath = path
		e.flushEach = flushEach
	}
}

// WithFlowOptions forwards options to the node library (documents, extractor, turn bound...).
func WithFlowOptions(opts ...flows.Option) Option {
	return func(e *Engine) {
		e.flowOpts = append(e.flowOpts, opts...)
	}
}

// WithRunnerOptions forwards options to the runner (step limit, locker, clock...).
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(e *Engine) {
		e.runnerOpts = append(e.runnerOpts, opts...)
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New initializes an Engine. A memory file that exists but cannot be parsed is a
// configuration error and fails here, before any thread starts.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.saver == nil {
		eng.saver = memory.NewSaver()
	}
	if eng.memory == nil {
		if eng.memoryPath != "" {
			store, err := knowledge.Load(eng.memoryPath, knowledge.WithLogger(eng.logger))
			if err != nil {
				return nil, fmt.Errorf("failed to load memory: %w", err)
			}
			eng.memory = store
		} else {
			eng.memory = knowledge.New(knowledge.WithLogger(eng.logger))
		}
	}

	flowOpts := []flows.Option{flows.WithLogger(eng.logger)}
	if eng.flushEach && eng.memoryPath != "" {
		flowOpts = append(flowOpts, flows.WithMemoryHook(func(context.Context) error { return eng.Flush() }))
	}
	eng.library = flows.NewLibrary(eng.model, eng.memory, append(flowOpts, eng.flowOpts...)...)

	g, err := eng.library.Graph()
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}

	runnerOpts := []runner.Option{runner.WithLogger(eng.logger), runner.WithHooks(eng.hooks)}
	eng.runner = runner.New(g, eng.saver, append(runnerOpts, eng.runnerOpts...)...)
	return eng, nil
}

// StartRequest describes a new thread.
type StartRequest struct {
	// ThreadID is generated when empty. Starting an existing thread reports its current result.
	ThreadID string `json:"thread_id,omitempty"`
	// Flow selects the pipeline (default: analyze).
	Flow string `json:"flow,omitempty"`
	// Input is the first human message.
	Input string `json:"input,omitempty"`
	// SourceDir, when set, is read and mined for knowledge before the flow runs.
	SourceDir string `json:"source_dir,omitempty"`
}

// Start runs a new thread until it asks a question or completes.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*domain.RunResult, error) {
	flow := req.Flow
	if flow == "" {
		flow = flows.FlowAnalyze
	}
	if !slices.Contains(flows.Flows(), flow) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
	}
	input, err := runner.SanitizeInput(req.Input)
	if err != nil {
		return nil, err
	}

	initial := map[string]any{
		flows.ChannelFlow:  flow,
		flows.ChannelInput: input,
	}
	if req.SourceDir != "" {
		initial[flows.ChannelSourceDir] = req.SourceDir
	}
	return e.runner.Start(ctx, req.ThreadID, initial)
}

// Resume answers the pending question of a suspended thread.
func (e *Engine) Resume(ctx context.Context, threadID, answer string) (*domain.RunResult, error) {
	input, err := runner.SanitizeInput(answer)
	if err != nil {
		return nil, err
	}
	return e.runner.Resume(ctx, threadID, input)
}

// Inspect returns the latest checkpoint of a thread.
func (e *Engine) Inspect(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	return e.runner.Sessions().Latest(ctx, threadID)
}

// History returns every checkpoint of a thread, oldest first.
func (e *Engine) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	return e.runner.Sessions().History(ctx, threadID)
}

// Threads lists the stored thread IDs.
func (e *Engine) Threads(ctx context.Context) ([]string, error) {
	return e.runner.Sessions().List(ctx)
}

// DeleteThread removes a thread and its checkpoints.
func (e *Engine) DeleteThread(ctx context.Context, threadID string) error {
	return e.runner.Sessions().Delete(ctx, threadID)
}

// Memory returns the knowledge store shared by every thread of this engine.
func (e *Engine) Memory() *knowledge.Store { return e.memory }

// Graph returns the compiled workflow.
func (e *Engine) Graph() *graph.CompiledGraph { return e.runner.Graph() }

// Flush writes the knowledge memory to its file. Without a memory file it does nothing.
func (e *Engine) Flush() error {
	if e.memoryPath == "" {
		return nil
	}
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	if err := e.memory.Save(e.memoryPath); err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	e.logger.Debug("Memory flushed", "path", e.memoryPath)
	return nil
}
