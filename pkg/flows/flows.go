// Package flows holds the node library of arbor: document retrieval, knowledge
// extraction, the conversational nodes and the graph that wires them together.
package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/extract"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/structured"
)

// Channels of the arbor graph.
const (
	ChannelInput     = "input"
	ChannelResponse  = "response"
	ChannelHistory   = "history"
	ChannelFiles     = "files"
	ChannelOutput    = "output"
	ChannelQuestion  = "question"
	ChannelFlow      = "flow"
	ChannelMemory    = "memory"
	ChannelSourceDir = "source_dir"
)

// Flows a caller can select.
const (
	FlowAnalyze      = "analyze"
	FlowBuildContext = "build_context"
	FlowEcho         = "echo"
)

// Nodes of the arbor graph.
const (
	NodeRetrieve     = "retrieve_documents"
	NodeExtract      = "extract_knowledge"
	NodeAnalyze      = "analyze"
	NodeBuildContext = "build_context"
	NodeEcho         = "echo"
)

// DefaultTerminationPhrases end a conversation when found in the latest human message.
var DefaultTerminationPhrases = []string{"SOLUTION APPROVED", "DONE", "OKAY BYE"}

// Flows lists the selectable flows.
func Flows() []string {
	return []string{FlowAnalyze, FlowBuildContext, FlowEcho}
}

// Library builds the nodes of the arbor graph around its collaborators.
type Library struct {
	model      ports.LanguageModel
	memory     *knowledge.Store
	documents  ports.DocumentSource
	extractor  ports.Extractor
	completion ports.CompletionOptions
	maxTurns   int
	phrases    []string
	onMemory   func(ctx context.Context) error
	logger     *slog.Logger
}

// Option configures a Library.
type Option func(*Library)

// WithDocuments sets the document source used by the retrieval node.
func WithDocuments(src ports.DocumentSource) Option {
	return func(l *Library) {
		l.documents = src
	}
}

// WithExtractor replaces the default rule-based extractor.
func WithExtractor(ex ports.Extractor) Option {
	return func(l *Library) {
		l.extractor = ex
	}
}

// WithCompletionOptions sets the model name and sampling options of conversational calls.
func WithCompletionOptions(opts ports.CompletionOptions) Option {
	return func(l *Library) {
		l.completion = opts
	}
}

// WithMaxTurns bounds the questions asked by a conversation. When reached, the conversation
// produces its final output as if a termination phrase had been sent. Zero means unbounded.
func WithMaxTurns(n int) Option {
	return func(l *Library) {
		l.maxTurns = n
	}
}

// WithTerminationPhrases overrides DefaultTerminationPhrases.
func WithTerminationPhrases(phrases ...string) Option {
	return func(l *Library) {
		l.phrases = phrases
	}
}

// WithMemoryHook registers a callback run after every node that changed the memory,
// typically to flush it to disk.
func WithMemoryHook(fn func(ctx context.Context) error) Option {
	return func(l *Library) {
		l.onMemory = fn
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) {
		l.logger = logger
	}
}

// NewLibrary creates the node library. model may be nil for graphs that only echo or extract;
// conversational nodes then fail with domain.ErrNoModel.
func NewLibrary(model ports.LanguageModel, memory *knowledge.Store, opts ...Option) *Library {
	l := &Library{
		model:     model,
		memory:    memory,
		extractor: extract.NewRuleExtractor(),
		phrases:   DefaultTerminationPhrases,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.memory == nil {
		l.memory = knowledge.New(knowledge.WithLogger(l.logger))
	}
	return l
}

// Memory returns the store the nodes read from and merge into.
func (l *Library) Memory() *knowledge.Store { return l.memory }

// Graph compiles the arbor workflow:
//
//	START -> retrieve_documents -> extract_knowledge -> analyze | build_context | echo
//	START -> analyze | build_context | echo   (no source directory)
//	analyze, build_context -> themselves until an output exists, then END
func (l *Library) Graph() (*graph.CompiledGraph, error) {
	b := graph.NewBuilder()
	b.AddChannel(ChannelInput, graph.Replace, func() any { return "" })
	b.AddChannel(ChannelResponse, graph.Replace, func() any { return "" })
	b.AddChannel(ChannelHistory, graph.Append, func() any { return []any{} })
	b.AddChannel(ChannelFiles, graph.UnionLatest, func() any { return map[string]any{} })
	b.AddChannel(ChannelOutput, graph.Replace, func() any { return "" })
	b.AddChannel(ChannelQuestion, graph.Replace, func() any { return "" })
	b.AddChannel(ChannelFlow, graph.Replace, func() any { return FlowAnalyze })
	b.AddChannel(ChannelMemory, graph.Replace, func() any { return "" })
	b.AddChannel(ChannelSourceDir, graph.Replace, func() any { return "" })
	b.SetInputChannel(ChannelInput)

	b.AddNode(NodeRetrieve, l.retrieveDocuments)
	b.AddNode(NodeExtract, l.extractKnowledge)
	b.AddNode(NodeAnalyze, l.converse(analyzeConversation))
	b.AddNode(NodeBuildContext, l.converse(contextConversation))
	b.AddNode(NodeEcho, l.echo)

	flowRoutes := map[string]string{
		FlowAnalyze:      NodeAnalyze,
		FlowBuildContext: NodeBuildContext,
		FlowEcho:         NodeEcho,
		"unknown":        graph.END,
	}
	entryRoutes := map[string]string{"retrieve": NodeRetrieve}
	for k, v := range flowRoutes {
		entryRoutes[k] = v
	}
	afterTurn := map[string]string{"done": graph.END, "continue": ""}

	b.SetEntryRouter(routeEntry, entryRoutes)
	b.AddEdge(NodeRetrieve, NodeExtract)
	b.AddConditionalEdges(NodeExtract, routeFlow, flowRoutes)
	for _, node := range []string{NodeAnalyze, NodeBuildContext} {
		routes := copyRoutes(afterTurn)
		routes["continue"] = node
		b.AddConditionalEdges(node, routeAfterTurn, routes)
	}
	b.AddEdge(NodeEcho, graph.END)

	return b.Compile()
}

func routeEntry(s domain.State) string {
	if s.String(ChannelSourceDir) != "" {
		return "retrieve"
	}
	return routeFlow(s)
}

func routeFlow(s domain.State) string {
	switch flow := s.String(ChannelFlow); flow {
	case FlowAnalyze, FlowBuildContext, FlowEcho:
		return flow
	default:
		return "unknown"
	}
}

func routeAfterTurn(s domain.State) string {
	if s.String(ChannelOutput) != "" {
		return "done"
	}
	return "continue"
}

func copyRoutes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// syncMemory folds the snapshot carried by the thread into the shared store, so a thread
// resumed in a fresh process sees what it had learned before suspending.
func (l *Library) syncMemory(s domain.State) error {
	raw := s.String(ChannelMemory)
	if raw == "" {
		return nil
	}
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return fmt.Errorf("invalid memory snapshot in state: %w", err)
	}
	if rejected := l.memory.Merge(domain.Extraction{Entities: snap.Entities, Relationships: snap.Relationships}); rejected > 0 {
		l.logger.Warn("Memory snapshot contained dangling relationships", "rejected", rejected)
	}
	return nil
}

// memoryUpdate serializes the store for the memory channel and runs the memory hook.
func (l *Library) memoryUpdate(ctx context.Context, u graph.Update) error {
	data, err := json.Marshal(l.memory.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to serialize memory: %w", err)
	}
	u[ChannelMemory] = string(data)
	if l.onMemory != nil {
		if err := l.onMemory(ctx); err != nil {
			return fmt.Errorf("memory hook: %w", err)
		}
	}
	return nil
}

// History decodes the conversation history channel.
func History(s domain.State) ([]domain.Message, error) {
	var msgs []domain.Message
	if raw, ok := s[ChannelHistory]; ok && raw != nil {
		if err := structured.DecodeValue(raw, &msgs); err != nil {
			return nil, fmt.Errorf("invalid history: %w", err)
		}
	}
	return msgs, nil
}

// Files decodes the file contents channel.
func Files(s domain.State) (map[string]string, error) {
	files := map[string]string{}
	if raw, ok := s[ChannelFiles]; ok && raw != nil {
		if err := structured.DecodeValue(raw, &files); err != nil {
			return nil, fmt.Errorf("invalid files: %w", err)
		}
	}
	return files, nil
}
