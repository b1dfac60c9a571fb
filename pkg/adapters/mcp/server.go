// Package mcp exposes arbor threads and the knowledge memory as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/flows"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MemoryURI is the resource holding the knowledge memory snapshot.
const MemoryURI = "arbor://memory"

// Engine is the subset of *arbor.Engine the MCP server needs.
type Engine interface {
	Start(ctx context.Context, req arbor.StartRequest) (*domain.RunResult, error)
	Resume(ctx context.Context, threadID, answer string) (*domain.RunResult, error)
	Memory() *knowledge.Store
	Flush() error
}

// Server wraps the arbor Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("arbor-mcp", arbor.Version),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_thread",
		mcp.WithDescription("Start a workflow thread. Returns the first question, or the output when the flow completes without one."),
		mcp.WithString("flow", mcp.Description("Flow to run: analyze (default), build_context or echo")),
		mcp.WithString("input", mcp.Description("First human message")),
		mcp.WithString("source_dir", mcp.Description("Directory whose documents are mined for knowledge first")),
		mcp.WithString("thread_id", mcp.Description("Thread ID (generated when omitted)")),
	), s.handleStartThread)

	s.mcpServer.AddTool(mcp.NewTool("resume_thread",
		mcp.WithDescription("Answer the pending question of a suspended thread."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to resume")),
		mcp.WithString("answer", mcp.Required(), mcp.Description("Answer to the pending question")),
	), s.handleResumeThread)

	s.mcpServer.AddTool(mcp.NewTool("find_entity",
		mcp.WithDescription("Look up an entity of the knowledge memory by name (case-insensitive)."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
	), s.handleFindEntity)

	s.mcpServer.AddTool(mcp.NewTool("find_relations",
		mcp.WithDescription("List relationships of the knowledge memory. Every given field must match."),
		mcp.WithString("from", mcp.Description("Source entity name")),
		mcp.WithString("to", mcp.Description("Target entity name")),
		mcp.WithString("type", mcp.Description("Relationship type, e.g. depends_on")),
	), s.handleFindRelations)

	s.mcpServer.AddTool(mcp.NewTool("upsert_entity",
		mcp.WithDescription("Create an entity or merge new facts into an existing one."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithString("type", mcp.Description("Entity type, e.g. service")),
		mcp.WithString("description", mcp.Description("Free text description")),
	), s.handleUpsertEntity)

	s.mcpServer.AddTool(mcp.NewTool("upsert_relationship",
		mcp.WithDescription("Record a relationship between two existing entities."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Source entity name")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target entity name")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Relationship type")),
	), s.handleUpsertRelationship)
}

// threadResult is the tool view of a run result.
type threadResult struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
	Question string `json:"question,omitempty"`
	Output   string `json:"output,omitempty"`
}

func toThreadResult(res *domain.RunResult) threadResult {
	return threadResult{
		ThreadID: res.ThreadID,
		Status:   string(res.Status),
		Question: res.Question,
		Output:   res.State.String(flows.ChannelOutput),
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleStartThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.Start(ctx, arbor.StartRequest{
		ThreadID:  req.GetString("thread_id", ""),
		Flow:      req.GetString("flow", ""),
		Input:     req.GetString("input", ""),
		SourceDir: req.GetString("source_dir", ""),
	})
	if err != nil {
		s.logger.Warn("MCP start_thread failed", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", err)), nil
	}
	return jsonResult(toThreadResult(res))
}

func (s *Server) handleResumeThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID := req.GetString("thread_id", "")
	if threadID == "" {
		return mcp.NewToolResultError("'thread_id' is required"), nil
	}
	res, err := s.engine.Resume(ctx, threadID, req.GetString("answer", ""))
	if err != nil {
		s.logger.Warn("MCP resume_thread failed", "thread_id", threadID, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", err)), nil
	}
	return jsonResult(toThreadResult(res))
}

func (s *Server) handleFindEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	e, ok := s.engine.Memory().FindEntityByName(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %q", domain.ErrEntityNotFound, name)), nil
	}
	return jsonResult(e)
}

func (s *Server) handleFindRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Memory().FindRelations(knowledge.RelationFilter{
		From: req.GetString("from", ""),
		To:   req.GetString("to", ""),
		Type: req.GetString("type", ""),
	}))
}

func (s *Server) handleUpsertEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e := domain.Entity{
		Name:        req.GetString("name", ""),
		Type:        req.GetString("type", ""),
		Description: req.GetString("description", ""),
	}
	if knowledge.Key(e.Name) == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	created := s.engine.Memory().AddOrUpdateEntity(e)
	if err := s.engine.Flush(); err != nil {
		return nil, err
	}
	stored, _ := s.engine.Memory().FindEntityByName(e.Name)
	return jsonResult(map[string]any{"created": created, "entity": stored})
}

func (s *Server) handleUpsertRelationship(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r := domain.Relationship{
		From: req.GetString("from", ""),
		To:   req.GetString("to", ""),
		Type: req.GetString("type", ""),
	}
	created, accepted := s.engine.Memory().UpsertRelationship(r)
	if !accepted {
		return mcp.NewToolResultError(fmt.Sprintf("relationship %s -[%s]-> %s rejected: both entities must exist", r.From, r.Type, r.To)), nil
	}
	if err := s.engine.Flush(); err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"created": created, "relationship": r})
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(MemoryURI, "Knowledge Memory",
		mcp.WithResourceDescription("Entities and relationships collected by every thread"),
		mcp.WithMIMEType("application/json"),
	), s.readMemory)
}

func (s *Server) readMemory(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	b, err := s.engine.Memory().MarshalJSON()
	if err != nil {
		return nil, errors.Join(errors.New("failed to encode memory"), err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      MemoryURI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
