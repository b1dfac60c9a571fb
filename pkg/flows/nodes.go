package flows

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
)

func (l *Library) retrieveDocuments(ctx context.Context, s domain.State) (graph.Result, error) {
	if l.documents == nil {
		return graph.Result{}, fmt.Errorf("no document source configured")
	}
	dir := s.String(ChannelSourceDir)
	files, err := l.documents.Load(ctx, dir)
	if err != nil {
		return graph.Result{}, fmt.Errorf("failed to load documents from %s: %w", dir, err)
	}
	l.logger.Info("Documents retrieved", "dir", dir, "files", len(files))
	return graph.Continue(graph.Update{ChannelFiles: files}), nil
}

// extractKnowledge merges what the extractor finds in the files into memory.
// Extractor failures leave memory untouched and the run continues.
func (l *Library) extractKnowledge(ctx context.Context, s domain.State) (graph.Result, error) {
	if err := l.syncMemory(s); err != nil {
		return graph.Result{}, err
	}
	files, err := Files(s)
	if err != nil {
		return graph.Result{}, err
	}
	if len(files) == 0 {
		return graph.Continue(nil), nil
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	docs := make([]domain.Document, len(names))
	for i, name := range names {
		docs[i] = domain.Document{Name: name, Content: files[name]}
	}

	extractions, err := l.extractor.Extract(ctx, docs)
	if err != nil {
		l.logger.Warn("Knowledge extraction failed, continuing without new knowledge", "err", err)
		return graph.Continue(nil), nil
	}

	rejected := 0
	for _, ext := range extractions {
		rejected += l.memory.Merge(ext)
	}
	entities, relationships := l.memory.Len()
	l.logger.Info("Knowledge extracted", "documents", len(docs),
		"entities", entities, "relationships", relationships, "rejected", rejected)

	u := graph.Update{}
	if err := l.memoryUpdate(ctx, u); err != nil {
		return graph.Result{}, err
	}
	return graph.Continue(u), nil
}

func (l *Library) echo(_ context.Context, s domain.State) (graph.Result, error) {
	input := s.String(ChannelInput)
	return graph.Continue(graph.Update{
		ChannelInput:    "",
		ChannelResponse: input,
		ChannelOutput:   input,
		ChannelHistory: []domain.Message{
			{Role: domain.RoleHuman, Content: input},
			{Role: domain.RoleAssistant, Content: input},
		},
	}), nil
}
