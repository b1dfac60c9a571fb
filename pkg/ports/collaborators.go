package ports

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
)

// CompletionOptions tunes a single model call.
type CompletionOptions struct {
	Model       string
	Temperature float64
}

// LanguageModel completes a conversation.
// Implementations return domain.ErrEmptyResponse when the model produced no text.
type LanguageModel interface {
	Complete(ctx context.Context, history []domain.Message, prompt string, opts CompletionOptions) (string, error)
}

// Extractor derives knowledge from documents.
type Extractor interface {
	Extract(ctx context.Context, docs []domain.Document) ([]domain.Extraction, error)
}

// DocumentSource reads the recognised files of a directory.
// A missing directory yields an empty mapping; unreadable files are skipped.
type DocumentSource interface {
	Load(ctx context.Context, dir string) (map[string]string, error)
}
