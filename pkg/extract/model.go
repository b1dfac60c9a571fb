package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/structured"
)

const modelPrompt = `Extract the knowledge contained in the document below.
Answer with a single JSON object and nothing else:
{"entities": [{"name": "", "type": "", "description": "", "tags": [], "properties": {}}],
 "relationships": [{"from": "", "to": "", "type": "", "properties": {}}]}
Use short lowercase snake_case relationship types. Every relationship endpoint must also be listed in entities.

Document %q:
%s`

// ModelExtractor asks a language model for entities and relationships.
type ModelExtractor struct {
	model   ports.LanguageModel
	options ports.CompletionOptions
	logger  *slog.Logger
}

// ModelOption configures a ModelExtractor.
type ModelOption func(*ModelExtractor)

// WithCompletionOptions sets the model name and sampling options.
func WithCompletionOptions(opts ports.CompletionOptions) ModelOption {
	return func(m *ModelExtractor) {
		m.options = opts
	}
}

// WithLogger configures the logger used for unparseable answers.
func WithLogger(logger *slog.Logger) ModelOption {
	return func(m *ModelExtractor) {
		m.logger = logger
	}
}

// NewModelExtractor creates an extractor backed by model.
func NewModelExtractor(model ports.LanguageModel, opts ...ModelOption) *ModelExtractor {
	m := &ModelExtractor{model: model, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Extract calls the model once per document. A model failure aborts the batch;
// an unparseable answer only drops that document.
func (m *ModelExtractor) Extract(ctx context.Context, docs []domain.Document) ([]domain.Extraction, error) {
	out := make([]domain.Extraction, 0, len(docs))
	for _, doc := range docs {
		text, err := m.model.Complete(ctx, nil, fmt.Sprintf(modelPrompt, doc.Name, doc.Content), m.options)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", doc.Name, err)
		}

		var ext domain.Extraction
		if err := structured.Decode(text, &ext); err != nil {
			m.logger.Warn("Discarding unparseable extraction", "file", doc.Name, "err", err)
			continue
		}
		for i := range ext.Entities {
			tags := append(ext.Entities[i].Tags, doc.Name)
			ext.Entities[i].Tags = tags
			ext.Entities[i].Name = strings.TrimSpace(ext.Entities[i].Name)
		}
		out = append(out, ext)
	}
	return out, nil
}
