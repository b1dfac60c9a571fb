// Package extract turns documents into knowledge (entities and relationships).
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/aretw0/arbor/pkg/domain"
)

var (
	identifier = `([A-Za-z_][\w.\-/]*)`

	relationPattern = regexp.MustCompile(`(?i)\b` + identifier + `\s+(depends\s+on|uses|calls|imports|extends|implements|contains|requires|reads|writes)\s+` + identifier)
	isAPattern      = regexp.MustCompile(`(?i)\b` + identifier + `\s+is\s+an?\s+([A-Za-z][\w\-]*)`)
)

// RuleExtractor finds knowledge with plain-text patterns such as "X depends on Y" or
// "X is a service". Names are lowercased so mentions in different casing converge.
type RuleExtractor struct{}

// NewRuleExtractor creates the pattern-based extractor.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// Extract returns one extraction per document, in input order.
func (RuleExtractor) Extract(ctx context.Context, docs []domain.Document) ([]domain.Extraction, error) {
	out := make([]domain.Extraction, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, extractDocument(doc))
	}
	return out, nil
}

func extractDocument(doc domain.Document) domain.Extraction {
	var ext domain.Extraction
	seen := make(map[string]int)

	addEntity := func(name, typ string) {
		name = strings.ToLower(strings.TrimRight(name, ".,;:"))
		if idx, ok := seen[name]; ok {
			if typ != "" {
				ext.Entities[idx].Type = typ
			}
			return
		}
		seen[name] = len(ext.Entities)
		ext.Entities = append(ext.Entities, domain.Entity{
			Name:       name,
			Type:       typ,
			Tags:       []string{doc.Name},
			Properties: map[string]any{"source": doc.Name},
		})
	}

	for _, m := range isAPattern.FindAllStringSubmatch(doc.Content, -1) {
		addEntity(m[1], strings.ToLower(m[2]))
	}
	for _, m := range relationPattern.FindAllStringSubmatch(doc.Content, -1) {
		from := strings.ToLower(strings.TrimRight(m[1], ".,;:"))
		to := strings.ToLower(strings.TrimRight(m[3], ".,;:"))
		addEntity(from, "")
		addEntity(to, "")
		ext.Relationships = append(ext.Relationships, domain.Relationship{
			From:       from,
			To:         to,
			Type:       relationType(m[2]),
			Properties: map[string]any{"source": doc.Name},
		})
	}
	return ext
}

func relationType(verb string) string {
	return strings.Join(strings.Fields(strings.ToLower(verb)), "_")
}
