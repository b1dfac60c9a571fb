// Package knowledge implements the persistent knowledge memory: entities and the typed
// relationships between them, merged in place as workflows discover them.
package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
)

// Key normalizes an entity name for lookup: trimmed, lowercased, inner whitespace collapsed.
// Entity names are unique by key; the display name of the first insertion is kept.
func Key(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

type relKey struct {
	from, to, typ string
}

// RelationFilter selects relationships. Empty fields match anything.
type RelationFilter struct {
	From string
	To   string
	Type string
}

// Store is the in-process knowledge memory. It is safe for concurrent use inside one process;
// several processes writing the same file are not supported.
type Store struct {
	mu          sync.RWMutex
	entities    map[string]*domain.Entity
	entityOrder []string
	relations   []*domain.Relationship
	relIndex    map[relKey]int
	logger      *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger configures a logger for rejected insertions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entities: make(map[string]*domain.Entity),
		relIndex: make(map[relKey]int),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromSnapshot builds a store holding the snapshot's content, merged in order.
func FromSnapshot(snap domain.Snapshot, opts ...Option) *Store {
	s := New(opts...)
	for _, e := range snap.Entities {
		s.AddOrUpdateEntity(e)
	}
	for _, r := range snap.Relationships {
		s.AddOrUpdateRelationship(r)
	}
	return s
}

// Load reads a memory file. A missing file yields an empty store; other failures propagate.
func Load(path string, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(opts...), nil
		}
		return nil, fmt.Errorf("failed to read memory file: %w", err)
	}

	var snap domain.Snapshot
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to parse memory file %s: %w", path, err)
		}
	}
	return FromSnapshot(snap, opts...), nil
}

// Save writes the memory as pretty-printed JSON, replacing the file atomically.
func (s *Store) Save(path string) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure memory directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".memory-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close memory file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace memory file: %w", err)
	}
	return nil
}

// MarshalJSON renders the snapshot as indented JSON.
func (s *Store) MarshalJSON() ([]byte, error) {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memory: %w", err)
	}
	return data, nil
}

// AddOrUpdateEntity inserts e or merges it into the entity with the same name.
// Merging unions tags, shallow-merges properties (new values win) and replaces
// type and description when the new ones are non-empty. It returns true when the
// entity was created.
func (s *Store) AddOrUpdateEntity(e domain.Entity) bool {
	key := Key(e.Name)
	if key == "" {
		s.logger.Warn("Rejected entity without name")
		return false
	}
	props := s.normalizeProps(e.Properties)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entities[key]
	if !ok {
		created := domain.Entity{
			Name:        strings.TrimSpace(e.Name),
			Type:        e.Type,
			Description: e.Description,
			Tags:        unionTags(nil, e.Tags),
			Properties:  mergeProps(nil, props),
		}
		s.entities[key] = &created
		s.entityOrder = append(s.entityOrder, key)
		return true
	}

	if e.Type != "" {
		existing.Type = e.Type
	}
	if e.Description != "" {
		existing.Description = e.Description
	}
	existing.Tags = unionTags(existing.Tags, e.Tags)
	existing.Properties = mergeProps(existing.Properties, props)
	return false
}

// AddOrUpdateRelationship inserts r, or merges its properties into the relationship with the
// same (from, to, type). It returns true when r was accepted, whether created or merged.
// Both endpoints must already exist; otherwise nothing changes and false is returned.
func (s *Store) AddOrUpdateRelationship(r domain.Relationship) bool {
	_, accepted := s.UpsertRelationship(r)
	return accepted
}

// UpsertRelationship is AddOrUpdateRelationship reporting creation separately:
// created is true only when no relationship with the same key existed.
func (s *Store) UpsertRelationship(r domain.Relationship) (created, accepted bool) {
	return s.upsertRelationship(r)
}

func (s *Store) upsertRelationship(r domain.Relationship) (created, accepted bool) {
	k := relKey{from: Key(r.From), to: Key(r.To), typ: strings.TrimSpace(r.Type)}
	if k.from == "" || k.to == "" || k.typ == "" {
		s.logger.Warn("Rejected incomplete relationship", "from", r.From, "to", r.To, "type", r.Type)
		return false, false
	}
	props := s.normalizeProps(r.Properties)

	s.mu.Lock()
	defer s.mu.Unlock()

	from, okFrom := s.entities[k.from]
	to, okTo := s.entities[k.to]
	if !okFrom || !okTo {
		s.logger.Warn("Rejected relationship with missing endpoint",
			"from", r.From, "to", r.To, "type", r.Type,
			"from_exists", okFrom, "to_exists", okTo)
		return false, false
	}

	if idx, ok := s.relIndex[k]; ok {
		existing := s.relations[idx]
		existing.Properties = mergeProps(existing.Properties, props)
		return false, true
	}

	s.relIndex[k] = len(s.relations)
	s.relations = append(s.relations, &domain.Relationship{
		From:       from.Name,
		To:         to.Name,
		Type:       k.typ,
		Properties: mergeProps(nil, props),
	})
	return true, true
}

// FindEntityByName looks an entity up by name, ignoring case and surrounding whitespace.
func (s *Store) FindEntityByName(name string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[Key(name)]
	if !ok {
		return domain.Entity{}, false
	}
	return copyEntity(*e), true
}

// FindRelations returns the relationships matching every non-empty field of filter,
// in insertion order.
func (s *Store) FindRelations(filter RelationFilter) []domain.Relationship {
	from, to, typ := Key(filter.From), Key(filter.To), strings.TrimSpace(filter.Type)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Relationship{}
	for _, r := range s.relations {
		if from != "" && Key(r.From) != from {
			continue
		}
		if to != "" && Key(r.To) != to {
			continue
		}
		if typ != "" && r.Type != typ {
			continue
		}
		out = append(out, copyRelationship(*r))
	}
	return out
}

// Merge applies an extraction: entities first, then relationships.
// It returns how many relationships were rejected.
func (s *Store) Merge(ext domain.Extraction) (rejected int) {
	for _, e := range ext.Entities {
		s.AddOrUpdateEntity(e)
	}
	for _, r := range ext.Relationships {
		if _, ok := s.upsertRelationship(r); !ok {
			rejected++
		}
	}
	return rejected
}

// Snapshot returns a deep copy of the memory, entities and relationships in insertion order.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		Entities:      make([]domain.Entity, 0, len(s.entityOrder)),
		Relationships: make([]domain.Relationship, 0, len(s.relations)),
	}
	for _, k := range s.entityOrder {
		snap.Entities = append(snap.Entities, copyEntity(*s.entities[k]))
	}
	for _, r := range s.relations {
		snap.Relationships = append(snap.Relationships, copyRelationship(*r))
	}
	return snap
}

// Len returns the number of entities and relationships.
func (s *Store) Len() (entities, relationships int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.relations)
}

// Describe renders the memory as compact text for prompts.
func (s *Store) Describe() string {
	snap := s.Snapshot()
	if len(snap.Entities) == 0 {
		return "(empty)"
	}

	var sb strings.Builder
	sb.WriteString("Entities:\n")
	for _, e := range snap.Entities {
		fmt.Fprintf(&sb, "- %s", e.Name)
		if e.Type != "" {
			fmt.Fprintf(&sb, " [%s]", e.Type)
		}
		if e.Description != "" {
			fmt.Fprintf(&sb, ": %s", e.Description)
		}
		if len(e.Tags) > 0 {
			fmt.Fprintf(&sb, " (tags: %s)", strings.Join(e.Tags, ", "))
		}
		sb.WriteString("\n")
	}
	if len(snap.Relationships) > 0 {
		sb.WriteString("Relationships:\n")
		for _, r := range snap.Relationships {
			fmt.Fprintf(&sb, "- %s -[%s]-> %s\n", r.From, r.Type, r.To)
		}
	}
	return sb.String()
}

func unionTags(current, add []string) []string {
	out := make([]string, 0, len(current)+len(add))
	seen := make(map[string]bool, len(current)+len(add))
	for _, list := range [][]string{current, add} {
		for _, t := range list {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// normalizeProps stores property values in their JSON form so the in-memory store equals
// what Load reads back. Values JSON cannot encode are dropped.
func (s *Store) normalizeProps(props map[string]any) map[string]any {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		n, err := domain.NormalizeValue(v)
		if err != nil {
			s.logger.Warn("Dropped property without JSON form", "property", k, "err", err)
			continue
		}
		out[k] = n
	}
	return out
}

func mergeProps(current, add map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(add))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

func copyEntity(e domain.Entity) domain.Entity {
	e.Tags = append([]string{}, e.Tags...)
	e.Properties = mergeProps(nil, e.Properties)
	return e
}

func copyRelationship(r domain.Relationship) domain.Relationship {
	r.Properties = mergeProps(nil, r.Properties)
	return r
}

// EntityNames returns entity display names sorted alphabetically.
func (s *Store) EntityNames() []string {
	snap := s.Snapshot()
	names := make([]string, len(snap.Entities))
	for i, e := range snap.Entities {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names
}
