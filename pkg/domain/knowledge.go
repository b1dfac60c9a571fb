package domain

// Entity is a named node of the knowledge graph.
type Entity struct {
	Name        string         `json:"name" mapstructure:"name"`
	Type        string         `json:"type" mapstructure:"type"`
	Description string         `json:"description" mapstructure:"description"`
	Tags        []string       `json:"tags" mapstructure:"tags"`
	Properties  map[string]any `json:"properties" mapstructure:"properties"`
}

// Relationship is a typed, directed edge between two entities.
// (From, To, Type) identifies it.
type Relationship struct {
	From       string         `json:"from" mapstructure:"from"`
	To         string         `json:"to" mapstructure:"to"`
	Type       string         `json:"type" mapstructure:"type"`
	Properties map[string]any `json:"properties" mapstructure:"properties"`
}

// Snapshot is the full content of the knowledge memory.
type Snapshot struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Extraction is the knowledge found in a batch of documents.
type Extraction struct {
	Entities      []Entity       `json:"entities" mapstructure:"entities"`
	Relationships []Relationship `json:"relationships" mapstructure:"relationships"`
}

// Document is a named piece of text handed to an extractor.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}
