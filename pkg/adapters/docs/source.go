// Package docs reads the documents of a directory for the retrieval node.
package docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/ledongthuc/pdf"
)

// DefaultExtensions are the file types read when none are configured.
var DefaultExtensions = []string{".txt", ".md", ".go", ".py", ".js", ".ts", ".java", ".json", ".yaml", ".yml", ".toml", ".sql", ".pdf"}

// DefaultMaxFileSize skips files larger than 1MB.
const DefaultMaxFileSize = 1 << 20

// DirSource walks a directory and returns the text of recognised files, keyed by their
// slash-separated path relative to the directory.
type DirSource struct {
	extensions  map[string]bool
	maxFileSize int64
	logger      *slog.Logger
}

var _ ports.DocumentSource = (*DirSource)(nil)

// Option configures the DirSource.
type Option func(*DirSource)

// WithExtensions replaces DefaultExtensions. Extensions are matched case-insensitively,
// with or without the leading dot.
func WithExtensions(exts ...string) Option {
	return func(s *DirSource) {
		s.extensions = extensionSet(exts)
	}
}

// WithMaxFileSize overrides DefaultMaxFileSize. Zero disables the limit.
func WithMaxFileSize(n int64) Option {
	return func(s *DirSource) {
		s.maxFileSize = n
	}
}

// WithLogger configures the logger used for skipped files.
func WithLogger(logger *slog.Logger) Option {
	return func(s *DirSource) {
		s.logger = logger
	}
}

// NewDirSource creates a directory document source.
func NewDirSource(opts ...Option) *DirSource {
	s := &DirSource{
		extensions:  extensionSet(DefaultExtensions),
		maxFileSize: DefaultMaxFileSize,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func extensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// Load reads every recognised file under dir. A missing directory yields an empty mapping;
// files that cannot be read are logged and skipped. Hidden directories are not visited.
func (s *DirSource) Load(ctx context.Context, dir string) (map[string]string, error) {
	out := map[string]string{}

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Document directory does not exist", "dir", dir)
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Warn("Skipping unreadable path", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !s.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		text, err := s.read(path, d)
		if err != nil {
			s.logger.Warn("Skipping unreadable file", "path", path, "err", err)
			return nil
		}
		out[filepath.ToSlash(rel)] = text
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DirSource) read(path string, d fs.DirEntry) (string, error) {
	if s.maxFileSize > 0 {
		info, err := d.Info()
		if err != nil {
			return "", err
		}
		if info.Size() > s.maxFileSize {
			return "", fmt.Errorf("file exceeds %d bytes", s.maxFileSize)
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readPDF extracts the text layer of a PDF.
func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", err
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", errors.New("pdf has no text layer")
	}
	return text, nil
}
