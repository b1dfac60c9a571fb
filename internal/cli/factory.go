// Package cli holds the wiring shared by the arbor commands: building the engine
// from configuration and driving threads from a terminal.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/config"
	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/adapters/docs"
	"github.com/aretw0/arbor/pkg/adapters/file"
	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/adapters/ollama"
	"github.com/aretw0/arbor/pkg/adapters/redis"
	"github.com/aretw0/arbor/pkg/adapters/sqlstore"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/extract"
	"github.com/aretw0/arbor/pkg/flows"
	"github.com/aretw0/arbor/pkg/observability"
	"github.com/aretw0/arbor/pkg/persistence/middleware"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/runner"
	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
)

const redisLockPrefix = "arbor:lock:"

// Runtime is an engine built from configuration, plus what must be released with it.
type Runtime struct {
	Engine   *arbor.Engine
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry

	closers []func() error
}

// Close flushes the knowledge memory and releases the checkpoint backend.
func (r *Runtime) Close() error {
	errs := []error{r.Engine.Flush()}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// Persistence is the checkpoint backend selected by configuration.
type Persistence struct {
	Saver  ports.CheckpointSaver
	Locker ports.DistributedLocker
	Close  func() error
}

// CreateLogger builds the process logger. Debug forces the debug level.
func CreateLogger(cfg config.Config, debug bool) (*slog.Logger, error) {
	if debug {
		return logging.New(slog.LevelDebug), nil
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level), nil
}

// BuildPersistence opens the configured checkpoint backend and applies encryption
// when a key is configured.
func BuildPersistence(cfg config.Config) (*Persistence, error) {
	p := &Persistence{Close: func() error { return nil }}
	cc := cfg.Checkpoint

	switch cc.Backend {
	case config.BackendMemory:
		p.Saver = memory.NewSaver()
	case config.BackendFile:
		p.Saver = file.New(cc.Dir)
	case config.BackendRedis:
		client := backend.NewClient(&backend.Options{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPass,
			DB:       cc.RedisDB,
		})
		var opts []redis.Option
		if cc.TTL > 0 {
			opts = append(opts, redis.WithTTL(cc.TTL))
		}
		p.Saver = redis.NewFromClient(client, opts...)
		p.Locker = redis.NewLocker(client, redisLockPrefix)
		p.Close = client.Close
	case config.BackendSQLite:
		if dir := filepath.Dir(cc.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		s, err := sqlstore.OpenSQLite(cc.SQLitePath)
		if err != nil {
			return nil, err
		}
		p.Saver, p.Close = s, s.Close
	case config.BackendPostgres:
		s, err := sqlstore.OpenPostgres(cc.PostgresDSN)
		if err != nil {
			return nil, err
		}
		p.Saver, p.Close = s, s.Close
	default:
		return nil, fmt.Errorf("%w: unknown checkpoint backend %q", config.ErrInvalid, cc.Backend)
	}

	keys, err := cfg.EncryptionKeys()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	if len(keys) > 0 {
		p.Saver = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    keys[0],
			FallbackKeys: keys[1:],
		})(p.Saver)
	}
	return p, nil
}

// BuildModel creates the Ollama client described by the configuration.
func BuildModel(cfg config.Config, logger *slog.Logger) *ollama.Client {
	return ollama.New(
		ollama.WithBaseURL(cfg.LLM.URL),
		ollama.WithModel(cfg.LLM.Model),
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}),
		ollama.WithLogger(logger),
	)
}

// BuildFlowOptions maps the flow configuration onto node library options.
func BuildFlowOptions(cfg config.Config, model ports.LanguageModel, logger *slog.Logger) []flows.Option {
	completion := ports.CompletionOptions{Temperature: cfg.LLM.Temperature}

	var docOpts []docs.Option
	if len(cfg.Flow.Extensions) > 0 {
		docOpts = append(docOpts, docs.WithExtensions(cfg.Flow.Extensions...))
	}
	docOpts = append(docOpts, docs.WithLogger(logger))

	opts := []flows.Option{
		flows.WithDocuments(docs.NewDirSource(docOpts...)),
		flows.WithCompletionOptions(completion),
		flows.WithMaxTurns(cfg.Flow.MaxTurns),
	}
	if cfg.Flow.Extractor == "llm" {
		opts = append(opts, flows.WithExtractor(extract.NewModelExtractor(model,
			extract.WithCompletionOptions(completion),
			extract.WithLogger(logger),
		)))
	}
	return opts
}

// NewRuntime validates cfg and builds a ready engine.
// In debug mode, node events are written to the log.
func NewRuntime(cfg config.Config, debug bool) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := CreateLogger(cfg, debug)
	if err != nil {
		return nil, err
	}

	p, err := BuildPersistence(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	hooks := observability.NewMetrics(registry).Hooks()
	if debug {
		hooks = domain.MergeHooks(hooks, observability.AuditHooks(logger))
	}

	runnerOpts := []runner.Option{runner.WithMaxSteps(cfg.Flow.MaxSteps)}
	if p.Locker != nil {
		runnerOpts = append(runnerOpts, runner.WithLocker(p.Locker))
	}

	model := BuildModel(cfg, logger)
	eng, err := arbor.New(
		arbor.WithSaver(p.Saver),
		arbor.WithModel(model),
		arbor.WithMemoryFile(cfg.Memory.Path, cfg.Memory.Flush == config.FlushEach),
		arbor.WithFlowOptions(BuildFlowOptions(cfg, model, logger)...),
		arbor.WithRunnerOptions(runnerOpts...),
		arbor.WithLifecycleHooks(hooks),
		arbor.WithLogger(logger),
	)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("error initializing arbor: %w", err)
	}

	return &Runtime{
		Engine:   eng,
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		closers:  []func() error{p.Close},
	}, nil
}
