// Package config loads the arbor configuration: an optional YAML (or JSON) file,
// then ARBOR_* environment overrides.
package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no config file is named. Its absence is not an error.
const DefaultPath = "arbor.yaml"

// ErrInvalid wraps every validation problem.
var ErrInvalid = errors.New("invalid configuration")

// Checkpointer backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Flush policies of the knowledge memory.
const (
	FlushEnd  = "end"
	FlushEach = "each"
)

// Config is the full arbor configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" json:"log_level"`
	Memory     MemoryConfig     `yaml:"memory" json:"memory"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Flow       FlowConfig       `yaml:"flow" json:"flow"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

type MemoryConfig struct {
	Path  string `yaml:"path" json:"path"`
	Flush string `yaml:"flush" json:"flush"`
}

type CheckpointConfig struct {
	Backend     string        `yaml:"backend" json:"backend"`
	Dir         string        `yaml:"dir" json:"dir"`
	RedisAddr   string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPass   string        `yaml:"redis_password" json:"redis_password"`
	RedisDB     int           `yaml:"redis_db" json:"redis_db"`
	TTL         time.Duration `yaml:"ttl" json:"ttl"`
	SQLitePath  string        `yaml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn" json:"postgres_dsn"`
	// EncryptionKey is a base64 AES-256 key. Empty disables encryption.
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	// FallbackKeys are older keys still accepted for decryption.
	FallbackKeys []string `yaml:"fallback_keys" json:"fallback_keys"`
}

type LLMConfig struct {
	URL         string        `yaml:"url" json:"url"`
	Model       string        `yaml:"model" json:"model"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

type FlowConfig struct {
	MaxTurns   int      `yaml:"max_turns" json:"max_turns"`
	MaxSteps   int      `yaml:"max_steps" json:"max_steps"`
	Extractor  string   `yaml:"extractor" json:"extractor"`
	Extensions []string `yaml:"extensions" json:"extensions"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogLevel: "info",
		Memory:   MemoryConfig{Path: "memory.json", Flush: FlushEnd},
		Checkpoint: CheckpointConfig{
			Backend:    BackendFile,
			Dir:        ".arbor/threads",
			RedisAddr:  "localhost:6379",
			SQLitePath: ".arbor/threads.db",
		},
		LLM: LLMConfig{
			URL:     "http://localhost:11434",
			Model:   "llama3",
			Timeout: 2 * time.Minute,
		},
		Flow: FlowConfig{
			MaxSteps:  100,
			Extractor: "rules",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path reads DefaultPath if it exists; a named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, &cfg); err != nil {
			return cfg, err
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
		}
		*dst = n
		return nil
	}

	str("ARBOR_LOG_LEVEL", &c.LogLevel)
	str("ARBOR_MEMORY", &c.Memory.Path)
	str("ARBOR_MEMORY_FLUSH", &c.Memory.Flush)
	str("ARBOR_CHECKPOINTER", &c.Checkpoint.Backend)
	str("ARBOR_CHECKPOINT_DIR", &c.Checkpoint.Dir)
	str("ARBOR_REDIS_ADDR", &c.Checkpoint.RedisAddr)
	str("ARBOR_REDIS_PASSWORD", &c.Checkpoint.RedisPass)
	str("ARBOR_SQLITE_PATH", &c.Checkpoint.SQLitePath)
	str("ARBOR_POSTGRES_DSN", &c.Checkpoint.PostgresDSN)
	str("ARBOR_ENCRYPTION_KEY", &c.Checkpoint.EncryptionKey)
	str("ARBOR_LLM_URL", &c.LLM.URL)
	str("ARBOR_LLM_MODEL", &c.LLM.Model)
	str("ARBOR_EXTRACTOR", &c.Flow.Extractor)
	str("ARBOR_ADDR", &c.Server.Addr)
	return errors.Join(
		num("ARBOR_MAX_TURNS", &c.Flow.MaxTurns),
		num("ARBOR_MAX_STEPS", &c.Flow.MaxSteps),
		num("ARBOR_REDIS_DB", &c.Checkpoint.RedisDB),
	)
}

// Validate reports every problem at once, wrapped in ErrInvalid.
func (c Config) Validate() error {
	var problems []string

	switch c.Checkpoint.Backend {
	case BackendMemory, BackendFile, BackendRedis, BackendSQLite, BackendPostgres:
	default:
		problems = append(problems, fmt.Sprintf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}
	if c.Checkpoint.Backend == BackendPostgres && c.Checkpoint.PostgresDSN == "" {
		problems = append(problems, "postgres backend requires postgres_dsn")
	}
	if c.Checkpoint.Backend == BackendRedis && c.Checkpoint.RedisAddr == "" {
		problems = append(problems, "redis backend requires redis_addr")
	}
	if c.Checkpoint.EncryptionKey != "" {
		if _, err := c.EncryptionKeys(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	switch c.Memory.Flush {
	case FlushEnd, FlushEach:
	default:
		problems = append(problems, fmt.Sprintf("unknown memory flush policy %q", c.Memory.Flush))
	}
	switch c.Flow.Extractor {
	case "rules", "llm":
	default:
		problems = append(problems, fmt.Sprintf("unknown extractor %q", c.Flow.Extractor))
	}
	if c.Flow.MaxTurns < 0 {
		problems = append(problems, "max_turns must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// EncryptionKeys decodes the active key followed by the fallback keys.
// It returns nil when encryption is disabled.
func (c Config) EncryptionKeys() ([][]byte, error) {
	if c.Checkpoint.EncryptionKey == "" {
		return nil, nil
	}
	var keys [][]byte
	for i, enc := range append([]string{c.Checkpoint.EncryptionKey}, c.Checkpoint.FallbackKeys...) {
		key, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("encryption key %d is not base64", i)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key %d must be 32 bytes, got %d", i, len(key))
		}
		keys = append(keys, key)
	}
	return keys, nil
}
