// Package config handles YAML configuration loading, environment variable
// expansion, and validation for the memory subsystem.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mnemohq/mnemo-go-sdk/assembler"
	"github.com/mnemohq/mnemo-go-sdk/memory"
	"github.com/mnemohq/mnemo-go-sdk/session"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Duration wraps time.Duration so YAML values like "15m" parse naturally.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the top-level configuration structure.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	Memory      MemoryConfig      `yaml:"memory"`
	Turn        TurnConfig        `yaml:"turn"`
	Background  BackgroundConfig  `yaml:"background"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// SessionConfig tunes short-term session memory.
type SessionConfig struct {
	// TokenBudget caps raw messages plus summary per session.
	TokenBudget int `yaml:"token_budget"`

	// TTL is the sliding idle expiry.
	TTL Duration `yaml:"ttl"`

	// CacheCapacity bounds the hot-session cache entry count.
	CacheCapacity int `yaml:"cache_capacity"`

	// SQLitePath enables the durable session store when set; empty keeps
	// sessions in memory.
	SQLitePath string `yaml:"sqlite_path"`
}

// MemoryConfig tunes long-term memory.
type MemoryConfig struct {
	TopK               int      `yaml:"top_k"`
	RelevanceWeight    *float64 `yaml:"relevance_weight"`
	RecencyWeight      *float64 `yaml:"recency_weight"`
	ImportanceWeight   *float64 `yaml:"importance_weight"`
	DuplicateThreshold float64  `yaml:"duplicate_threshold"`
	ConfidenceFloor    float64  `yaml:"confidence_floor"`
	StalenessWindow    Duration `yaml:"staleness_window"`
	RecencyHalfLife    Duration `yaml:"recency_half_life"`
}

// TurnConfig tunes per-turn context assembly.
type TurnConfig struct {
	Timeout           Duration `yaml:"timeout"`
	MemoryTokenBudget int      `yaml:"memory_token_budget"`
	WindowMessages    int      `yaml:"window_messages"`
}

// BackgroundConfig tunes the post-turn worker pool.
type BackgroundConfig struct {
	Workers      int      `yaml:"workers"`
	QueueDepth   int      `yaml:"queue_depth"`
	MaxAttempts  int      `yaml:"max_attempts"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// MaintenanceConfig holds cron expressions for scheduled jobs. Empty
// disables a job.
type MaintenanceConfig struct {
	// ExpireSessions sweeps idle sessions, e.g. "@every 5m".
	ExpireSessions string `yaml:"expire_sessions"`

	// PruneMemories prunes low-confidence stale records, e.g. "@daily".
	PruneMemories string `yaml:"prune_memories"`
}

// Load reads a YAML configuration file, expands environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses raw YAML into a validated Config.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// It returns an error listing every unresolved variable.
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if hasDefault {
			return subs[2]
		}
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}

// Validate checks cross-field constraints. Zero values are legal everywhere
// and mean "use the component default".
func (c *Config) Validate() error {
	w := []*float64{c.Memory.RelevanceWeight, c.Memory.RecencyWeight, c.Memory.ImportanceWeight}
	set := 0
	sum := 0.0
	for _, v := range w {
		if v == nil {
			continue
		}
		if *v < 0 {
			return fmt.Errorf("memory weights must be non-negative")
		}
		set++
		sum += *v
	}
	if set > 0 && set < 3 {
		return fmt.Errorf("memory weights must be set together or not at all")
	}
	if set == 3 && math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("memory weights must sum to 1, got %g", sum)
	}

	if c.Memory.DuplicateThreshold < 0 || c.Memory.DuplicateThreshold > 1 {
		return fmt.Errorf("duplicate_threshold must be in [0,1]")
	}
	if c.Memory.ConfidenceFloor < 0 || c.Memory.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be in [0,1]")
	}
	return nil
}

// SessionManagerConfig converts to the Session Manager's config type.
func (c *Config) SessionManagerConfig() session.Config {
	return session.Config{
		TokenBudget:   c.Session.TokenBudget,
		TTL:           time.Duration(c.Session.TTL),
		CacheCapacity: int64(c.Session.CacheCapacity),
	}
}

// MemoryManagerConfig converts to the Memory Manager's config type.
func (c *Config) MemoryManagerConfig() memory.Config {
	out := memory.Config{
		TopK:               c.Memory.TopK,
		DuplicateThreshold: c.Memory.DuplicateThreshold,
		ConfidenceFloor:    c.Memory.ConfidenceFloor,
		StalenessWindow:    time.Duration(c.Memory.StalenessWindow),
		RecencyHalfLife:    time.Duration(c.Memory.RecencyHalfLife),
	}
	if c.Memory.RelevanceWeight != nil && c.Memory.RecencyWeight != nil && c.Memory.ImportanceWeight != nil {
		out.Weights = memory.Weights{
			Relevance:  *c.Memory.RelevanceWeight,
			Recency:    *c.Memory.RecencyWeight,
			Importance: *c.Memory.ImportanceWeight,
		}
	}
	return out
}

// AssemblerConfig converts to the Context Assembler's config type.
func (c *Config) AssemblerConfig() assembler.Config {
	return assembler.Config{
		TurnTimeout:       time.Duration(c.Turn.Timeout),
		MemoryTokenBudget: c.Turn.MemoryTokenBudget,
		WindowMessages:    c.Turn.WindowMessages,
		Workers:           c.Background.Workers,
		QueueDepth:        c.Background.QueueDepth,
		MaxAttempts:       c.Background.MaxAttempts,
		RetryBackoff:      time.Duration(c.Background.RetryBackoff),
	}
}
