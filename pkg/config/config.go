// Package config loads and validates foreman configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/foreman/pkg/task"
)

// Default tuning values exported for documentation and validation.
const (
	DefaultScoreFloor    = 2
	DefaultErrorSentinel = 10
	DefaultAutoMax       = 3
	DefaultQuickMax      = 6
	DefaultMaxFixTries   = 3
	DefaultQuickTimeout  = 15 * time.Second
	DefaultListenAddr    = "127.0.0.1:4499"
	DefaultBusName       = "foreman"
)

// Config is the complete foreman configuration.
type Config struct {
	Scoring       ScoringConfig       `yaml:"scoring"`
	Routing       RoutingConfig       `yaml:"routing"`
	Clarification ClarificationConfig `yaml:"clarification"`
	Verification  VerificationConfig  `yaml:"verification"`
	Quality       QualityConfig       `yaml:"quality"`
	Storage       StorageConfig       `yaml:"storage"`
	Bus           BusConfig           `yaml:"bus"`
	API           APIConfig           `yaml:"api"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ScoringConfig tunes the complexity scorer.
type ScoringConfig struct {
	Floor         int `yaml:"floor"`          // totals below this are raised to it
	ErrorSentinel int `yaml:"error_sentinel"` // fail-safe-high score on extraction failure
}

// RoutingConfig holds the review-intensity band edges. Bands are closed on
// the lower bucket: a score equal to AutoMax still auto-proceeds.
type RoutingConfig struct {
	AutoMax  int `yaml:"auto_max"`
	QuickMax int `yaml:"quick_max"`
}

// ContextThresholds are score cut points for one clarification context type.
// complexity < SkipBelow collects nothing; complexity >= FullAt suspends
// indefinitely; everything between runs the timeout-bounded quick pass.
type ContextThresholds struct {
	SkipBelow int `yaml:"skip_below"`
	FullAt    int `yaml:"full_at"`
}

// ClarificationConfig tunes the clarification gate.
type ClarificationConfig struct {
	QuickTimeout time.Duration                          `yaml:"quick_timeout"`
	Contexts     map[task.ContextType]ContextThresholds `yaml:"contexts"`
}

// VerificationConfig tunes the test verification loop.
type VerificationConfig struct {
	MaxFixAttempts int `yaml:"max_fix_attempts"`
}

// QualityConfig holds per-category minimum review scores.
type QualityConfig struct {
	Thresholds map[string]int `yaml:"thresholds"`
}

// StorageConfig locates the task database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// BusConfig selects the message bus backend. An empty URL uses the embedded
// in-memory bus.
type BusConfig struct {
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig configures the structured event log.
type LoggingConfig struct {
	Dir      string `yaml:"dir"`
	MinLevel string `yaml:"min_level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			Floor:         DefaultScoreFloor,
			ErrorSentinel: DefaultErrorSentinel,
		},
		Routing: RoutingConfig{
			AutoMax:  DefaultAutoMax,
			QuickMax: DefaultQuickMax,
		},
		Clarification: ClarificationConfig{
			QuickTimeout: DefaultQuickTimeout,
			Contexts: map[task.ContextType]ContextThresholds{
				task.ContextReviewScope:     {SkipBelow: 2, FullAt: 6},
				task.ContextImplPreferences: {SkipBelow: 4, FullAt: 8},
				task.ContextImplPlanning:    {SkipBelow: 3, FullAt: 7},
			},
		},
		Verification: VerificationConfig{
			MaxFixAttempts: DefaultMaxFixTries,
		},
		Quality: QualityConfig{
			Thresholds: map[string]int{
				"architecture": 70,
				"security":     80,
				"tests":        75,
			},
		},
		Storage: StorageConfig{
			Path: filepath.Join(".foreman", "foreman.db"),
		},
		Bus: BusConfig{
			Name:    DefaultBusName,
			Timeout: 30 * time.Second,
		},
		API: APIConfig{
			Listen: DefaultListenAddr,
		},
		Logging: LoggingConfig{
			Dir:      filepath.Join(".foreman", "logs"),
			MinLevel: "info",
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults. A missing
// file returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Scoring.Floor < 0 || c.Scoring.Floor > c.Scoring.ErrorSentinel {
		return fmt.Errorf("scoring.floor %d must be in [0, %d]", c.Scoring.Floor, c.Scoring.ErrorSentinel)
	}
	if c.Routing.AutoMax < c.Scoring.Floor {
		return fmt.Errorf("routing.auto_max %d below scoring floor %d", c.Routing.AutoMax, c.Scoring.Floor)
	}
	if c.Routing.QuickMax <= c.Routing.AutoMax {
		return fmt.Errorf("routing.quick_max %d must exceed auto_max %d", c.Routing.QuickMax, c.Routing.AutoMax)
	}
	if c.Verification.MaxFixAttempts < 1 {
		return fmt.Errorf("verification.max_fix_attempts must be at least 1, got %d", c.Verification.MaxFixAttempts)
	}
	if c.Clarification.QuickTimeout <= 0 {
		return fmt.Errorf("clarification.quick_timeout must be positive, got %s", c.Clarification.QuickTimeout)
	}
	for ctxType, th := range c.Clarification.Contexts {
		if th.FullAt <= th.SkipBelow {
			return fmt.Errorf("clarification context %s: full_at %d must exceed skip_below %d", ctxType, th.FullAt, th.SkipBelow)
		}
	}
	for category, threshold := range c.Quality.Thresholds {
		if threshold < 0 || threshold > 100 {
			return fmt.Errorf("quality threshold for %s out of range [0,100]: %d", category, threshold)
		}
	}
	return nil
}
