// Package config loads CLI configuration: defaults, then a TOML file, then
// environment variables (env wins).
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/convoloop/convoloop/model"
)

type Config struct {
	Model   ModelConfig   `toml:"model"`
	Run     RunConfig     `toml:"run"`
	Budget  BudgetConfig  `toml:"budget"`
	Archive ArchiveConfig `toml:"archive"`
	Log     LogConfig     `toml:"log"`
	// FatalPatterns extends the built-in fatal error classifier with
	// deployment-specific vendor conditions.
	FatalPatterns []model.FatalPattern `toml:"fatal_patterns"`
}

type ModelConfig struct {
	Provider    string  `toml:"provider"`
	Name        string  `toml:"name"`
	APIKey      string  `toml:"api_key"`
	Temperature float64 `toml:"temperature"`
}

type RunConfig struct {
	MaxIterations    int  `toml:"max_iterations"`
	MaxParallelTools int  `toml:"max_parallel_tools"`
	EnableSubagents  bool `toml:"enable_subagents"`
}

type BudgetConfig struct {
	Enabled            bool    `toml:"enabled"`
	FinalAnswerRatio   float64 `toml:"final_answer_ratio"`
	RemoveRatio        float64 `toml:"remove_ratio"`
	PreserveIterations int     `toml:"preserve_iterations"`
}

type ArchiveConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// Format selects the handler: "pretty" (colored, for terminals),
	// "json" or "text".
	Format string `toml:"format"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Model: ModelConfig{Provider: "anthropic", Temperature: 0.7},
		Run:   RunConfig{MaxIterations: 25, MaxParallelTools: 1, EnableSubagents: true},
		Budget: BudgetConfig{
			Enabled:            true,
			FinalAnswerRatio:   0.75,
			RemoveRatio:        0.90,
			PreserveIterations: 2,
		},
		Archive: ArchiveConfig{Path: "convoloop.db"},
		Log:     LogConfig{Level: "info", Format: "pretty"},
	}
}

// Load reads config from path (default "convoloop.toml") over Default(),
// then applies environment variable overrides. A missing file is not an
// error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "convoloop.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("CONVOLOOP_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("CONVOLOOP_MODEL"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("CONVOLOOP_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("CONVOLOOP_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Run.MaxIterations = n
		}
	}
	if v := os.Getenv("CONVOLOOP_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("CONVOLOOP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Classifier builds a model error classifier from the defaults plus any
// configured extra patterns.
func (c Config) Classifier() *model.Classifier {
	if len(c.FatalPatterns) == 0 {
		return model.NewClassifier()
	}
	return model.NewClassifier(func(o *model.ClassifierOptions) {
		o.Patterns = append(model.DefaultFatalPatterns(), c.FatalPatterns...)
	})
}
