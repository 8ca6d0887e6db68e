// Package config loads settings from defaults, an optional buildlab.yaml,
// BUILDLAB_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joss/buildlab/internal/domain"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BUILDLAB"

// Settings holds every configurable value.
type Settings struct {
	// Provider selects the model backend (google, genai, openai).
	Provider     string `mapstructure:"provider"`
	ProjectModel string `mapstructure:"project_model"`
	AnswerModel  string `mapstructure:"answer_model"`
	// APIKey overrides the provider's usual key variable.
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`

	Timeout         time.Duration `mapstructure:"timeout"`
	TokenBudget     int           `mapstructure:"token_budget"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`

	// Store is the project store backend (sqlite, graph).
	Store         string        `mapstructure:"store"`
	DataDir       string        `mapstructure:"data_dir"`
	Neo4jURI      string        `mapstructure:"neo4j_uri"`
	Neo4jUser     string        `mapstructure:"neo4j_user"`
	Neo4jPassword string        `mapstructure:"neo4j_password"`
	Neo4jDatabase string        `mapstructure:"neo4j_database"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`

	ServerAddr string `mapstructure:"server_addr"`
	LogLevel   string `mapstructure:"log_level"`
	// Scaffold is a YAML manifest or directory used instead of the
	// built-in baseline.
	Scaffold string `mapstructure:"scaffold"`
}

func defaults() map[string]any {
	return map[string]any{
		"provider":          "google",
		"project_model":     "models/gemini-1.5-pro",
		"answer_model":      "models/gemini-1.5-flash",
		"api_key":           "",
		"base_url":          "",
		"timeout":           2 * time.Minute,
		"token_budget":      30000,
		"temperature":       1.0,
		"max_output_tokens": 8192,
		"store":             "sqlite",
		"data_dir":          GetPaths().Data,
		"neo4j_uri":         "bolt://localhost:7687",
		"neo4j_user":        "",
		"neo4j_password":    "",
		"neo4j_database":    "",
		"cache_ttl":         5 * time.Second,
		"server_addr":       "127.0.0.1:8080",
		"log_level":         "info",
		"scaffold":          "",
	}
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
}

// Load resolves settings. file may be empty, in which case buildlab.yaml
// is looked for in the working directory and the home directory; a
// missing file is not an error. Flags in fs whose names match a key (with
// dashes for underscores) override everything else.
func Load(fs *pflag.FlagSet, file string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("buildlab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(GetPaths().Home)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if fs != nil {
		if err := BindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// BindFlags binds every flag in fs that names a known key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	known := defaults()
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := known[key]; !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

// Validate checks values that would otherwise fail late.
func (s *Settings) Validate() error {
	switch s.Store {
	case "sqlite", "graph":
	default:
		return fmt.Errorf("store must be sqlite or graph, got %q", s.Store)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if s.TokenBudget < 0 {
		return fmt.Errorf("token_budget must not be negative")
	}
	return nil
}

// ModelFor returns the model configured for mode.
func (s *Settings) ModelFor(mode domain.Mode) string {
	if mode == domain.ModeAnswer {
		return s.AnswerModel
	}
	return s.ProjectModel
}

var (
	env     *Settings
	envErr  error
	envOnce sync.Once
)

// Env returns the process-wide settings, loading them from file and
// environment on first use. Commands that parse flags call SetEnv first.
func Env() *Settings {
	envOnce.Do(func() {
		env, envErr = Load(nil, "")
		if envErr != nil {
			fmt.Fprintf(os.Stderr, "buildlab: %v (using defaults)\n", envErr)
			v := viper.New()
			setDefaults(v)
			env = &Settings{}
			_ = v.Unmarshal(env)
		}
	})
	return env
}

// SetEnv replaces the process-wide settings.
func SetEnv(s *Settings) {
	envOnce.Do(func() {})
	env = s
}

// ResetEnv resets the cached settings (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
	envErr = nil
}

// Paths holds standard directory paths.
type Paths struct {
	// Home is ~/.buildlab
	Home string
	// Data holds the project database.
	Data string
	// Exports is the default target for exported turns and trees.
	Exports string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		root := filepath.Join(home, ".buildlab")

		paths = &Paths{
			Home:    root,
			Data:    filepath.Join(root, "data"),
			Exports: filepath.Join(root, "exports"),
		}
	})
	return paths
}

// Path returns a path under the home directory.
func Path(parts ...string) string {
	return filepath.Join(append([]string{GetPaths().Home}, parts...)...)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
