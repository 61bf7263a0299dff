package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errs "codecoder/internal/errors"
)

// FileName is the configuration file looked up at the worktree root and
// under the data root.
const FileName = "codecoder.json"

// EnvLookup resolves the value of an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup reads from the process environment.
func DefaultEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

type loadOptions struct {
	envLookup EnvLookup
	readFile  func(string) ([]byte, error)
	homeDir   func() (string, error)
}

// Option customizes Load, mainly so tests can substitute the environment
// and filesystem.
type Option func(*loadOptions)

// WithEnv overrides environment lookups.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader overrides config file reads.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// WithHomeDir overrides home directory resolution.
func WithHomeDir(home func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = home }
}

// Load resolves the configuration for a worktree. Precedence, lowest to
// highest: zero defaults, <data-root>/codecoder.json, <worktree>/codecoder.json,
// CODECODER_* environment variables. A missing file is not an error; a file
// that fails to parse is.
func Load(worktree string, opts ...Option) (*Config, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := &Config{}

	dataRoot, err := resolveDataRoot(options)
	if err == nil {
		if err := applyFile(cfg, filepath.Join(dataRoot, FileName), options); err != nil {
			return nil, err
		}
	}
	if err := applyFile(cfg, filepath.Join(worktree, FileName), options); err != nil {
		return nil, err
	}
	applyEnv(cfg, options.envLookup)
	normalize(cfg, options.envLookup)
	return cfg, nil
}

// applyFile merges one config file into cfg. Decoding into the existing
// value overlays fields present in the file and keeps the rest.
func applyFile(cfg *Config, path string, options loadOptions) error {
	data, err := options.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.WithKind(errs.KindConfiguration, fmt.Errorf("read config %s: %w", path, err))
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return errs.WithKind(errs.KindConfiguration, fmt.Errorf("parse config %s: %w", path, err))
	}
	return nil
}

func applyEnv(cfg *Config, lookup EnvLookup) {
	if v, ok := lookup("CODECODER_MODEL"); ok && v != "" {
		cfg.Model = v
	}
	if v, ok := lookup("CODECODER_SMALL_MODEL"); ok && v != "" {
		cfg.SmallModel = v
	}
	if v, ok := lookup("CODECODER_DEFAULT_AGENT"); ok && v != "" {
		cfg.DefaultAgent = v
	}
	if v, ok := lookup("CODECODER_USERNAME"); ok && v != "" {
		cfg.Username = v
	}

	apiKey, ok := lookup("CODECODER_API_KEY")
	if !ok || apiKey == "" {
		apiKey, _ = lookup("ANTHROPIC_API_KEY")
	}
	if apiKey != "" {
		if cfg.Provider == nil {
			cfg.Provider = map[string]ProviderConfig{}
		}
		p := cfg.Provider[DefaultProvider]
		if p.APIKey == "" {
			p.APIKey = apiKey
			cfg.Provider[DefaultProvider] = p
		}
	}
}

func normalize(cfg *Config, lookup EnvLookup) {
	cfg.Username = strings.TrimSpace(cfg.Username)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.SmallModel = strings.TrimSpace(cfg.SmallModel)
	cfg.DefaultAgent = strings.TrimSpace(cfg.DefaultAgent)

	if cfg.Username == "" {
		if v, ok := lookup("USER"); ok {
			cfg.Username = v
		}
	}
}

func resolveDataRoot(options loadOptions) (string, error) {
	if v, ok := options.envLookup("CODECODER_DATA_ROOT"); ok && v != "" {
		return v, nil
	}
	home, err := options.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".codecoder"), nil
}

// DefaultDataRoot returns the persistent state root, honoring
// CODECODER_DATA_ROOT and defaulting to ~/.codecoder.
func DefaultDataRoot() (string, error) {
	return resolveDataRoot(loadOptions{envLookup: DefaultEnvLookup, homeDir: os.UserHomeDir})
}
