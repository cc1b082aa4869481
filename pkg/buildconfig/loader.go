package buildconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"sigs.k8s.io/yaml"

	"github.com/siteprov/siteprov/pkg/config"
)

// Loader reads build configs in any supported format.
type Loader struct {
	cue      *config.CUEParser
	starlark *config.StarlarkEvaluator
	logger   zerolog.Logger
}

// NewLoader creates a loader. environ is the variable set Starlark configs
// read through getenv().
func NewLoader(environ map[string]string, logger zerolog.Logger) *Loader {
	return &Loader{
		cue:      config.NewCUEParser(),
		starlark: config.NewStarlarkEvaluator(5*time.Second, environ, logger),
		logger:   logger.With().Str("component", "buildconfig").Logger(),
	}
}

// Load reads path and returns the validated config. The format follows the
// extension: .yaml, .yml and .json are data files, .cue is CUE and .star is a
// Starlark program whose public globals form the config.
//
// Options missing from the file keep their Default values; a manualChunks or
// proxy table given in the file replaces the default table.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := l.document(ctx, path)
	if err != nil {
		return nil, err
	}

	cfg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("invalid build config %s: %w", path, err)
	}

	l.logger.Debug().
		Str("path", path).
		Int("proxy_rules", len(cfg.Server.Proxy)).
		Msg("Loaded build config")
	return cfg, nil
}

// document returns the JSON form of path.
func (l *Loader) document(ctx context.Context, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		val, err := l.cue.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return l.cue.ExportJSON(val)

	case ".star":
		script, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read build config: %w", err)
		}
		defaults, err := toDocument(Default())
		if err != nil {
			return nil, err
		}
		result, err := l.starlark.Evaluate(ctx, filepath.Base(path), string(script), map[string]interface{}{
			"defaults": defaults,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(result.Output)

	case ".yaml", ".yml", ".json", "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read build config: %w", err)
		}
		data, err := yaml.YAMLToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("convert yaml to json: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported build config format %q", filepath.Ext(path))
	}
}

// Decode builds a Config from its JSON form on top of Default and validates it.
func Decode(data []byte) (*Config, error) {
	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if document == nil {
		document = map[string]any{}
	}
	if err := ValidateDocument(document); err != nil {
		return nil, err
	}

	cfg := Default()
	if root, ok := document.(map[string]any); ok {
		if build, ok := root["build"].(map[string]any); ok {
			if _, ok := build["manualChunks"]; ok {
				cfg.Build.ManualChunks = nil
			}
		}
		if server, ok := root["server"].(map[string]any); ok {
			if _, ok := server["proxy"]; ok {
				cfg.Server.Proxy = nil
			}
		}
		if _, ok := root["plugins"]; ok {
			cfg.Plugins = nil
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode build config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
