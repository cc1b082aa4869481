package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/siteprov/siteprov/pkg/telemetry"
)

// DefaultFileName is the provisioning config file looked up in the workdir.
const DefaultFileName = "siteprov.yaml"

// Default returns the provisioning configuration used when no file is given.
func Default() *ProvisionConfig {
	return &ProvisionConfig{
		Workdir: ".",
		Python: PythonConfig{
			Interpreter:  "python3",
			VenvDir:      ".venv",
			MinVersion:   "3.8",
			Requirements: "requirements.txt",
			UpgradePip:   true,
			GetPipURL:    "https://bootstrap.pypa.io/get-pip.py",
		},
		Node: NodeConfig{
			Version:       "18",
			Binary:        "node",
			NvmInstallURL: "https://raw.githubusercontent.com/nvm-sh/nvm/v0.39.7/install.sh",
		},
		Frontend: FrontendConfig{
			Dir:            "frontend",
			PackageManager: "npm",
			Args:           []string{"install"},
		},
		Target: TargetConfig{
			Dir: "/home/site/wwwroot",
		},
		BuildConfig: "frontend/buildconfig.yaml",
		Telemetry:   *telemetry.DefaultConfig(),
	}
}

// Loader reads and validates provisioning configs.
type Loader struct {
	validator *validator.Validate
	schemas   *SchemaRegistry
	cue       *CUEParser
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(),
		schemas:   NewSchemaRegistry(),
		cue:       NewCUEParser(),
	}
}

// Load reads path on top of Default and validates the result. path is a YAML
// file, a CUE file or a directory holding one CUE package.
func (l *Loader) Load(ctx context.Context, path string) (*ProvisionConfig, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch {
	case info.IsDir():
		val, _, err := l.cue.LoadDirectory(path)
		if err != nil {
			return nil, err
		}
		if err := val.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	case strings.EqualFold(filepath.Ext(path), ".cue"):
		val, err := l.cue.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := val.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := l.Validate(ctx, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and returns Default otherwise.
// An empty path looks for DefaultFileName in the current directory.
func (l *Loader) LoadOrDefault(ctx context.Context, path string) (*ProvisionConfig, bool, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), false, nil
		}
		return nil, false, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := l.Load(ctx, path)
	return cfg, err == nil, err
}

// Validate runs struct tag validation, the CUE schema and the semantic checks
// and reports every problem found.
func (l *Loader) Validate(ctx context.Context, cfg *ProvisionConfig) error {
	var result *multierror.Error

	if err := l.validator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result = multierror.Append(result, ValidationError{
					Path:    fe.Namespace(),
					Message: fmt.Sprintf("failed on '%s' rule", fe.Tag()),
				})
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	if err := l.schemas.ValidateAgainstSchema(ctx, "provision", cfg); err != nil {
		for _, ve := range convertCUEErrors(err) {
			result = multierror.Append(result, ve)
		}
	}

	if cfg.Python.MinVersion != "" {
		if _, err := semver.NewVersion(cfg.Python.MinVersion); err != nil {
			result = multierror.Append(result, ValidationError{
				Path:    "python.min_version",
				Message: fmt.Sprintf("not a version: %v", err),
			})
		}
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		result = multierror.Append(result, ValidationError{Path: "telemetry", Message: err.Error()})
	}

	return result.ErrorOrNil()
}

// Marshal renders cfg as YAML.
func Marshal(cfg *ProvisionConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeYAML(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func fmtLocation(file string, line, column int) string {
	if column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, line, column)
	}
	return fmt.Sprintf("%s:%d", file, line)
}
