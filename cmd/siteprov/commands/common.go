package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/buildconfig"
	"github.com/siteprov/siteprov/pkg/config"
	"github.com/siteprov/siteprov/pkg/policy"
)

// loadConfig reads --config, or siteprov.yaml when present, or the defaults.
func loadConfig(ctx context.Context) (*config.ProvisionConfig, error) {
	cfg, _, err := config.NewLoader().LoadOrDefault(ctx, configPath)
	return cfg, err
}

// loadBuildConfig reads the build config at path. An empty path uses the
// build_config entry of cfg and falls back to the defaults when that file
// does not exist. The returned path is empty when the defaults were used.
func loadBuildConfig(ctx context.Context, cfg *config.ProvisionConfig, path string, logger zerolog.Logger) (*buildconfig.Config, string, error) {
	explicit := path != ""
	if !explicit {
		if cfg.BuildConfig == "" {
			return buildconfig.Default(), "", nil
		}
		path = resolve(cfg.Workdir, cfg.BuildConfig)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			logger.Debug().Str("path", path).Msg("No build config, using defaults")
			return buildconfig.Default(), "", nil
		}
		return nil, "", fmt.Errorf("failed to read build config: %w", err)
	}

	bc, err := buildconfig.NewLoader(environMap(), logger).Load(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return bc, path, nil
}

// newPolicyEngine returns the built-in policies plus those under
// policy.dir.
func newPolicyEngine(ctx context.Context, cfg *config.ProvisionConfig, logger zerolog.Logger) (*policy.Engine, error) {
	eng, err := policy.NewEngine(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if dir := policyDir(cfg); dir != "" {
		policies, err := policy.NewLoader(logger).LoadFromPaths(ctx, []string{dir})
		if err != nil {
			return nil, err
		}
		if err := eng.Load(ctx, policies); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func policyDir(cfg *config.ProvisionConfig) string {
	if cfg.Policy.Dir == "" {
		return ""
	}
	return resolve(cfg.Workdir, cfg.Policy.Dir)
}

// printPolicyResult writes one line per violation and warning.
func printPolicyResult(w io.Writer, res *policy.Result) {
	for _, v := range res.Violations {
		fmt.Fprintln(w, v.String())
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "[warning] %s\n", warn)
	}
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

func environMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
