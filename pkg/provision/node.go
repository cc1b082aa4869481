package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"

	"github.com/siteprov/siteprov/pkg/engine"
	"github.com/siteprov/siteprov/pkg/runner"
)

// nvmDir returns the nvm home: the configured directory, then $NVM_DIR, then
// $HOME/.nvm.
func (p *Provisioner) nvmDir(env engine.Env) string {
	if d := p.cfg.Node.NvmDir; d != "" {
		return env.Resolve(d)
	}
	if d := env.Get("NVM_DIR"); d != "" {
		return d
	}
	if home := env.Home(); home != "" {
		return filepath.Join(home, ".nvm")
	}
	return ""
}

// ensureNode installs the pinned Node.js major through nvm when no node
// binary is on the search path.
func (p *Provisioner) ensureNode(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	binary := p.cfg.Node.Binary
	major := p.cfg.Node.Version

	res, err := p.exec(ctx, env, "", binary, "--version")
	if !missing(res, err) {
		if err == nil && res.Success() {
			version := strings.TrimSpace(res.Stdout)
			p.checkNodeVersion(version, major)
			return env, engine.Succeeded(fmt.Sprintf("Node.js %s already installed", version))
		}
		p.logger.Warn().Err(err).Str("binary", binary).Msg("Node.js is present but did not report a version")
		return env, engine.Succeeded("Node.js already installed")
	}

	nvmDir := p.nvmDir(env)
	if nvmDir == "" {
		return env, engine.Failed(engine.NewRecoverableError(engine.ErrCodeRuntimeInstallFailed,
			"cannot locate nvm: neither NVM_DIR nor HOME is set", nil))
	}
	next := env.With("NVM_DIR", nvmDir)
	p.logger.Info().Str("nvm_dir", nvmDir).Str("version", major).Msg("Node.js not found, installing with nvm")

	res, err = p.shell(ctx, next, fmt.Sprintf("curl -fsSL %s | bash", runner.Quote(p.cfg.Node.NvmInstallURL)))
	if err != nil || !res.Success() {
		return env, engine.Failed(commandFailure(false, engine.ErrCodeRuntimeInstallFailed,
			"failed to install nvm", res, err))
	}

	script := fmt.Sprintf(`. "$NVM_DIR/nvm.sh" && nvm install %[1]s && nvm use %[1]s`, runner.Quote(major))
	res, err = p.shell(ctx, next, script)
	if err != nil || !res.Success() {
		return env, engine.Failed(commandFailure(false, engine.ErrCodeRuntimeInstallFailed,
			fmt.Sprintf("nvm failed to install Node.js %s", major), res, err))
	}
	return next, engine.Succeeded(fmt.Sprintf("Installed Node.js %s with nvm", major))
}

// checkNodeVersion warns when an existing node does not match the pinned major.
func (p *Provisioner) checkNodeVersion(reported, major string) {
	version, err := semver.NewVersion(reported)
	if err != nil {
		p.logger.Warn().Str("version", reported).Msg("Could not parse Node.js version")
		return
	}
	if fmt.Sprint(version.Major()) != major {
		p.logger.Warn().
			Str("version", version.String()).
			Str("pinned", major).
			Msg("Installed Node.js does not match the pinned major version")
	}
}

// finalizePath prepends the bin directory of the newest nvm-installed
// Node.js matching the pinned major. It runs whether or not ensure-node
// installed anything.
func (p *Provisioner) finalizePath(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	nvmDir := p.nvmDir(env)
	if nvmDir == "" {
		return env, engine.Skipped("NVM_DIR and HOME are unset, search path unchanged")
	}
	versionsDir := filepath.Join(nvmDir, "versions", "node")

	dir, version, err := p.newestNode(versionsDir, p.cfg.Node.Version)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return env, engine.Skipped(fmt.Sprintf("No nvm installations in %s", versionsDir))
		}
		return env, engine.Failed(engine.NewRecoverableError(engine.ErrCodeRuntimeInstallFailed,
			fmt.Sprintf("failed to list %s", versionsDir), err))
	}
	if dir == "" {
		return env, engine.Skipped(fmt.Sprintf("No Node.js v%s* in %s", p.cfg.Node.Version, versionsDir))
	}

	bin := filepath.Join(dir, "bin")
	return env.With("NVM_DIR", nvmDir).PrependPath(bin),
		engine.Succeeded(fmt.Sprintf("Using Node.js %s from %s", version, bin))
}

// newestNode returns the directory and version of the highest v<major>*
// installation in versionsDir. dir is empty when nothing matches.
func (p *Provisioner) newestNode(versionsDir, major string) (dir string, version *semver.Version, err error) {
	entries, err := p.fs.ReadDir(versionsDir)
	if err != nil {
		return "", nil, err
	}

	pattern, err := glob.Compile("v" + major + "*")
	if err != nil {
		return "", nil, fmt.Errorf("invalid version pattern: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !pattern.Match(name) {
			continue
		}
		v, err := semver.NewVersion(name)
		if err != nil {
			p.logger.Debug().Str("dir", name).Msg("Ignoring non-version directory")
			continue
		}
		// v1* also matches v10.x.
		if fmt.Sprint(v.Major()) != major {
			continue
		}
		if version == nil || v.GreaterThan(version) {
			version = v
			dir = filepath.Join(versionsDir, name)
		}
	}
	return dir, version, nil
}
