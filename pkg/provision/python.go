package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/siteprov/siteprov/pkg/engine"
)

// reset removes the virtual environment directory unconditionally.
func (p *Provisioner) reset(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	venv := env.Resolve(p.cfg.Python.VenvDir)

	_, statErr := p.fs.Stat(venv)
	if err := p.fs.RemoveAll(venv); err != nil {
		return env, engine.Failed(engine.NewRecoverableError(engine.ErrCodeResetFailed,
			fmt.Sprintf("failed to remove %s", venv), err))
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		return env, engine.Succeeded(fmt.Sprintf("No previous environment at %s", venv))
	}
	return env, engine.Succeeded(fmt.Sprintf("Removed %s", venv))
}

// bootstrapPip installs pip for the user when the interpreter lacks it and
// puts the user script directory on the search path.
func (p *Provisioner) bootstrapPip(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	python := p.cfg.Python.Interpreter

	res, err := p.exec(ctx, env, "", python, "-m", "pip", "--version")
	if err == nil && res.Success() {
		return env, engine.Succeeded(strings.TrimSpace(res.Stdout))
	}
	p.logger.Info().Str("interpreter", python).Msg("pip not available, bootstrapping")

	installer := filepath.Join(nonEmpty(env.Get("TMPDIR"), "/tmp"), "get-pip.py")
	res, err = p.exec(ctx, env, "", "curl", "-fsSL", p.cfg.Python.GetPipURL, "-o", installer)
	if err != nil || !res.Success() {
		return env, engine.Failed(commandFailure(false, engine.ErrCodeBootstrapFailed,
			"failed to download the pip installer", res, err))
	}

	res, err = p.exec(ctx, env, "", python, installer, "--user")
	if err != nil || !res.Success() {
		return env, engine.Failed(commandFailure(false, engine.ErrCodeBootstrapFailed,
			"pip installer failed", res, err))
	}

	home := env.Home()
	if home == "" {
		p.logger.Warn().Msg("HOME is not set, user script directory not added to search path")
		return env, engine.Succeeded("Installed pip")
	}
	userBin := filepath.Join(home, ".local", "bin")
	return env.PrependPath(userBin), engine.Succeeded(fmt.Sprintf("Installed pip, added %s to search path", userBin))
}

// createVenv checks the interpreter version and creates the virtual environment.
func (p *Provisioner) createVenv(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	python := p.cfg.Python.Interpreter
	venv := env.Resolve(p.cfg.Python.VenvDir)

	if minVersion := p.cfg.Python.MinVersion; minVersion != "" {
		if serr := p.checkPythonVersion(ctx, env, python, minVersion); serr != nil {
			return env, engine.Failed(serr)
		}
	}

	res, err := p.exec(ctx, env, "", python, "-m", "venv", venv)
	if err != nil || !res.Success() {
		return env, engine.Failed(commandFailure(true, engine.ErrCodeEnvCreateFailed,
			fmt.Sprintf("failed to create virtual environment at %s", venv), res, err))
	}
	return env, engine.Succeeded(fmt.Sprintf("Created virtual environment at %s", venv))
}

// checkPythonVersion fails when the interpreter reports a version below minVersion.
// An interpreter whose version cannot be determined is left to venv creation.
func (p *Provisioner) checkPythonVersion(ctx context.Context, env engine.Env, python, minVersion string) *engine.StageError {
	constraint, err := semver.NewConstraint(">= " + minVersion)
	if err != nil {
		return engine.NewFatalError(engine.ErrCodeEnvCreateFailed, fmt.Sprintf("invalid minimum Python version %q", minVersion), err)
	}

	res, err := p.exec(ctx, env, "", python, "--version")
	if err != nil || !res.Success() {
		p.logger.Warn().Err(err).Str("interpreter", python).Msg("Could not determine interpreter version")
		return nil
	}
	// Python 2 prints its version on stderr.
	version, err := parsePythonVersion(res.Stdout + res.Stderr)
	if err != nil {
		p.logger.Warn().Err(err).Str("interpreter", python).Msg("Could not parse interpreter version")
		return nil
	}
	if !constraint.Check(version) {
		return engine.NewFatalError(engine.ErrCodeEnvCreateFailed,
			fmt.Sprintf("%s is Python %s, need %s or newer", python, version, minVersion), nil).
			WithDetail("version", version.String())
	}
	p.logger.Debug().Str("version", version.String()).Msg("Interpreter version accepted")
	return nil
}

var pythonVersionRe = regexp.MustCompile(`Python\s+(\d+\.\d+(?:\.\d+)?)`)

func parsePythonVersion(output string) (*semver.Version, error) {
	m := pythonVersionRe.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("unrecognised version output %q", strings.TrimSpace(output))
	}
	return semver.NewVersion(m[1])
}

// activationScripts are tried in order: POSIX layout, then Windows layout.
var activationScripts = []string{
	filepath.Join("bin", "activate"),
	filepath.Join("Scripts", "activate"),
}

// activate applies what sourcing the activation script would: VIRTUAL_ENV is
// set, the script directory leads the search path and PYTHONHOME is unset.
func (p *Provisioner) activate(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	venv := env.Resolve(p.cfg.Python.VenvDir)

	var script string
	for _, rel := range activationScripts {
		candidate := filepath.Join(venv, rel)
		if info, err := p.fs.Stat(candidate); err == nil && !info.IsDir() {
			script = candidate
			break
		}
	}
	if script == "" {
		return env, engine.Failed(engine.NewFatalError(engine.ErrCodeActivationScriptMissing,
			fmt.Sprintf("no activation script in %s", venv), nil).
			WithDetail("searched", strings.Join(activationScripts, ", ")))
	}

	virtualEnv := venv
	if content, err := p.fs.ReadFile(script); err != nil {
		p.logger.Warn().Err(err).Str("script", script).Msg("Could not read activation script")
	} else if v := scriptVirtualEnv(string(content)); v != "" {
		virtualEnv = v
	}

	next := env.
		With("VIRTUAL_ENV", virtualEnv).
		Without("PYTHONHOME").
		PrependPath(filepath.Dir(script))
	return next, engine.Succeeded(fmt.Sprintf("Activated %s", virtualEnv))
}

var virtualEnvRe = regexp.MustCompile(`(?m)^\s*(?:export\s+)?VIRTUAL_ENV=(?:"([^"]*)"|'([^']*)'|(\S+))`)

// scriptVirtualEnv returns the literal VIRTUAL_ENV assignment of an activation
// script, or "" when there is none or it is computed at source time.
func scriptVirtualEnv(script string) string {
	for _, m := range virtualEnvRe.FindAllStringSubmatch(script, -1) {
		v := m[1] + m[2] + m[3]
		if v == "" || strings.ContainsAny(v, "$`") {
			continue
		}
		return v
	}
	return ""
}

// verifyActivation confirms VIRTUAL_ENV is set.
func (p *Provisioner) verifyActivation(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	v := env.Get("VIRTUAL_ENV")
	if v == "" {
		return env, engine.Failed(engine.NewFatalError(engine.ErrCodeActivationNotConfirmed,
			"virtual environment is not active", nil))
	}
	return env, engine.Succeeded(fmt.Sprintf("Virtual environment active: %s", v))
}

// installDependencies upgrades pip and installs the requirements manifest.
// Whether a failure ends the run follows the stage policy set in Stages.
func (p *Provisioner) installDependencies(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	const fatal = true
	manifest := env.Resolve(p.cfg.Python.Requirements)

	if _, err := p.fs.Stat(manifest); err != nil {
		return env, engine.Failed(commandFailure(fatal, engine.ErrCodeDependencyInstallFailed,
			fmt.Sprintf("dependency manifest %s not found", manifest), nil, err))
	}

	if p.cfg.Python.UpgradePip {
		res, err := p.exec(ctx, env, "", "pip", "install", "--upgrade", "pip")
		if err != nil || !res.Success() {
			return env, engine.Failed(commandFailure(fatal, engine.ErrCodeDependencyInstallFailed,
				"failed to upgrade pip", res, err))
		}
	}

	res, err := p.exec(ctx, env, "", "pip", "install", "-r", manifest)
	if err != nil || !res.Success() {
		return env, engine.Failed(commandFailure(fatal, engine.ErrCodeDependencyInstallFailed,
			fmt.Sprintf("failed to install dependencies from %s", manifest), res, err))
	}
	return env, engine.Succeeded(fmt.Sprintf("Installed dependencies from %s", manifest))
}
