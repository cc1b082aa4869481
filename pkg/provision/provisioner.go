package provision

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/config"
	"github.com/siteprov/siteprov/pkg/engine"
	"github.com/siteprov/siteprov/pkg/runner"
)

// Stage names, in execution order.
const (
	StageReset               = "reset"
	StageBootstrapPip        = "bootstrap-pip"
	StageCreateVenv          = "create-venv"
	StageActivate            = "activate"
	StageVerifyActivation    = "verify-activation"
	StageInstallDependencies = "install-dependencies"
	StageEnsureNode          = "ensure-node"
	StageFinalizePath        = "finalize-path"
	StageRestoreFrontend     = "restore-frontend"
	StageFinalizeWorkdir     = "finalize-workdir"
)

// exitNotFound is the shell status for an unknown command.
const exitNotFound = 127

// Provisioner builds the provisioning stages for one configuration.
type Provisioner struct {
	cfg    *config.ProvisionConfig
	runner engine.CommandRunner
	fs     engine.FileSystem
	logger zerolog.Logger
}

// New creates a provisioner.
func New(cfg *config.ProvisionConfig, r engine.CommandRunner, fsys engine.FileSystem, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		cfg:    cfg,
		runner: r,
		fs:     fsys,
		logger: logger.With().Str("component", "provision").Logger(),
	}
}

// Plan returns the ordered stages for cfg without a runner, for inspection.
// Running them requires a Provisioner created with New.
func Plan(cfg *config.ProvisionConfig) []engine.Stage {
	return New(cfg, nil, nil, zerolog.Nop()).Stages()
}

// Stages returns the ten stages in execution order.
func (p *Provisioner) Stages() []engine.Stage {
	depsPolicy := engine.PolicyFatal
	if p.cfg.Python.LenientDependencies {
		depsPolicy = engine.PolicyBestEffort
	}

	return []engine.Stage{
		engine.NewStage(StageReset, "Remove any previous virtual environment", engine.PolicyBestEffort, p.reset),
		engine.NewStage(StageBootstrapPip, "Ensure pip is available to the interpreter", engine.PolicyBestEffort, p.bootstrapPip),
		engine.NewStage(StageCreateVenv, "Create the virtual environment", engine.PolicyFatal, p.createVenv),
		engine.NewStage(StageActivate, "Activate the virtual environment", engine.PolicyFatal, p.activate),
		engine.NewStage(StageVerifyActivation, "Confirm the virtual environment is active", engine.PolicyFatal, p.verifyActivation),
		engine.NewStage(StageInstallDependencies, "Install Python dependencies", depsPolicy, p.installDependencies),
		engine.NewStage(StageEnsureNode, "Ensure Node.js is installed", engine.PolicyBestEffort, p.ensureNode),
		engine.NewStage(StageFinalizePath, "Put the pinned Node.js on the search path", engine.PolicyBestEffort, p.finalizePath),
		engine.NewStage(StageRestoreFrontend, "Restore front-end packages", engine.PolicyFatal, p.restoreFrontend),
		engine.NewStage(StageFinalizeWorkdir, "Change into the deployment directory", engine.PolicyFatal, p.finalizeWorkdir),
	}
}

// Run executes every stage through driver starting from env.
func (p *Provisioner) Run(ctx context.Context, driver *engine.Driver, env engine.Env) (*engine.Run, error) {
	if p.runner == nil || p.fs == nil {
		return nil, engine.NewFatalError(engine.ErrCodeInternal, "provisioner has no command runner or filesystem", nil)
	}
	return driver.Execute(ctx, p.Stages(), env)
}

// PlannedFiles returns the files the stage commands create that later stages
// look for, resolved against env. A dry run reports them as present.
func PlannedFiles(cfg *config.ProvisionConfig, env engine.Env) []string {
	return []string{filepath.Join(env.Resolve(cfg.Python.VenvDir), activationScripts[0])}
}

// exec runs name with args in env. dir overrides the working directory when set.
func (p *Provisioner) exec(ctx context.Context, env engine.Env, dir, name string, args ...string) (*engine.CommandResult, error) {
	cmd := engine.Command{
		Name: name,
		Args: args,
		Dir:  dir,
		Env:  env,
	}
	p.logger.Debug().Str("command", runner.FormatCommand(cmd)).Str("dir", nonEmpty(dir, env.Workdir)).Msg("Running command")

	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	p.logger.Debug().
		Str("command", name).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Msg("Command finished")
	return res, nil
}

// shell runs script with bash -c.
func (p *Provisioner) shell(ctx context.Context, env engine.Env, script string) (*engine.CommandResult, error) {
	return p.exec(ctx, env, "", "bash", "-c", script)
}

// commandFailure converts a failed command into a StageError. res may be nil
// when the command could not be started.
func commandFailure(fatal bool, code, message string, res *engine.CommandResult, err error) *engine.StageError {
	if err == nil && res != nil {
		err = fmt.Errorf("exit status %d", res.ExitCode)
	}
	var serr *engine.StageError
	if fatal {
		serr = engine.NewFatalError(code, message, err)
	} else {
		serr = engine.NewRecoverableError(code, message, err)
	}
	if res != nil {
		serr = serr.WithDetail("exit_code", res.ExitCode)
		if tail := lastLine(res.Stderr); tail != "" {
			serr = serr.WithDetail("stderr", tail)
		}
	}
	return serr
}

// missing reports whether a command failed because the program does not exist.
func missing(res *engine.CommandResult, err error) bool {
	if err != nil {
		return errors.Is(err, runner.ErrNotFound)
	}
	return res != nil && res.ExitCode == exitNotFound
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
