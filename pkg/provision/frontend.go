package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/siteprov/siteprov/pkg/engine"
)

// restoreFrontend restores the front-end packages when the sub-project
// exists. The returned Env keeps the current working directory.
func (p *Provisioner) restoreFrontend(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	dir := env.Resolve(p.cfg.Frontend.Dir)

	info, err := p.fs.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return env, engine.Skipped(fmt.Sprintf("Front-end directory %s not found, skipping package restore", dir))
	case err != nil:
		return env, engine.Failed(engine.NewFatalError(engine.ErrCodePackageRestoreFailed,
			fmt.Sprintf("cannot access %s", dir), err))
	case !info.IsDir():
		return env, engine.Skipped(fmt.Sprintf("%s is not a directory, skipping package restore", dir))
	}

	manager := p.cfg.Frontend.PackageManager
	args := p.cfg.Frontend.Args
	if len(args) == 0 {
		args = []string{"install"}
	}

	res, err := p.exec(ctx, env, dir, manager, args...)
	if err != nil || !res.Success() {
		return env, engine.Failed(commandFailure(true, engine.ErrCodePackageRestoreFailed,
			fmt.Sprintf("%s %s failed in %s", manager, strings.Join(args, " "), dir), res, err))
	}
	return env, engine.Succeeded(fmt.Sprintf("Restored packages in %s", dir))
}

// finalizeWorkdir moves the run into the deployment directory.
func (p *Provisioner) finalizeWorkdir(ctx context.Context, env engine.Env) (engine.Env, engine.Outcome) {
	target := env.Resolve(p.cfg.Target.Dir)

	info, err := p.fs.Stat(target)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", target)
		}
		return env, engine.Failed(engine.NewFatalError(engine.ErrCodeTargetDirMissing,
			fmt.Sprintf("deployment directory %s does not exist", target), err))
	}
	return env.InDir(target), engine.Succeeded(fmt.Sprintf("Working directory is now %s", target))
}
