// Package engine provides the core types and the driver for siteprov's staged
// provisioning runs.
//
// # Overview
//
// A provisioning run is an ordered list of named stages. Each stage receives an
// explicit environment context (Env) and returns a new Env together with an
// Outcome:
//
//  1. Success - the stage did its work; the returned Env is carried forward
//  2. Skipped - nothing to do (e.g. an optional directory is absent)
//  3. Failed  - the stage failed with a classified *StageError
//
// Stages never touch process-global state such as the working directory or
// PATH. Commands are executed through a CommandRunner and the filesystem is
// reached through a FileSystem, both injected by the caller. This keeps the
// whole run deterministic under test.
//
// # Driver
//
// The Driver executes stages strictly in order. The first failure whose class
// is fatal stops the run; recoverable failures are recorded and the run
// continues. Nothing is retried and nothing is rolled back.
//
//	driver := engine.NewDriver(engine.DriverConfig{Logger: logger})
//	run, err := driver.Execute(ctx, stages, engine.NewEnv(workdir, os.Environ()))
//	if err != nil {
//	    return err
//	}
//	os.Exit(run.ExitCode)
//
// # Errors
//
// StageError carries a class (fatal or recoverable) and a code from a fixed
// taxonomy (ENV_CREATE_FAILED, ACTIVATION_SCRIPT_MISSING, ...). Use IsFatal
// and CodeOf to inspect errors anywhere in a wrapped chain.
package engine
