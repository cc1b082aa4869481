package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/siteprov/siteprov/pkg/config"
	"github.com/siteprov/siteprov/pkg/engine"
	"github.com/siteprov/siteprov/pkg/policy"
	"github.com/siteprov/siteprov/pkg/provision"
	"github.com/siteprov/siteprov/pkg/runner"
	"github.com/siteprov/siteprov/pkg/stores"
	"github.com/siteprov/siteprov/pkg/telemetry"
	"github.com/siteprov/siteprov/pkg/transports/ssh"
)

type provisionOptions struct {
	workdir     string
	target      string
	host        string
	user        string
	keyFile     string
	lenientDeps bool
	history     string
	skipPolicy  bool
	dryRun      bool
}

func newProvisionCommand() *cobra.Command {
	var opts provisionOptions

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision the application host",
		Long: `Run the ten provisioning stages: reset and create the Python virtual
environment, install the backend dependencies, ensure the pinned Node.js
runtime, restore the front-end packages and finish in the deployment target.

Best-effort stages log their failures and the run continues. A failing fatal
stage ends the run: its diagnostic is printed on standard output and the
command exits with status 1.`,
		Example: `  # Provision the current directory
  siteprov provision

  # Provision a remote host over SSH
  siteprov provision --host app.example.com --user site --workdir /srv/app

  # Show the commands without running them
  siteprov provision --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			return runProvision(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.workdir, "workdir", "", "application root (overrides workdir)")
	cmd.Flags().StringVar(&opts.target, "target", "", "deployment directory (overrides target.dir)")
	cmd.Flags().StringVar(&opts.host, "host", "", "provision this host over SSH (overrides remote.host)")
	cmd.Flags().StringVar(&opts.user, "user", "", "SSH user (overrides remote.user)")
	cmd.Flags().StringVar(&opts.keyFile, "key", "", "SSH private key (overrides remote.key_file)")
	cmd.Flags().BoolVar(&opts.lenientDeps, "lenient-deps", false, "treat a dependency installation failure as non-fatal")
	cmd.Flags().StringVar(&opts.history, "history", "", "record the run in this SQLite database (overrides history.path)")
	cmd.Flags().BoolVar(&opts.skipPolicy, "skip-policy", false, "skip pre-flight policy checks")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print commands instead of running them")

	return cmd
}

// apply overlays the flags the user set on cfg.
func (o provisionOptions) apply(cmd *cobra.Command, cfg *config.ProvisionConfig) {
	flags := cmd.Flags()
	if flags.Changed("workdir") {
		cfg.Workdir = o.workdir
	}
	if flags.Changed("target") {
		cfg.Target.Dir = o.target
	}
	if flags.Changed("host") {
		cfg.Remote.Host = o.host
	}
	if flags.Changed("user") {
		cfg.Remote.User = o.user
	}
	if flags.Changed("key") {
		cfg.Remote.KeyFile = o.keyFile
	}
	if flags.Changed("lenient-deps") {
		cfg.Python.LenientDependencies = o.lenientDeps
	}
	if flags.Changed("history") {
		cfg.History.Path = o.history
	}
	if flags.Changed("skip-policy") {
		cfg.Policy.Skip = o.skipPolicy
	}
}

func runProvision(ctx context.Context, cfg *config.ProvisionConfig, opts provisionOptions, out io.Writer) error {
	logger := log.Logger
	remote := cfg.Remote.Host != "" && !opts.dryRun

	if !remote {
		abs, err := filepath.Abs(cfg.Workdir)
		if err != nil {
			return fmt.Errorf("failed to resolve workdir: %w", err)
		}
		cfg.Workdir = abs
	}

	if !cfg.Policy.Skip {
		if err := preflight(ctx, cfg, out, logger); err != nil {
			return err
		}
	}

	tcfg := cfg.Telemetry
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(&tcfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()
	ctx = tel.WithContext(ctx)
	driverCfg := tel.DriverConfig()
	if err := tel.Metrics.StartMetricsServer(ctx); err != nil {
		return err
	}

	if cfg.History.Path != "" && !opts.dryRun {
		store, err := openHistory(ctx, cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		driverCfg.Recorder = stores.NewRecorder(store, stores.RunLabels{
			Target: cfg.Target.Dir,
			Host:   cfg.Remote.Host,
		})
		tel.Events.Subscribe(stores.EventSink(ctx, store, logger), nil)
	}

	var (
		cmdRunner engine.CommandRunner
		fsys      engine.FileSystem
		env       engine.Env
	)
	switch {
	case opts.dryRun:
		env = engine.NewEnv(cfg.Workdir, os.Environ())
		cmdRunner = runner.NewDryRunRunner(out)
		fsys = runner.NewDryRunFileSystem(out, provision.PlannedFiles(cfg, env)...)
	case remote:
		client, err := ssh.Dial(ctx, ssh.FromRemoteConfig(cfg.Remote), logger)
		if err != nil {
			return err
		}
		defer client.Close()

		remoteFS, err := ssh.NewFileSystem(client)
		if err != nil {
			return err
		}
		defer remoteFS.Close()

		environ, err := client.Environ(ctx)
		if err != nil {
			return err
		}
		cmdRunner = ssh.NewRunner(client, logger, verboseOutput())
		fsys = remoteFS
		env = engine.NewEnv(cfg.Workdir, environ)
	default:
		cmdRunner = runner.NewLocalRunner(logger, verboseOutput())
		fsys = runner.OSFileSystem{}
		env = engine.NewEnv(cfg.Workdir, os.Environ())
	}

	logger.Info().
		Str("workdir", cfg.Workdir).
		Str("target", cfg.Target.Dir).
		Str("host", cfg.Remote.Host).
		Bool("dry_run", opts.dryRun).
		Msg("Starting provisioning run")

	op := telemetry.StartOperation(ctx, "provision",
		telemetry.AttrTargetHost.String(cfg.Remote.Host),
		telemetry.AttrWorkdir.String(cfg.Workdir),
	)
	runLogger := tel.Logger.NewComponentLogger("provision").WithHost(cfg.Remote.Host)
	driver := engine.NewDriver(driverCfg)
	run, err := provision.New(cfg, cmdRunner, fsys, runLogger.Zerolog()).Run(op.Ctx, driver, env)
	if err != nil {
		op.End(err)
		return err
	}
	runLogger.WithRunID(run.ID).Info("Provisioning run finished")
	op.Span.SetAttributes(
		telemetry.AttrRunID.String(run.ID),
		telemetry.AttrRunStatus.String(string(run.Status)),
	)
	if run.Err != nil {
		op.Span.SetAttributes(telemetry.AttrErrorCode.String(run.Err.Code))
		op.End(run.Err)
	} else {
		op.End(nil)
	}

	if jsonOutput {
		if err := printJSON(out, run); err != nil {
			return err
		}
	} else if verbose {
		printRunSummary(out, run)
	}

	if run.ExitCode != 0 {
		fmt.Fprintln(out, run.Diagnostic)
		return &ExitError{Code: run.ExitCode}
	}
	return nil
}

// preflight evaluates the policies and fails the run on blocking violations.
func preflight(ctx context.Context, cfg *config.ProvisionConfig, out io.Writer, logger zerolog.Logger) error {
	bc, _, err := loadBuildConfig(ctx, cfg, "", logger)
	if err != nil {
		return err
	}
	eng, err := newPolicyEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	res, err := eng.Evaluate(ctx, policy.NewInput(cfg, bc))
	if err != nil {
		return err
	}
	for _, v := range res.Violations {
		if !v.Severity.Blocks() {
			logger.Warn().Str("policy", v.Policy).Str("field", v.Field).Msg(v.Message)
		}
	}
	if err := res.Err(); err != nil {
		fmt.Fprintln(out, err)
		return &ExitError{Code: 1}
	}
	return nil
}

func openHistory(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create history store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return store, nil
}

// verboseOutput streams command output to stderr with --verbose.
func verboseOutput() io.Writer {
	if verbose {
		return os.Stderr
	}
	return nil
}

func printRunSummary(w io.Writer, run *engine.Run) {
	fmt.Fprintf(w, "Run %s: %s\n", run.ID, run.Status)
	for _, res := range run.Stages {
		fmt.Fprintf(w, "  %2d. %-22s %-12s %-10s %s\n",
			res.Seq, res.Stage, res.Policy, res.Outcome.Status, res.Outcome.Message)
	}
}
