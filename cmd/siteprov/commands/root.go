package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// ExitError carries a process exit status. The message, if any, has already
// been printed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "siteprov",
		Short: "siteprov - web application host provisioning",
		Long: `siteprov prepares a deployment host for a web application with a Python
backend and a JavaScript front end.

Features:
  - Ten-stage provisioning run with fatal and best-effort stages
  - Typed configs via YAML or CUE, programmable build configs via Starlark
  - Pre-flight policy checks (OPA/rego)
  - Remote provisioning over SSH/SFTP
  - Run history in SQLite
  - Development reverse proxy for the front-end dev server`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "provisioning config file (default ./siteprov.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newRouteCommand())
	rootCmd.AddCommand(newDevProxyCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
