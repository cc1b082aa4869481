package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/siteprov/siteprov/pkg/buildconfig"
	"github.com/siteprov/siteprov/pkg/config"
	"github.com/siteprov/siteprov/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate [buildconfig]",
		Short: "Validate the provisioning and build configuration",
		Long: `Validate the provisioning config and the build config, then evaluate the
pre-flight policies against them.

This command checks:
  - Provisioning config syntax, schema and field rules
  - Build config syntax and JSON schema (YAML, JSON, CUE or Starlark)
  - Proxy prefixes that overlap another prefix
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate siteprov.yaml and its build config
  siteprov validate

  # Validate a specific build config
  siteprov validate frontend/buildconfig.star

  # Re-evaluate whenever a policy file changes
  siteprov validate --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger
			out := cmd.OutOrStdout()

			var bcPath string
			if len(args) > 0 {
				bcPath = args[0]
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				fmt.Fprintf(out, "provisioning config: %v\n", err)
				return &ExitError{Code: 1}
			}

			bc, source, err := loadBuildConfig(ctx, cfg, bcPath, logger)
			if err != nil {
				fmt.Fprintf(out, "build config: %v\n", err)
				return &ExitError{Code: 1}
			}
			if source == "" {
				source = "defaults"
			}
			for _, s := range bc.Shadowed() {
				fmt.Fprintf(out, "[warning] proxy: %s\n", s)
			}

			eng, err := newPolicyEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}

			ok, err := evaluate(ctx, eng, cfg, bc, out)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "configuration is valid (build config: %s, %d policies)\n", source, len(eng.ListPolicies()))
			}

			if watch {
				return watchPolicies(ctx, eng, cfg, bc, out, logger)
			}
			if !ok {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-evaluate when files under policy.dir change")

	return cmd
}

// evaluate prints the policy result and reports whether the run would be
// allowed.
func evaluate(ctx context.Context, eng *policy.Engine, cfg *config.ProvisionConfig, bc *buildconfig.Config, out io.Writer) (bool, error) {
	res, err := eng.Evaluate(ctx, policy.NewInput(cfg, bc))
	if err != nil {
		return false, err
	}
	printPolicyResult(out, res)
	return res.Allowed, nil
}

func watchPolicies(ctx context.Context, eng *policy.Engine, cfg *config.ProvisionConfig, bc *buildconfig.Config, out io.Writer, logger zerolog.Logger) error {
	dir := policyDir(cfg)
	if dir == "" {
		return fmt.Errorf("--watch requires policy.dir in the provisioning config")
	}

	loader := policy.NewLoader(logger)
	err := loader.Watch(ctx, []string{dir}, func(ctx context.Context, policies []policy.Policy) error {
		if err := eng.Replace(ctx, policies); err != nil {
			fmt.Fprintf(out, "policy reload failed: %v\n", err)
			return err
		}
		fmt.Fprintf(out, "policies reloaded from %s\n", dir)
		_, err := evaluate(ctx, eng, cfg, bc, out)
		return err
	})
	if err != nil {
		return err
	}
	defer loader.StopWatching()

	logger.Info().Str("dir", dir).Msg("Watching policies, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
