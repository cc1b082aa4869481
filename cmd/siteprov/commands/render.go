package commands

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRenderCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render [buildconfig]",
		Short: "Generate vite.config.js from the build config",
		Long: `Generate the front-end tool configuration (vite.config.js) from the build
config. Proxy rules are written longest prefix first so the dev server's
first match is the longest match.`,
		Example: `  # Print the generated config
  siteprov render

  # Write it next to the front-end sources
  siteprov render frontend/buildconfig.yaml -o frontend/vite.config.js`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			bc, source, err := loadBuildConfig(ctx, cfg, path, log.Logger)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := bc.Render(&buf, source); err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			log.Info().Str("path", output).Msg("Wrote dev server config")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}
