package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// routeResult is the JSON form of a route lookup.
type routeResult struct {
	Path   string `json:"path"`
	Prefix string `json:"prefix,omitempty"`
	Target string `json:"target"`
	WS     bool   `json:"ws,omitempty"`
}

func newRouteCommand() *cobra.Command {
	var buildConfig string

	cmd := &cobra.Command{
		Use:   "route <path>...",
		Short: "Show where request paths are forwarded",
		Long: `Show where the dev server forwards each request path. A path that begins
with a proxy prefix goes to that rule's target; the longest matching prefix
wins. Any other path is served by the dev server itself.`,
		Example: `  # Where does the chat endpoint go?
  siteprov route /chat/stream

  # Check several paths against a specific build config
  siteprov route --build-config frontend/buildconfig.cue /ask /ws /index.html`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			bc, _, err := loadBuildConfig(ctx, cfg, buildConfig, log.Logger)
			if err != nil {
				return err
			}

			results := make([]routeResult, 0, len(args))
			for _, path := range args {
				res := routeResult{Path: path, Target: "devserver"}
				if rule, ok := bc.Match(path); ok {
					res.Prefix = rule.Prefix
					res.Target = rule.Target
					res.WS = rule.WS
				}
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, results)
			}
			for _, res := range results {
				if res.Prefix == "" {
					fmt.Fprintf(out, "%s -> dev server\n", res.Path)
					continue
				}
				fmt.Fprintf(out, "%s -> %s (prefix %s)\n", res.Path, res.Target, res.Prefix)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&buildConfig, "build-config", "b", "", "build config file (default from siteprov.yaml)")

	return cmd
}
