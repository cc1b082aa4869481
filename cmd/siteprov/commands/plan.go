package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/siteprov/siteprov/pkg/provision"
)

// planStage is the JSON form of one planned stage.
type planStage struct {
	Seq         int    `json:"seq"`
	Name        string `json:"name"`
	Policy      string `json:"policy"`
	Description string `json:"description"`
}

func newPlanCommand() *cobra.Command {
	var lenientDeps bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the provisioning stages",
		Long: `Show the provisioning stages in execution order with their failure
policy. Fatal stages end the run when they fail; best-effort stages log the
failure and the run continues.`,
		Example: `  # Show the stages
  siteprov plan

  # Show the stages with a non-fatal dependency installation
  siteprov plan --lenient-deps --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("lenient-deps") {
				cfg.Python.LenientDependencies = lenientDeps
			}

			stages := provision.Plan(cfg)
			planned := make([]planStage, len(stages))
			for i, s := range stages {
				planned[i] = planStage{
					Seq:         i + 1,
					Name:        s.Name(),
					Policy:      string(s.Policy()),
					Description: s.Description(),
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, planned)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tSTAGE\tPOLICY\tDESCRIPTION")
			for _, s := range planned {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Seq, s.Name, s.Policy, s.Description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&lenientDeps, "lenient-deps", false, "treat a dependency installation failure as non-fatal")

	return cmd
}
