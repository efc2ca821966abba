package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cohort-run/cohort/internal/slurm"
)

func newRenderCmd(ctx *context) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the sbatch script for the job group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			script, err := slurm.Render(manifest, launchCommand(*ctx.jobFile))
			if err != nil {
				return err
			}
			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), script)
				return nil
			}
			if err := os.WriteFile(output, []byte(script), 0o755); err != nil {
				return fmt.Errorf("write script: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the rendered script to this file instead of stdout")
	return cmd
}

// launchCommand is the program srun executes inside the allocation: the
// launcher itself, pointed back at the same manifest.
func launchCommand(jobFile string) []string {
	path, err := filepath.Abs(jobFile)
	if err != nil {
		path = jobFile
	}
	return []string{"cohort", "up", "-f", path}
}
