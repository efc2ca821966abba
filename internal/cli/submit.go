package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cohort-run/cohort/internal/slurm"
)

func newSubmitCmd(ctx *context) *cobra.Command {
	var scriptDir string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Render the sbatch script and submit it to the scheduler",
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

			dir := scriptDir
			if dir == "" {
				dir, err = os.MkdirTemp("", "cohort-")
				if err != nil {
					return fmt.Errorf("create script directory: %w", err)
				}
			}
			name := manifest.Job.Name
			if manifest.Slurm != nil && manifest.Slurm.JobName != "" {
				name = manifest.Slurm.JobName
			}
			path := filepath.Join(dir, name+".sbatch")
			if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
				return fmt.Errorf("write script: %w", err)
			}

			jobID, err := ctx.slurmClient().Submit(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted batch job %s (script %s)\n", jobID, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&scriptDir, "script-dir", "", "Directory to write the rendered script into")
	return cmd
}

func newCancelCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a previously submitted batch job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.slurmClient().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", args[0])
			return nil
		},
	}
	return cmd
}
