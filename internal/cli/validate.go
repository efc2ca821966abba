package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a job group manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.loadManifest(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", *ctx.jobFile)
			return nil
		},
	}
	return cmd
}
