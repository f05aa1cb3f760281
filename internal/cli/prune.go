package cli

import (
	"github.com/spf13/cobra"
)

// PruneCmd returns the prune command.
func PruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete submissions older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sess, err := open(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			n, err := sess.svc.Prune(ctx)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s %d submissions older than %d months\n",
				okColor.Sprint("pruned"), n, sess.cfg.RetentionMonths)
			return nil
		},
	}
}
