package cli

import (
	"github.com/spf13/cobra"
)

// PublishCmd returns the publish command. Publishing an older run is how a
// rollback is done.
func PublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <run-id>",
		Short: "Make a recorded run current for its kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := open(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			run, err := sess.svc.Publish(ctx, args[0])
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s %s run %s\n",
				okColor.Sprint("published"), run.Kind, idColor.Sprint(run.ID))
			return nil
		},
	}
}
