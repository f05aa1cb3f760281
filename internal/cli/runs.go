package cli

import (
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/stopodds/internal/domain/model"
)

// RunsCmd returns the runs command.
func RunsCmd() *cobra.Command {
	var (
		kind  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded model runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var k model.RunKind
			if kind != "" {
				parsed, err := model.ParseRunKind(kind)
				if err != nil {
					return err
				}
				k = parsed
			}
			ctx := cmd.Context()
			sess, err := open(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			runs, err := sess.svc.Runs(ctx, k, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				printf(cmd.OutOrStdout(), "no runs recorded\n")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "ID\tKIND\tTYPE\tROWS\tCREATED\tCURRENT\n")
			for _, run := range runs {
				current := ""
				if run.Published {
					current = okColor.Sprint("*")
				}
				printf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					run.ID, run.Kind, run.Type, run.TrainRows, run.CreatedAt.Format(time.RFC3339), current)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "primary or engagement; empty lists both")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
