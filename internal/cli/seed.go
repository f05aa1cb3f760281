package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/stopodds/internal/sampledata"
	"github.com/okian/stopodds/pkg/logger"
)

// SeedCmd returns the seed command.
func SeedCmd() *cobra.Command {
	var (
		count   int
		seed    int64
		workers int
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Submit synthetic submissions with known trait effects",
		Long: `Generate synthetic submissions and push them through intake validation.
Without --url rows go straight into the configured store. With --url they are
posted to a running server's /api/submit endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rows := sampledata.NewGenerator(seed).Batch(count)
			progress := sampledata.WithProgress(func(st sampledata.Stats) {
				printf(out, "submitted %d/%d\n", st.Submitted, count)
			})

			var sink sampledata.Sink
			if url != "" {
				sink = sampledata.NewHTTPSink(url, timeout)
			} else {
				sess, err := open(ctx)
				if err != nil {
					return err
				}
				defer sess.Close()
				sink = sess.svc
			}

			st, err := sampledata.NewSeeder(sink, sampledata.WithWorkers(workers), sampledata.WithLogger(logger.Named("seed")), progress).Run(ctx, rows)
			printf(out, "%s accepted=%d rejected=%d failed=%d took=%s\n",
				okColor.Sprint("seeded"), st.Accepted, st.Rejected, st.Failed, st.Duration.Round(time.Millisecond))
			return err
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1000, "number of submissions")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent submitters")
	cmd.Flags().StringVar(&url, "url", "", "base URL of a running server")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request HTTP timeout")
	return cmd
}
