package cli

import (
	"errors"

	"github.com/spf13/cobra"

	service "github.com/okian/stopodds/internal/app"
)

// TrainCmd returns the train command.
func TrainCmd() *cobra.Command {
	var (
		publish bool
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a new model run from the current corpus",
		Long: `Snapshot the stored submissions, fit the rate model and record the run.
With --publish=false the run is recorded but the current run is left in place;
publish it later with "stopodds-admin publish <id>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var extra []service.Option
			if cmd.Flags().Changed("publish") {
				extra = append(extra, service.WithAutoPublish(publish))
			}
			sess, err := open(ctx, extra...)
			if err != nil {
				return err
			}
			defer sess.Close()

			out := cmd.OutOrStdout()
			res, err := sess.svc.Train(ctx, reason)
			if errors.Is(err, service.ErrInsufficientSample) {
				t := sess.svc.Totals()
				printf(out, "%s %d submissions, %d stops; need %d and %d\n",
					warnColor.Sprint("not enough data:"), t.Submissions, t.Stops,
					sess.cfg.ActivationMinSubmissions, sess.cfg.ActivationMinStops)
				return err
			}
			if err != nil {
				return err
			}

			printf(out, "run %s  %s  rows=%d  dispersion=%.3f\n",
				idColor.Sprint(res.Run.ID), res.Run.Type, res.Run.TrainRows, res.Run.DispersionRatio)
			printf(out, "cells published=%d suppressed=%d  excluded rows=%d  took=%s\n",
				res.Cells, res.Suppressed, res.Excluded, res.Took)
			if res.Engagement != nil {
				printf(out, "engagement run %s\n", idColor.Sprint(res.Engagement.ID))
			}
			if res.Published {
				printf(out, "%s\n", okColor.Sprint("published"))
			} else {
				printf(out, "%s\n", warnColor.Sprint("recorded, not published"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", true, "publish the run when training succeeds (defaults to auto_publish)")
	cmd.Flags().StringVar(&reason, "reason", "admin", "note stored with the run")
	return cmd
}
