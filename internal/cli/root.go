// Package cli implements the stopodds-admin operator commands. Every command
// opens the configured store, runs one operation and exits; none of them
// start the HTTP server or the background scheduler.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	service "github.com/okian/stopodds/internal/app"
	"github.com/okian/stopodds/internal/config"
	"github.com/okian/stopodds/pkg/logger"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	idColor   = color.New(color.FgCyan)
)

// NewRootCmd returns the admin root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "stopodds-admin",
		Short:         "Operate a StopOdds deployment",
		Long:          "Train, publish, roll back and prune the StopOdds store, or seed it with synthetic submissions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv(config.EnvConfig, configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides "+config.EnvConfig+")")

	root.AddCommand(TrainCmd())
	root.AddCommand(PublishCmd())
	root.AddCommand(RunsCmd())
	root.AddCommand(PruneCmd())
	root.AddCommand(SeedCmd())
	return root
}

// session is one opened service plus the resources it borrowed.
type session struct {
	svc     *service.Service
	cfg     *config.Config
	closers []func()
}

func (s *session) Close() {
	s.svc.Stop()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// open loads configuration and starts a foreground-only service. extra
// options are applied after the configured ones.
func open(ctx context.Context, extra ...service.Option) (*session, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}

	store, err := service.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sess := &session{cfg: cfg, closers: []func(){func() { _ = store.Close() }}}

	locker, closeLocker, err := service.OpenLocker(ctx, cfg)
	if err != nil {
		sess.closers[0]()
		return nil, err
	}
	sess.closers = append(sess.closers, closeLocker)

	opts := append(service.FromConfig(cfg),
		service.WithLogger(logger.Named("admin")),
		service.WithStore(store),
		service.WithLocker(locker),
		service.WithBackground(false),
	)
	sess.svc = service.New(append(opts, extra...)...)
	if err := sess.svc.Start(ctx); err != nil {
		for i := len(sess.closers) - 1; i >= 0; i-- {
			sess.closers[i]()
		}
		return nil, fmt.Errorf("start service: %w", err)
	}
	return sess, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
