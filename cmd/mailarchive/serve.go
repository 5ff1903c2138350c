package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailarchive/internal/sync"
	"github.com/nhle/mailarchive/internal/webhook"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		noSync bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook listener and the scheduled sync loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, opts, func(ctx context.Context, rt *deps) error {
				if addr == "" {
					addr = rt.cfg.Webhook.Addr
				}
				srv := webhook.New(rt.parser,
					webhook.WithLogger(rt.logger),
					webhook.WithRateLimit(rt.cfg.Webhook.RatePerMinute),
				)

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				syncDone := make(chan error, 1)
				if noSync {
					syncDone <- nil
				} else {
					runner := sync.NewRunner(rt.engine())
					tick := time.Duration(rt.cfg.Sync.TickSec) * time.Second
					go func() { syncDone <- runner.Run(ctx, tick) }()
				}

				err := srv.Run(ctx, addr)
				cancel()
				if syncErr := <-syncDone; err == nil {
					err = syncErr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to webhook.addr)")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "only serve the webhook")
	return cmd
}
