package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/sync"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	var (
		interval string
		loop     bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync accounts whose sync interval has elapsed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			iv := model.SyncInterval(interval)
			if iv != "" && !iv.Valid() {
				return fmt.Errorf("unknown sync interval %q", interval)
			}
			return withDeps(cmd, root, func(ctx context.Context, rt *deps) error {
				runner := sync.NewRunner(rt.engine())
				if loop {
					return runner.Run(ctx, time.Duration(rt.cfg.Sync.TickSec)*time.Second)
				}
				return runSyncOnce(ctx, rt, runner, iv)
			})
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "", "only sync accounts with this interval, regardless of when they last ran")
	cmd.Flags().BoolVar(&loop, "loop", false, "keep running and sync on every tick")
	return cmd
}

func runSyncOnce(ctx context.Context, rt *deps, runner *sync.Runner, interval model.SyncInterval) error {
	out := rt.out
	summary, err := runner.RunDue(ctx, time.Now(), interval)
	if err != nil {
		return err
	}
	if len(summary.Results) == 0 {
		fmt.Fprintln(out, "No accounts need syncing at this time.")
		return nil
	}

	fmt.Fprintf(out, "Found %d account(s) to sync\n", len(summary.Results))
	for _, res := range summary.Results {
		fmt.Fprintf(out, "Processing: %s\n", res.Account.Name)
		switch {
		case res.Err != nil:
			fmt.Fprintf(out, "  ✗ Failed: %v\n", res.Err)
		case len(res.Report.Archived) == 0:
			fmt.Fprintln(out, "  ⊝ No new emails")
		default:
			fmt.Fprintf(out, "  ✓ Synced %d email(s)\n", len(res.Report.Archived))
		}
	}
	fmt.Fprintf(out, "Sync complete: %d successful, %d failed\n", summary.Succeeded, summary.Failed)
	return nil
}
