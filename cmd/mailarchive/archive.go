package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/store"
	"github.com/nhle/mailarchive/internal/sync"
)

// defaultAllLimit caps --all runs that do not set --limit.
const defaultAllLimit = 100

type archiveOptions struct {
	account string
	limit   int
	all     bool
	test    bool
}

func newArchiveCmd(root *rootOptions) *cobra.Command {
	opts := &archiveOptions{}
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Fetch and archive email from IMAP mailboxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, root, func(ctx context.Context, rt *deps) error {
				return runArchive(ctx, rt, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.account, "account", "", "account id or name (default: every active account)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of messages per account")
	cmd.Flags().BoolVar(&opts.all, "all", false, "fetch every message, not only unseen ones")
	cmd.Flags().BoolVar(&opts.test, "test", false, "test the connection and show folder information")
	return cmd
}

func runArchive(ctx context.Context, rt *deps, opts *archiveOptions) error {
	out := rt.out
	engine := rt.engine()

	if opts.account != "" {
		a, err := findAccount(ctx, rt.store, opts.account)
		if err != nil {
			return err
		}
		_, err = archiveAccount(ctx, out, engine, *a, opts)
		return err
	}

	accounts, err := rt.store.ListAccounts(ctx, true)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No active IMAP accounts found.")
		return nil
	}

	fmt.Fprintf(out, "Processing %d active account(s)...\n", len(accounts))
	total := 0
	for _, a := range accounts {
		n, err := archiveAccount(ctx, out, engine, a, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Skipping account '%s' due to errors.\n", a.Name)
			continue
		}
		total += n
	}
	fmt.Fprintf(out, "Total emails archived: %d\n", total)
	return nil
}

func archiveAccount(ctx context.Context, out io.Writer, engine *sync.Engine, a model.MailboxAccount, opts *archiveOptions) (int, error) {
	fmt.Fprintf(out, "Processing account: %s\n", a.Name)

	session, err := engine.Connect(ctx, a)
	if err != nil {
		fmt.Fprintf(out, "  Failed: %v\n", err)
		return 0, err
	}
	defer session.Close()

	if opts.test {
		probe, err := session.Probe(ctx)
		if err != nil {
			fmt.Fprintf(out, "  Failed: %v\n", err)
			return 0, err
		}
		fmt.Fprintln(out, "  ✓ Connection successful")
		fmt.Fprintf(out, "  Available folders: %s\n", strings.Join(probe.Folders, ", "))
		fmt.Fprintf(out, "  Target folder: %s\n", probe.Folder)
		fmt.Fprintf(out, "  Total emails in folder: %d\n", probe.Total)
		fmt.Fprintf(out, "  Unseen emails: %d\n", probe.Unseen)
		return 0, nil
	}

	limit := opts.limit
	if opts.all && limit <= 0 {
		fmt.Fprintf(out, "  Using --all without --limit; applying a default limit of %d emails.\n", defaultAllLimit)
		limit = defaultAllLimit
	}

	fmt.Fprintln(out, "  Fetching email list from server...")
	report, err := session.FetchAndArchive(ctx, sync.Options{Limit: limit, FetchAll: opts.all}, progressPrinter(out))
	if err != nil {
		fmt.Fprintf(out, "  Failed: %v\n", err)
		return 0, err
	}

	if len(report.Archived) == 0 {
		fmt.Fprintln(out, "  No new emails.")
		return 0, nil
	}
	fmt.Fprintf(out, "  Total archived: %d email(s)\n", len(report.Archived))
	return len(report.Archived), nil
}

// progressPrinter prints one line per processed message.
func progressPrinter(out io.Writer) func(sync.Progress) {
	first := true
	return func(p sync.Progress) {
		if first {
			fmt.Fprintf(out, "  Found %d email(s) to process\n", p.Total)
			first = false
		}
		switch o := p.Outcome.(type) {
		case sync.Created:
			fmt.Fprintf(out, "  [%d/%d] ✓ %s\n", p.Current, p.Total, truncate(o.Email.Subject, 50))
		case sync.Duplicate:
			fmt.Fprintf(out, "  [%d/%d] = already archived %s\n", p.Current, p.Total, o.MessageID)
		case sync.Failed:
			fmt.Fprintf(out, "  [%d/%d] Failed: %v\n", p.Current, p.Total, o.Err)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// findAccount looks an account up by numeric id first, then by name.
func findAccount(ctx context.Context, s *store.SQLiteStore, ref string) (*model.MailboxAccount, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		a, err := s.GetAccount(ctx, id)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	accounts, err := s.ListAccounts(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].Name == ref {
			return &accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account %q not found", ref)
}
