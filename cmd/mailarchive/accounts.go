package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mailarchive/internal/credential"
)

func newAccountsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage mailbox accounts",
	}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create or update accounts from the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, root, seedAccounts)
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List mailbox accounts and their archive statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, root, listAccounts)
		},
	}

	password := &cobra.Command{
		Use:   "set-password KEY",
		Short: "Store a mailbox password in the OS keyring",
		Long: `Reads a password from stdin and stores it in the OS keyring under KEY.
Reference it from the config file as "keyring:KEY".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("reading password: %w", err)
			}
			secret = strings.TrimRight(secret, "\r\n")
			if err := credential.NewStore().Set(args[0], secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored. Use password: %s%s\n", credential.Prefix, args[0])
			return nil
		},
	}

	cmd.AddCommand(seed, list, password)
	return cmd
}

func seedAccounts(ctx context.Context, rt *deps) error {
	if len(rt.cfg.Accounts) == 0 {
		fmt.Fprintln(rt.out, "No accounts configured.")
		return nil
	}
	for _, ac := range rt.cfg.Accounts {
		a := ac.Account()
		if !a.SyncInterval.Valid() {
			return fmt.Errorf("account %q: unknown sync interval %q", a.Name, a.SyncInterval)
		}
		if err := rt.store.UpsertAccountByName(ctx, &a); err != nil {
			return err
		}
		fmt.Fprintf(rt.out, "Seeded account %s (id %d)\n", a.Name, a.ID)
	}
	return nil
}

func listAccounts(ctx context.Context, rt *deps) error {
	accounts, err := rt.store.ListAccounts(ctx, false)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(rt.out, "No accounts.")
		return nil
	}

	w := tabwriter.NewWriter(rt.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUSER\tFOLDER\tINTERVAL\tACTIVE\tEMAILS\tSIZE\tLAST SYNC\tPASSWORD")
	for _, a := range accounts {
		lastSync := "never"
		if a.LastSyncAt != nil {
			lastSync = humanize.Time(*a.LastSyncAt)
		}
		password := "inline"
		if credential.IsReference(a.Password) {
			password = "keyring"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%d\t%s\t%s\t%s\n",
			a.ID, a.Name, a.Username, a.Folder, a.SyncInterval, a.IsActive,
			a.TotalEmails, humanize.IBytes(uint64(a.TotalSizeBytes)), lastSync, password)
	}
	return w.Flush()
}
