// Command mailarchive archives email for GoBD compliance: it pulls mail from
// IMAP accounts, accepts deliveries over HTTP and produces audit exports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/mailarchive/internal/attachment"
	"github.com/nhle/mailarchive/internal/blob"
	"github.com/nhle/mailarchive/internal/credential"
	"github.com/nhle/mailarchive/internal/export"
	"github.com/nhle/mailarchive/internal/logging"
	"github.com/nhle/mailarchive/internal/mailbox"
	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/parser"
	"github.com/nhle/mailarchive/internal/store"
	"github.com/nhle/mailarchive/internal/sync"
	"github.com/nhle/mailarchive/internal/textextract"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mailarchive",
		Short: "GoBD-compliant email archive",
		Long: `mailarchive stores every email it receives unchanged, with a SHA-256
digest, deduplicated attachments and an append-only audit trail.

Examples:
  mailarchive serve                      # webhook listener plus scheduled sync
  mailarchive archive --account main     # fetch unseen mail once
  mailarchive sync --loop                # run scheduled sync in the foreground
  mailarchive export --year 2024         # write a compliance bundle`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newArchiveCmd(opts),
		newSyncCmd(opts),
		newExportCmd(opts),
		newAccountsCmd(opts),
	)
	return cmd
}

// deps holds the wired components shared by every command.
type deps struct {
	cfg      *model.AppConfig
	logger   *slog.Logger
	store    *store.SQLiteStore
	parser   *parser.Parser
	closers  []func() error
	creds    *credential.Store
	out      io.Writer
	dialer   mailbox.Dialer
	exporter *export.Exporter
}

func openDeps(ctx context.Context, opts *rootOptions, out, errOut io.Writer) (*deps, error) {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(errOut, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}

	rt := &deps{cfg: cfg, logger: logger, out: out}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	rt.store = db
	rt.closers = append(rt.closers, db.Close)

	disks, closeDisks, err := blob.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening blob storage: %w", err)
	}
	rt.closers = append(rt.closers, closeDisks)

	attachments := attachment.New(db, disks,
		attachment.WithThreshold(cfg.Archive.CompressionThreshold),
		attachment.WithExtractor(textextract.New(logger)),
		attachment.WithLogger(logger),
	)
	rt.parser = parser.New(db, attachments,
		parser.WithDomain(cfg.Archive.Domain),
		parser.WithThreshold(cfg.Archive.CompressionThreshold),
		parser.WithLogger(logger),
	)
	rt.creds = credential.NewStore()
	rt.dialer = mailbox.NewIMAPDialer(logger)
	rt.exporter = export.New(db, export.WithDir(cfg.Export.Dir), export.WithLogger(logger))

	ok = true
	return rt, nil
}

func (rt *deps) engine() *sync.Engine {
	return sync.NewEngine(rt.dialer, rt.parser, rt.store,
		sync.WithCredentials(rt.creds),
		sync.WithChunkSize(rt.cfg.Archive.ChunkSize),
		sync.WithLogger(rt.logger),
	)
}

// Close releases everything in reverse order of opening.
func (rt *deps) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// withDeps opens the shared components for the duration of fn.
func withDeps(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, rt *deps) error) error {
	ctx := cmd.Context()
	rt, err := openDeps(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.logger.Warn("closing resources", "error", err)
		}
	}()
	return fn(ctx, rt)
}
