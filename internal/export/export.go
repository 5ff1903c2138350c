// Package export writes GoBD compliance bundles of archived email.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/nhle/mailarchive/internal/codec"
	"github.com/nhle/mailarchive/internal/model"
)

// NoEmailsMessage is the Result error for an empty date range.
const NoEmailsMessage = "No emails found in the specified date range."

var errNoEmails = errors.New(NoEmailsMessage)

// Repository is the persistence an export needs.
type Repository interface {
	CountEmailsInRange(ctx context.Context, f model.EmailFilter) (int, error)
	EachEmailInRange(ctx context.Context, f model.EmailFilter, fn func(*model.Email) error) error
	CreateAuditLogs(ctx context.Context, logs []model.AuditLog) error
}

// Request selects what to export. Both bounds are inclusive and optional.
type Request struct {
	From       *time.Time
	To         *time.Time
	OutputPath string
}

// Result describes a finished export. On failure File is empty and Count
// and Size are zero.
type Result struct {
	Success bool
	File    string
	Count   int
	Size    int64
	Error   string
}

// Exporter builds export bundles.
type Exporter struct {
	repo   Repository
	fs     afero.Fs
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// Option customises an Exporter.
type Option func(*Exporter)

// WithFs sets the filesystem bundles are written to.
func WithFs(fs afero.Fs) Option {
	return func(x *Exporter) { x.fs = fs }
}

// WithDir sets the directory for bundles without an explicit output path.
func WithDir(dir string) Option {
	return func(x *Exporter) {
		if dir != "" {
			x.dir = dir
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Exporter) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(x *Exporter) { x.now = now }
}

// New returns an Exporter writing to the OS filesystem.
func New(repo Repository, opts ...Option) *Exporter {
	x := &Exporter{
		repo:   repo,
		fs:     afero.NewOsFs(),
		dir:    "exports",
		logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// DefaultFilename names a bundle after its date range.
func DefaultFilename(from, to *time.Time, now time.Time) string {
	fromText, toText := "all", now.Format("2006-01-02")
	if from != nil {
		fromText = from.Format("2006-01-02")
	}
	if to != nil {
		toText = to.Format("2006-01-02")
	}
	return fmt.Sprintf("Export_%s_%s.zip", fromText, toText)
}

// Export writes every email in the range, plus index.xml, index.csv,
// hashes.txt and readme.txt, into one zip file. The file only appears at its
// final path once it is complete. Each exported email gets an audit entry.
func (x *Exporter) Export(ctx context.Context, req Request) Result {
	res, ids, err := x.export(ctx, req)
	if err != nil {
		if !errors.Is(err, errNoEmails) {
			x.logger.Error("export failed", "error", err)
		}
		return Result{Error: err.Error()}
	}

	x.audit(ctx, ids, res.File)
	x.logger.Info("export complete", "file", res.File, "count", res.Count, "size", res.Size)
	return res
}

func (x *Exporter) export(ctx context.Context, req Request) (res Result, ids []int64, err error) {
	filter := model.EmailFilter{From: req.From, To: req.To}
	n, err := x.repo.CountEmailsInRange(ctx, filter)
	if err != nil {
		return res, nil, err
	}
	if n == 0 {
		return res, nil, errNoEmails
	}

	now := x.now()
	dest := req.OutputPath
	if dest == "" {
		dest = filepath.Join(x.dir, DefaultFilename(req.From, req.To, now))
	}
	dir := filepath.Dir(dest)
	if err := x.fs.MkdirAll(dir, 0o755); err != nil {
		return res, nil, fmt.Errorf("creating export directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(x.fs, dir, ".export-*.zip.tmp")
	if err != nil {
		return res, nil, fmt.Errorf("creating temporary export file: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tmp.Close()
		if rerr := x.fs.Remove(tmp.Name()); rerr != nil && !os.IsNotExist(rerr) {
			x.logger.Warn("removing temporary export file", "path", tmp.Name(), "error", rerr)
		}
	}()

	zw := zip.NewWriter(tmp)
	rows, err := x.writeEmails(ctx, zw, filter, now)
	if err != nil {
		return res, nil, err
	}
	if len(rows) == 0 {
		return res, nil, errNoEmails
	}

	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"index.xml", func(w io.Writer) error { return writeXML(w, rows, now) }},
		{"index.csv", func(w io.Writer) error { return writeCSV(w, rows) }},
		{"hashes.txt", func(w io.Writer) error { return writeHashes(w, rows) }},
		{"readme.txt", func(w io.Writer) error { return writeReadme(w, req.From, req.To, len(rows), now) }},
	}
	for _, f := range files {
		w, err := createEntry(zw, f.name, now)
		if err != nil {
			return res, nil, err
		}
		if err := f.write(w); err != nil {
			return res, nil, fmt.Errorf("writing %s: %w", f.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return res, nil, fmt.Errorf("finishing zip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return res, nil, fmt.Errorf("closing export file: %w", err)
	}
	if err := x.fs.Rename(tmp.Name(), dest); err != nil {
		return res, nil, fmt.Errorf("moving export into place: %w", err)
	}
	committed = true

	info, err := x.fs.Stat(dest)
	if err != nil {
		return res, nil, fmt.Errorf("reading export size: %w", err)
	}

	ids = make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return Result{Success: true, File: dest, Count: len(rows), Size: info.Size()}, ids, nil
}

// writeEmails streams each email's original bytes into the archive and
// returns their metadata rows in export order.
func (x *Exporter) writeEmails(ctx context.Context, zw *zip.Writer, filter model.EmailFilter, now time.Time) ([]Row, error) {
	var rows []Row
	err := x.repo.EachEmailInRange(ctx, filter, func(e *model.Email) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := codec.Decode(e.RawEmail, e.IsCompressed)
		if err != nil {
			return fmt.Errorf("decoding email %d: %w", e.ID, err)
		}
		name := EmlPath(e)
		w, err := createEntry(zw, name, now)
		if err != nil {
			return err
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		rows = append(rows, newRow(e, name, raw))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func createEntry(zw *zip.Writer, name string, modified time.Time) (io.Writer, error) {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return nil, fmt.Errorf("adding %s: %w", name, err)
	}
	return w, nil
}

func (x *Exporter) audit(ctx context.Context, ids []int64, file string) {
	logs := make([]model.AuditLog, 0, len(ids))
	for _, id := range ids {
		logs = append(logs, model.AuditLog{
			Subject:     model.EmailSubject(id),
			Action:      model.ActionExported,
			Description: "Email exported for GoBD compliance",
			Metadata:    map[string]any{"file": filepath.Base(file)},
		})
	}
	if err := x.repo.CreateAuditLogs(ctx, logs); err != nil {
		x.logger.Error("writing export audit entries", "count", len(logs), "error", err)
	}
}
