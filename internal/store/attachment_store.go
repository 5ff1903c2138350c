package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailarchive/internal/model"
)

type attachmentRow struct {
	ID             int64          `db:"id"`
	EmailID        int64          `db:"email_id"`
	Filename       string         `db:"filename"`
	MimeType       string         `db:"mime_type"`
	SizeBytes      int64          `db:"size_bytes"`
	Hash           string         `db:"hash"`
	IsCompressed   bool           `db:"is_compressed"`
	ReferenceCount int            `db:"reference_count"`
	StoragePath    string         `db:"storage_path"`
	StorageDisk    string         `db:"storage_disk"`
	ContentID      sql.NullString `db:"content_id"`
	IsInline       bool           `db:"is_inline"`
	ExtractedText  sql.NullString `db:"extracted_text"`
	CreatedAt      time.Time      `db:"created_at"`
}

const attachmentColumns = `
	id, email_id, filename, mime_type, size_bytes, hash, is_compressed,
	reference_count, storage_path, storage_disk, content_id, is_inline,
	extracted_text, created_at`

func (r attachmentRow) toModel() model.Attachment {
	return model.Attachment{
		ID:             r.ID,
		EmailID:        r.EmailID,
		Filename:       r.Filename,
		MimeType:       r.MimeType,
		SizeBytes:      r.SizeBytes,
		Hash:           r.Hash,
		IsCompressed:   r.IsCompressed,
		ReferenceCount: r.ReferenceCount,
		StoragePath:    r.StoragePath,
		StorageDisk:    r.StorageDisk,
		ContentID:      nullString(r.ContentID),
		IsInline:       r.IsInline,
		ExtractedText:  nullString(r.ExtractedText),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

// CreateAttachment inserts a and sets its ID and CreatedAt.
func (s *SQLiteStore) CreateAttachment(ctx context.Context, a *model.Attachment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.ReferenceCount == 0 {
		a.ReferenceCount = 1
	}

	const query = `
		INSERT INTO attachments (
			email_id, filename, mime_type, size_bytes, hash, is_compressed,
			reference_count, storage_path, storage_disk, content_id, is_inline,
			extracted_text, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		a.EmailID, a.Filename, a.MimeType, a.SizeBytes, a.Hash, boolToInt(a.IsCompressed),
		a.ReferenceCount, a.StoragePath, a.StorageDisk, a.ContentID, boolToInt(a.IsInline),
		a.ExtractedText, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting attachment %q: %w", a.Filename, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading attachment id: %w", err)
	}
	a.ID = id
	return nil
}

// GetAttachment returns the attachment with the given id.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id int64) (*model.Attachment, error) {
	var row attachmentRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+attachmentColumns+" FROM attachments WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting attachment %d: %w", id, notFound(err))
	}
	a := row.toModel()
	return &a, nil
}

// FindAttachmentByHash returns the lowest-id row carrying hash.
func (s *SQLiteStore) FindAttachmentByHash(ctx context.Context, hash string) (*model.Attachment, error) {
	var row attachmentRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+attachmentColumns+" FROM attachments WHERE hash = ? ORDER BY id LIMIT 1", hash)
	if err != nil {
		return nil, fmt.Errorf("finding attachment by hash: %w", notFound(err))
	}
	a := row.toModel()
	return &a, nil
}

// ListAttachmentsByEmail returns an email's attachments in insertion order.
func (s *SQLiteStore) ListAttachmentsByEmail(ctx context.Context, emailID int64) ([]model.Attachment, error) {
	var rows []attachmentRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+attachmentColumns+" FROM attachments WHERE email_id = ? ORDER BY id", emailID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments of email %d: %w", emailID, err)
	}
	out := make([]model.Attachment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// IncrementReferenceCount adds one reference to the canonical row for hash.
func (s *SQLiteStore) IncrementReferenceCount(ctx context.Context, hash string) error {
	const query = `
		UPDATE attachments SET reference_count = reference_count + 1
		WHERE id = (SELECT MIN(id) FROM attachments WHERE hash = ?)`

	res, err := s.db.ExecContext(ctx, query, hash)
	if err != nil {
		return fmt.Errorf("incrementing reference count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("incrementing reference count: %w", ErrNotFound)
	}
	return nil
}

// DecrementReferenceCount removes one reference from the canonical row for
// hash, deleting the row when none remain.
func (s *SQLiteStore) DecrementReferenceCount(ctx context.Context, hash string) (*model.Attachment, int, error) {
	var (
		canonical *model.Attachment
		remaining int
	)

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row attachmentRow
		err := tx.GetContext(ctx, &row,
			"SELECT "+attachmentColumns+" FROM attachments WHERE hash = ? ORDER BY id LIMIT 1", hash)
		if err != nil {
			return notFound(err)
		}
		a := row.toModel()
		canonical = &a

		err = tx.GetContext(ctx, &remaining,
			`UPDATE attachments SET reference_count = reference_count - 1
			 WHERE id = ? AND reference_count > 0
			 RETURNING reference_count`, row.ID)
		if errors.Is(err, sql.ErrNoRows) {
			remaining = 0
		} else if err != nil {
			return err
		}

		if remaining > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE id = ?", row.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("decrementing reference count: %w", err)
	}
	return canonical, remaining, nil
}
