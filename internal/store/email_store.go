package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailarchive/internal/model"
)

// emailRow mirrors the emails table for sqlx scanning.
type emailRow struct {
	ID               int64          `db:"id"`
	MessageID        string         `db:"message_id"`
	InReplyTo        sql.NullString `db:"in_reply_to"`
	Refs             sql.NullString `db:"refs"`
	FromAddress      string         `db:"from_address"`
	FromName         sql.NullString `db:"from_name"`
	ToAddresses      sql.NullString `db:"to_addresses"`
	CcAddresses      sql.NullString `db:"cc_addresses"`
	BccAddresses     sql.NullString `db:"bcc_addresses"`
	Subject          string         `db:"subject"`
	BodyText         sql.NullString `db:"body_text"`
	BodyHTML         sql.NullString `db:"body_html"`
	Headers          string         `db:"headers"`
	ReceivedAt       time.Time      `db:"received_at"`
	ArchivedAt       sql.NullTime   `db:"archived_at"`
	SizeBytes        int64          `db:"size_bytes"`
	Hash             string         `db:"hash"`
	IsCompressed     bool           `db:"is_compressed"`
	RawEmail         []byte         `db:"raw_email"`
	HasAttachments   bool           `db:"has_attachments"`
	Role             sql.NullString `db:"role"`
	MailboxAccountID sql.NullInt64  `db:"mailbox_account_id"`
}

const emailColumns = `
	id, message_id, in_reply_to, refs,
	from_address, from_name, to_addresses, cc_addresses, bcc_addresses,
	subject, body_text, body_html, headers,
	received_at, archived_at, size_bytes, hash, is_compressed, raw_email,
	has_attachments, role, mailbox_account_id`

func (r emailRow) toModel() (*model.Email, error) {
	e := &model.Email{
		ID:             r.ID,
		MessageID:      r.MessageID,
		InReplyTo:      nullString(r.InReplyTo),
		FromAddress:    r.FromAddress,
		FromName:       nullString(r.FromName),
		Subject:        r.Subject,
		BodyText:       nullString(r.BodyText),
		BodyHTML:       nullString(r.BodyHTML),
		ReceivedAt:     r.ReceivedAt.UTC(),
		ArchivedAt:     nullTime(r.ArchivedAt),
		SizeBytes:      r.SizeBytes,
		Hash:           r.Hash,
		IsCompressed:   r.IsCompressed,
		RawEmail:       r.RawEmail,
		HasAttachments: r.HasAttachments,
		Role:           model.Role(r.Role.String),
	}
	if r.MailboxAccountID.Valid {
		id := r.MailboxAccountID.Int64
		e.MailboxAccountID = &id
	}

	var err error
	if e.References, err = unmarshalStrings(r.Refs); err != nil {
		return nil, fmt.Errorf("decoding references of email %d: %w", r.ID, err)
	}
	if e.ToAddresses, err = unmarshalStrings(r.ToAddresses); err != nil {
		return nil, fmt.Errorf("decoding to addresses of email %d: %w", r.ID, err)
	}
	if e.CcAddresses, err = unmarshalStrings(r.CcAddresses); err != nil {
		return nil, fmt.Errorf("decoding cc addresses of email %d: %w", r.ID, err)
	}
	if e.BccAddresses, err = unmarshalStrings(r.BccAddresses); err != nil {
		return nil, fmt.Errorf("decoding bcc addresses of email %d: %w", r.ID, err)
	}
	if r.Headers != "" {
		if err := json.Unmarshal([]byte(r.Headers), &e.Headers); err != nil {
			return nil, fmt.Errorf("decoding headers of email %d: %w", r.ID, err)
		}
	}
	return e, nil
}

// roleColumn stores RoleNone as NULL.
func roleColumn(r model.Role) *string {
	if r == model.RoleNone {
		return nil
	}
	s := string(r)
	return &s
}

// CreateEmail inserts e and sets its ID. ArchivedAt defaults to now.
func (s *SQLiteStore) CreateEmail(ctx context.Context, e *model.Email) error {
	if e.Role == model.RoleBoth {
		return fmt.Errorf("creating email %s: role %q must be split before storage", e.MessageID, e.Role)
	}

	refs, err := marshalStrings(e.References)
	if err != nil {
		return fmt.Errorf("encoding references: %w", err)
	}
	to, err := marshalStrings(e.ToAddresses)
	if err != nil {
		return fmt.Errorf("encoding to addresses: %w", err)
	}
	cc, err := marshalStrings(e.CcAddresses)
	if err != nil {
		return fmt.Errorf("encoding cc addresses: %w", err)
	}
	bcc, err := marshalStrings(e.BccAddresses)
	if err != nil {
		return fmt.Errorf("encoding bcc addresses: %w", err)
	}
	headers := e.Headers
	if headers == nil {
		headers = model.Headers{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}

	if e.ArchivedAt == nil {
		now := time.Now().UTC()
		e.ArchivedAt = &now
	}

	const query = `
		INSERT INTO emails (
			message_id, in_reply_to, refs,
			from_address, from_name, to_addresses, cc_addresses, bcc_addresses,
			subject, body_text, body_html, headers,
			received_at, archived_at, size_bytes, hash, is_compressed, raw_email,
			has_attachments, role, mailbox_account_id
		) VALUES (
			?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?
		)`

	res, err := s.db.ExecContext(ctx, query,
		e.MessageID, e.InReplyTo, refs,
		e.FromAddress, e.FromName, to, cc, bcc,
		e.Subject, e.BodyText, e.BodyHTML, string(headersJSON),
		e.ReceivedAt.UTC(), e.ArchivedAt.UTC(), e.SizeBytes, e.Hash, boolToInt(e.IsCompressed), e.RawEmail,
		boolToInt(e.HasAttachments), roleColumn(e.Role), e.MailboxAccountID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting email %s: %w", e.MessageID, ErrConflict)
		}
		return fmt.Errorf("inserting email %s: %w", e.MessageID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading email id: %w", err)
	}
	e.ID = id
	return nil
}

func (s *SQLiteStore) getEmail(ctx context.Context, where string, args ...any) (*model.Email, error) {
	var row emailRow
	query := "SELECT " + emailColumns + " FROM emails WHERE " + where + " LIMIT 1"
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, notFound(err)
	}
	return row.toModel()
}

// GetEmail returns the email with the given id.
func (s *SQLiteStore) GetEmail(ctx context.Context, id int64) (*model.Email, error) {
	e, err := s.getEmail(ctx, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting email %d: %w", id, err)
	}
	return e, nil
}

// FindEmailByMessageID returns the email with the given Message-ID.
func (s *SQLiteStore) FindEmailByMessageID(ctx context.Context, messageID string) (*model.Email, error) {
	e, err := s.getEmail(ctx, "message_id = ?", messageID)
	if err != nil {
		return nil, fmt.Errorf("finding email by message id: %w", err)
	}
	return e, nil
}

// FindEmailByHash returns the email with the given content hash and role.
func (s *SQLiteStore) FindEmailByHash(ctx context.Context, hash string, role model.Role) (*model.Email, error) {
	e, err := s.getEmail(ctx, "hash = ? AND COALESCE(role, '') = ?", hash, string(role))
	if err != nil {
		return nil, fmt.Errorf("finding email by hash: %w", err)
	}
	return e, nil
}

// AssignEmailAccount records which mailbox account an email came from.
func (s *SQLiteStore) AssignEmailAccount(ctx context.Context, emailID, accountID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE emails SET mailbox_account_id = ? WHERE id = ?", accountID, emailID)
	if err != nil {
		return fmt.Errorf("assigning email %d to account %d: %w", emailID, accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assigning email %d: %w", emailID, ErrNotFound)
	}
	return nil
}

// rangeClause builds the WHERE clause and args for an EmailFilter.
func rangeClause(f model.EmailFilter) (string, []any) {
	var conds []string
	var args []any
	if f.From != nil {
		conds = append(conds, "received_at >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		conds = append(conds, "received_at <= ?")
		args = append(args, f.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// EachEmailInRange calls fn for every email in the filter's range, ordered by
// received_at then id. Iteration stops at the first error from fn.
func (s *SQLiteStore) EachEmailInRange(ctx context.Context, f model.EmailFilter, fn func(*model.Email) error) error {
	where, args := rangeClause(f)
	query := "SELECT " + emailColumns + " FROM emails" + where + " ORDER BY received_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row emailRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("scanning email: %w", err)
		}
		e, err := row.toModel()
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating emails: %w", err)
	}
	return nil
}

// CountEmailsInRange counts the emails EachEmailInRange would visit.
func (s *SQLiteStore) CountEmailsInRange(ctx context.Context, f model.EmailFilter) (int, error) {
	where, args := rangeClause(f)
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM emails"+where, args...); err != nil {
		return 0, fmt.Errorf("counting emails: %w", err)
	}
	if f.Limit > 0 && n > f.Limit {
		n = f.Limit
	}
	return n, nil
}

// DeleteEmail removes an email; its attachment rows cascade without touching
// reference counts. Only used to roll back an email created in the same call
// after its attachment references have been released.
func (s *SQLiteStore) DeleteEmail(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM emails WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting email %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("deleting email %d: %w", id, ErrNotFound)
		}
		return nil
	})
}
