package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailarchive/internal/model"
)

type auditRow struct {
	ID            int64          `db:"id"`
	AuditableType string         `db:"auditable_type"`
	AuditableID   int64          `db:"auditable_id"`
	UserID        sql.NullInt64  `db:"user_id"`
	Action        string         `db:"action"`
	Description   string         `db:"description"`
	IPAddress     string         `db:"ip_address"`
	UserAgent     string         `db:"user_agent"`
	Metadata      sql.NullString `db:"metadata"`
	CreatedAt     time.Time      `db:"created_at"`
}

const insertAudit = `
	INSERT INTO audit_logs (
		auditable_type, auditable_id, user_id, action, description,
		ip_address, user_agent, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func auditArgs(l *model.AuditLog) ([]any, error) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	var meta *string
	if len(l.Metadata) > 0 {
		b, err := json.Marshal(l.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding audit metadata: %w", err)
		}
		m := string(b)
		meta = &m
	}
	return []any{
		string(l.Subject.Kind), l.Subject.ID, l.UserID, l.Action, l.Description,
		l.IPAddress, l.UserAgent, meta, l.CreatedAt.UTC(),
	}, nil
}

// CreateAuditLog appends a single entry and sets its ID.
func (s *SQLiteStore) CreateAuditLog(ctx context.Context, l *model.AuditLog) error {
	args, err := auditArgs(l)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, insertAudit, args...)
	if err != nil {
		return fmt.Errorf("inserting audit log %s: %w", l.Action, err)
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading audit log id: %w", err)
	}
	return nil
}

// CreateAuditLogs appends a batch of entries in one transaction.
func (s *SQLiteStore) CreateAuditLogs(ctx context.Context, logs []model.AuditLog) error {
	if len(logs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, insertAudit)
		if err != nil {
			return fmt.Errorf("preparing audit insert: %w", err)
		}
		defer stmt.Close()

		for i := range logs {
			args, err := auditArgs(&logs[i])
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return fmt.Errorf("inserting audit log %s: %w", logs[i].Action, err)
			}
			if logs[i].ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("reading audit log id: %w", err)
			}
		}
		return nil
	})
}

// ListAuditLogs returns the entries for one subject, oldest first.
func (s *SQLiteStore) ListAuditLogs(ctx context.Context, subject model.AuditSubject) ([]model.AuditLog, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, auditable_type, auditable_id, user_id, action, description,
		       ip_address, user_agent, metadata, created_at
		FROM audit_logs
		WHERE auditable_type = ? AND auditable_id = ?
		ORDER BY id`, string(subject.Kind), subject.ID)
	if err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}

	out := make([]model.AuditLog, 0, len(rows))
	for _, r := range rows {
		l := model.AuditLog{
			ID:          r.ID,
			Subject:     model.AuditSubject{Kind: model.AuditKind(r.AuditableType), ID: r.AuditableID},
			Action:      r.Action,
			Description: r.Description,
			IPAddress:   r.IPAddress,
			UserAgent:   r.UserAgent,
			CreatedAt:   r.CreatedAt.UTC(),
		}
		if r.UserID.Valid {
			uid := r.UserID.Int64
			l.UserID = &uid
		}
		if r.Metadata.Valid && r.Metadata.String != "" {
			if err := json.Unmarshal([]byte(r.Metadata.String), &l.Metadata); err != nil {
				return nil, fmt.Errorf("decoding audit metadata %d: %w", r.ID, err)
			}
		}
		out = append(out, l)
	}
	return out, nil
}
