package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nhle/mailarchive/internal/model"
)

type accountRow struct {
	ID                 int64        `db:"id"`
	Name               string       `db:"name"`
	Host               string       `db:"host"`
	Port               int          `db:"port"`
	Encryption         string       `db:"encryption"`
	ValidateCert       bool         `db:"validate_cert"`
	Username           string       `db:"username"`
	Password           string       `db:"password"`
	Folder             string       `db:"folder"`
	IsActive           bool         `db:"is_active"`
	DeleteAfterArchive bool         `db:"delete_after_archive"`
	SyncInterval       string       `db:"sync_interval"`
	LastSyncAt         sql.NullTime `db:"last_sync_at"`
	LastFetchAt        sql.NullTime `db:"last_fetch_at"`
	TotalEmails        int64        `db:"total_emails"`
	TotalSizeBytes     int64        `db:"total_size_bytes"`
}

const accountColumns = `
	id, name, host, port, encryption, validate_cert, username, password, folder,
	is_active, delete_after_archive, sync_interval, last_sync_at, last_fetch_at,
	total_emails, total_size_bytes`

func (r accountRow) toModel() model.MailboxAccount {
	return model.MailboxAccount{
		ID:                 r.ID,
		Name:               r.Name,
		Host:               r.Host,
		Port:               r.Port,
		Encryption:         model.Encryption(r.Encryption),
		ValidateCert:       r.ValidateCert,
		Username:           r.Username,
		Password:           r.Password,
		Folder:             r.Folder,
		IsActive:           r.IsActive,
		DeleteAfterArchive: r.DeleteAfterArchive,
		SyncInterval:       model.SyncInterval(r.SyncInterval),
		LastSyncAt:         nullTime(r.LastSyncAt),
		LastFetchAt:        nullTime(r.LastFetchAt),
		TotalEmails:        r.TotalEmails,
		TotalSizeBytes:     r.TotalSizeBytes,
	}
}

// CreateAccount inserts a new mailbox account and sets its ID.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.MailboxAccount) error {
	const query = `
		INSERT INTO mailbox_accounts (
			name, host, port, encryption, validate_cert, username, password, folder,
			is_active, delete_after_archive, sync_interval
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		a.Name, a.Host, a.Port, string(a.Encryption), boolToInt(a.ValidateCert),
		a.Username, a.Password, a.Folder, boolToInt(a.IsActive),
		boolToInt(a.DeleteAfterArchive), string(a.SyncInterval),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting account %q: %w", a.Name, ErrConflict)
		}
		return fmt.Errorf("inserting account %q: %w", a.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading account id: %w", err)
	}
	a.ID = id
	return nil
}

// UpsertAccountByName creates the account or updates its connection
// settings, leaving statistics and sync timestamps untouched. a.ID is set.
func (s *SQLiteStore) UpsertAccountByName(ctx context.Context, a *model.MailboxAccount) error {
	const query = `
		INSERT INTO mailbox_accounts (
			name, host, port, encryption, validate_cert, username, password, folder,
			is_active, delete_after_archive, sync_interval
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			encryption = excluded.encryption,
			validate_cert = excluded.validate_cert,
			username = excluded.username,
			password = excluded.password,
			folder = excluded.folder,
			is_active = excluded.is_active,
			delete_after_archive = excluded.delete_after_archive,
			sync_interval = excluded.sync_interval,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id`

	err := s.db.GetContext(ctx, &a.ID, query,
		a.Name, a.Host, a.Port, string(a.Encryption), boolToInt(a.ValidateCert),
		a.Username, a.Password, a.Folder, boolToInt(a.IsActive),
		boolToInt(a.DeleteAfterArchive), string(a.SyncInterval),
	)
	if err != nil {
		return fmt.Errorf("upserting account %q: %w", a.Name, err)
	}
	return nil
}

// GetAccount returns the account with the given id.
func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*model.MailboxAccount, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+accountColumns+" FROM mailbox_accounts WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting account %d: %w", id, notFound(err))
	}
	a := row.toModel()
	return &a, nil
}

// ListAccounts returns accounts ordered by name.
func (s *SQLiteStore) ListAccounts(ctx context.Context, activeOnly bool) ([]model.MailboxAccount, error) {
	query := "SELECT " + accountColumns + " FROM mailbox_accounts"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	out := make([]model.MailboxAccount, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// ActiveDomains returns the set of username domains across active accounts.
func (s *SQLiteStore) ActiveDomains(ctx context.Context) (map[string]struct{}, error) {
	var usernames []string
	err := s.db.SelectContext(ctx, &usernames,
		"SELECT username FROM mailbox_accounts WHERE is_active = 1")
	if err != nil {
		return nil, fmt.Errorf("listing active usernames: %w", err)
	}
	domains := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		if d := model.AddressDomain(u); d != "" {
			domains[d] = struct{}{}
		}
	}
	return domains, nil
}

// IncrementAccountStats adds to the running totals and stamps last_fetch_at.
func (s *SQLiteStore) IncrementAccountStats(ctx context.Context, id int64, emails, bytes int64, at time.Time) error {
	const query = `
		UPDATE mailbox_accounts SET
			total_emails = total_emails + ?,
			total_size_bytes = total_size_bytes + ?,
			last_fetch_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, emails, bytes, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("incrementing stats of account %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("incrementing stats of account %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAccountSynced stamps last_sync_at.
func (s *SQLiteStore) MarkAccountSynced(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE mailbox_accounts SET last_sync_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("marking account %d synced: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("marking account %d synced: %w", id, ErrNotFound)
	}
	return nil
}
