package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailarchive/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("uniqueness conflict")
)

// EmailRepository persists archived emails. Emails are immutable: there is
// no update beyond the mailbox association.
type EmailRepository interface {
	// CreateEmail inserts e and sets e.ID. A duplicate message id or
	// (hash, role) pair yields ErrConflict.
	CreateEmail(ctx context.Context, e *model.Email) error
	GetEmail(ctx context.Context, id int64) (*model.Email, error)
	FindEmailByMessageID(ctx context.Context, messageID string) (*model.Email, error)
	FindEmailByHash(ctx context.Context, hash string, role model.Role) (*model.Email, error)
	AssignEmailAccount(ctx context.Context, emailID, accountID int64) error

	// EachEmailInRange streams emails ordered by received_at, id.
	EachEmailInRange(ctx context.Context, f model.EmailFilter, fn func(*model.Email) error) error
	CountEmailsInRange(ctx context.Context, f model.EmailFilter) (int, error)

	// DeleteEmail removes the row and, by cascade, its attachment rows. It is
	// a rollback for rows created in the same call, not a retention path.
	DeleteEmail(ctx context.Context, id int64) error
}

// AttachmentRepository persists attachment rows and their blob reference counts.
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, a *model.Attachment) error
	GetAttachment(ctx context.Context, id int64) (*model.Attachment, error)

	// FindAttachmentByHash returns the canonical row for hash.
	FindAttachmentByHash(ctx context.Context, hash string) (*model.Attachment, error)
	ListAttachmentsByEmail(ctx context.Context, emailID int64) ([]model.Attachment, error)

	// IncrementReferenceCount bumps the canonical row for hash in one statement.
	IncrementReferenceCount(ctx context.Context, hash string) error

	// DecrementReferenceCount lowers the canonical count for hash and deletes
	// the canonical row when it reaches zero. It returns the canonical row as
	// it was before deletion and the remaining count.
	DecrementReferenceCount(ctx context.Context, hash string) (*model.Attachment, int, error)
}

// AccountRepository persists mailbox accounts and their running statistics.
type AccountRepository interface {
	CreateAccount(ctx context.Context, a *model.MailboxAccount) error
	UpsertAccountByName(ctx context.Context, a *model.MailboxAccount) error
	GetAccount(ctx context.Context, id int64) (*model.MailboxAccount, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]model.MailboxAccount, error)

	// ActiveDomains returns the username domains of every active account.
	ActiveDomains(ctx context.Context) (map[string]struct{}, error)

	IncrementAccountStats(ctx context.Context, id int64, emails, bytes int64, at time.Time) error
	MarkAccountSynced(ctx context.Context, id int64, at time.Time) error
}

// AuditRepository is append-only.
type AuditRepository interface {
	CreateAuditLog(ctx context.Context, l *model.AuditLog) error
	CreateAuditLogs(ctx context.Context, logs []model.AuditLog) error
	ListAuditLogs(ctx context.Context, subject model.AuditSubject) ([]model.AuditLog, error)
}

// Store bundles every repository behind one connection.
type Store interface {
	EmailRepository
	AttachmentRepository
	AccountRepository
	AuditRepository

	Close() error
}
