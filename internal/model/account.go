package model

import (
	"strings"
	"time"
)

// Encryption is the transport security mode of a mailbox connection.
type Encryption string

const (
	EncryptionSSL  Encryption = "ssl"
	EncryptionTLS  Encryption = "tls"
	EncryptionNone Encryption = "none"
)

// SyncInterval controls how often scheduled sync picks up an account.
type SyncInterval string

const (
	SyncManual         SyncInterval = "manual"
	SyncEvery15Minutes SyncInterval = "every_15_minutes"
	SyncHourly         SyncInterval = "hourly"
	SyncEvery6Hours    SyncInterval = "every_6_hours"
	SyncDaily          SyncInterval = "daily"
	SyncWeekly         SyncInterval = "weekly"
)

// Duration returns the period of the interval, or 0 for manual.
func (s SyncInterval) Duration() time.Duration {
	switch s {
	case SyncEvery15Minutes:
		return 15 * time.Minute
	case SyncHourly:
		return time.Hour
	case SyncEvery6Hours:
		return 6 * time.Hour
	case SyncDaily:
		return 24 * time.Hour
	case SyncWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether s is one of the known intervals.
func (s SyncInterval) Valid() bool {
	return s == SyncManual || s.Duration() > 0
}

// MailboxAccount is an IMAP mailbox the archive pulls from.
type MailboxAccount struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	Host         string     `json:"host"`
	Port         int        `json:"port"`
	Encryption   Encryption `json:"encryption"`
	ValidateCert bool       `json:"validate_cert"`
	Username     string     `json:"username"`

	// Password is either the literal secret or a "keyring:<key>" reference.
	Password string `json:"-"`

	// Folder is the mailbox folder to archive, usually INBOX.
	Folder string `json:"folder"`

	IsActive           bool         `json:"is_active"`
	DeleteAfterArchive bool         `json:"delete_after_archive"`
	SyncInterval       SyncInterval `json:"sync_interval"`

	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	LastFetchAt *time.Time `json:"last_fetch_at,omitempty"`

	TotalEmails    int64 `json:"total_emails"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Domain returns the lower-cased domain of the account's username, or "" if
// the username is not an address.
func (a MailboxAccount) Domain() string {
	return AddressDomain(a.Username)
}

// AddressDomain returns the lower-cased part after the last "@" of addr.
func AddressDomain(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 || i == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[i+1:]))
}

// DueForSync reports whether the account's interval has elapsed at now.
func (a MailboxAccount) DueForSync(now time.Time) bool {
	d := a.SyncInterval.Duration()
	if !a.IsActive || d == 0 {
		return false
	}
	if a.LastSyncAt == nil {
		return true
	}
	return !a.LastSyncAt.After(now.Add(-d))
}
