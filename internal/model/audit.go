package model

import "time"

// AuditKind names the entity type an audit entry is about.
type AuditKind string

const (
	AuditKindEmail          AuditKind = "email"
	AuditKindAttachment     AuditKind = "attachment"
	AuditKindMailboxAccount AuditKind = "mailbox_account"
)

// Audit actions written by the archive itself.
const (
	ActionArchived          = "archived"
	ActionDeletedFromServer = "deleted_from_server"
	ActionExported          = "exported"
)

// AuditSubject identifies the entity an entry refers to.
type AuditSubject struct {
	Kind AuditKind `json:"kind"`
	ID   int64     `json:"id"`
}

// EmailSubject returns the audit subject for an email row.
func EmailSubject(id int64) AuditSubject {
	return AuditSubject{Kind: AuditKindEmail, ID: id}
}

// AccountSubject returns the audit subject for a mailbox account row.
func AccountSubject(id int64) AuditSubject {
	return AuditSubject{Kind: AuditKindMailboxAccount, ID: id}
}

// AuditLog is an append-only record of something that happened to an entity.
type AuditLog struct {
	ID      int64        `json:"id"`
	Subject AuditSubject `json:"subject"`

	// UserID is nil for actions taken by the system.
	UserID *int64 `json:"user_id,omitempty"`

	Action      string         `json:"action"`
	Description string         `json:"description"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RequestMeta carries the caller details that end up on audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	Source    string
}
