package model

import "time"

// Role describes which side of a conversation the archiving mailbox was on.
type Role string

const (
	RoleNone      Role = ""
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
	RoleBoth      Role = "both"
)

// RecipientSuffix is appended to the message id of the recipient copy of an
// internal email so both copies can coexist.
const RecipientSuffix = "-recipient"

// DefaultSubject is used when a message carries no Subject header.
const DefaultSubject = "(No Subject)"

// Email is a single archived message. Rows are immutable after creation
// except for MailboxAccountID.
type Email struct {
	// ID is the auto-incrementing row identifier.
	ID int64 `json:"id"`

	// MessageID is the globally unique Message-ID, synthesized when absent.
	MessageID string `json:"message_id"`

	InReplyTo  *string  `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`

	FromAddress string  `json:"from_address"`
	FromName    *string `json:"from_name,omitempty"`

	// Address lists are nil when the header was absent or yielded nothing.
	ToAddresses  []string `json:"to_addresses,omitempty"`
	CcAddresses  []string `json:"cc_addresses,omitempty"`
	BccAddresses []string `json:"bcc_addresses,omitempty"`

	Subject  string  `json:"subject"`
	BodyText *string `json:"body_text,omitempty"`
	BodyHTML *string `json:"body_html,omitempty"`

	Headers Headers `json:"headers"`

	// ReceivedAt is when the message was sent according to its Date header.
	ReceivedAt time.Time `json:"received_at"`

	// ArchivedAt is when the message entered the archive.
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	// SizeBytes is the length of the uncompressed raw message.
	SizeBytes int64 `json:"size_bytes"`

	// Hash is the hex SHA-256 of the uncompressed raw message.
	Hash string `json:"hash"`

	IsCompressed bool `json:"is_compressed"`

	// RawEmail holds the stored bytes, compressed when IsCompressed is set.
	RawEmail []byte `json:"-"`

	HasAttachments bool `json:"has_attachments"`

	Role Role `json:"role,omitempty"`

	MailboxAccountID *int64 `json:"mailbox_account_id,omitempty"`
}

// EmailFilter selects emails by received_at range. Either bound may be nil;
// both are inclusive.
type EmailFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}
