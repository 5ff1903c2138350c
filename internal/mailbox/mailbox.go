// Package mailbox reads messages from remote mail servers.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailarchive/internal/model"
)

// ConnectionError indicates that connecting, authenticating or opening the
// folder failed. It aborts the whole run for an account.
type ConnectionError struct {
	Host    string
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error (%s): %s: %v", e.Host, e.Message, e.Err)
	}
	return fmt.Sprintf("connection error (%s): %s", e.Host, e.Message)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// UID identifies a message within the selected folder.
type UID uint32

// Selection chooses which messages a search returns.
type Selection int

const (
	// SelectUnseen matches messages without the \Seen flag.
	SelectUnseen Selection = iota
	// SelectAll matches every message in the folder.
	SelectAll
)

func (s Selection) String() string {
	if s == SelectAll {
		return "all"
	}
	return "unseen"
}

// Config holds what is needed to open a mailbox.
type Config struct {
	Host         string
	Port         int
	Encryption   model.Encryption
	ValidateCert bool
	Username     string
	Password     string
	Folder       string

	// Timeout bounds the dial. Zero means no timeout.
	Timeout time.Duration
}

// ConfigFromAccount copies connection settings from an account. The
// password must already be resolved.
func ConfigFromAccount(a model.MailboxAccount, password string) Config {
	folder := a.Folder
	if folder == "" {
		folder = "INBOX"
	}
	return Config{
		Host:         a.Host,
		Port:         a.Port,
		Encryption:   a.Encryption,
		ValidateCert: a.ValidateCert,
		Username:     a.Username,
		Password:     password,
		Folder:       folder,
		Timeout:      30 * time.Second,
	}
}

// Dialer opens connections to a mailbox.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is an open mailbox with its folder selected.
type Conn interface {
	// Folders lists every folder on the server.
	Folders(ctx context.Context) ([]string, error)

	// Search returns matching UIDs in ascending order without fetching bodies.
	Search(ctx context.Context, sel Selection) ([]UID, error)

	// Fetch downloads and parses the given messages, in the order requested.
	// UIDs that vanished on the server are skipped.
	Fetch(ctx context.Context, uids []UID) ([]*Message, error)

	MarkSeen(ctx context.Context, uid UID) error

	// Delete flags the message deleted. Flagged messages are expunged on Close.
	Delete(ctx context.Context, uid UID) error

	Close() error
}
