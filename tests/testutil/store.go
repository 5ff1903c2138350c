package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailarchive/internal/digest"
	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewEmail builds an unsaved email whose raw content is derived from
// messageID, so distinct ids produce distinct hashes.
func NewEmail(messageID string, receivedAt time.Time) *model.Email {
	raw := []byte("Message-ID: <" + messageID + ">\r\nSubject: test\r\n\r\nbody of " + messageID + "\r\n")
	body := "body of " + messageID
	return &model.Email{
		MessageID:   messageID,
		FromAddress: "sender@example.com",
		ToAddresses: []string{"rcpt@example.com"},
		Subject:     "test",
		BodyText:    &body,
		Headers:     model.Headers{{Name: "Subject", Values: []string{"test"}}},
		ReceivedAt:  receivedAt.UTC(),
		SizeBytes:   int64(len(raw)),
		Hash:        digest.Sum(raw),
		RawEmail:    raw,
	}
}

// MustCreateEmail saves e and fails the test on error.
func MustCreateEmail(t *testing.T, s store.EmailRepository, e *model.Email) *model.Email {
	t.Helper()
	if err := s.CreateEmail(context.Background(), e); err != nil {
		t.Fatalf("creating email %s: %v", e.MessageID, err)
	}
	return e
}

// MustCreateAccount saves a minimal active account for username.
func MustCreateAccount(t *testing.T, s store.AccountRepository, name, username string) *model.MailboxAccount {
	t.Helper()
	a := &model.MailboxAccount{
		Name:         name,
		Host:         "imap.example.com",
		Port:         993,
		Encryption:   model.EncryptionSSL,
		ValidateCert: true,
		Username:     username,
		Password:     "secret",
		Folder:       "INBOX",
		IsActive:     true,
		SyncInterval: model.SyncHourly,
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("creating account %s: %v", name, err)
	}
	return a
}
