// Package sync pulls messages from mailbox accounts into the archive.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nhle/mailarchive/internal/mailbox"
	"github.com/nhle/mailarchive/internal/model"
)

// ChunkSize is how many messages are fetched and held in memory at once.
const ChunkSize = 25

// ErrVanished reports a message that disappeared between search and fetch.
var ErrVanished = errors.New("message vanished from server")

// Archiver stores a fetched message.
type Archiver interface {
	ParseMessage(ctx context.Context, msg *mailbox.Message) (*model.Email, error)
}

// Repository is the persistence a sync run needs.
type Repository interface {
	AssignEmailAccount(ctx context.Context, emailID, accountID int64) error
	IncrementAccountStats(ctx context.Context, id int64, emails, bytes int64, at time.Time) error
	MarkAccountSynced(ctx context.Context, id int64, at time.Time) error
	ListAccounts(ctx context.Context, activeOnly bool) ([]model.MailboxAccount, error)
	CreateAuditLog(ctx context.Context, l *model.AuditLog) error
}

// CredentialResolver turns a configured password into the real secret.
type CredentialResolver interface {
	Resolve(secret string) (string, error)
}

type literalCredentials struct{}

func (literalCredentials) Resolve(secret string) (string, error) { return secret, nil }

// Engine opens sessions against mailbox accounts.
type Engine struct {
	dialer    mailbox.Dialer
	archiver  Archiver
	repo      Repository
	creds     CredentialResolver
	chunkSize int
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithCredentials sets how account passwords are resolved.
func WithCredentials(c CredentialResolver) Option {
	return func(e *Engine) {
		if c != nil {
			e.creds = c
		}
	}
}

// WithChunkSize overrides ChunkSize.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine.
func NewEngine(dialer mailbox.Dialer, archiver Archiver, repo Repository, opts ...Option) *Engine {
	e := &Engine{
		dialer:    dialer,
		archiver:  archiver,
		repo:      repo,
		creds:     literalCredentials{},
		chunkSize: ChunkSize,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect resolves the account's credentials and opens its folder. Failures
// are *mailbox.ConnectionError and are not retried.
func (e *Engine) Connect(ctx context.Context, account model.MailboxAccount) (*Session, error) {
	password, err := e.creds.Resolve(account.Password)
	if err != nil {
		return nil, &mailbox.ConnectionError{
			Host:    account.Host,
			Message: fmt.Sprintf("resolving credentials for %s", account.Name),
			Err:     err,
		}
	}

	conn, err := e.dialer.Dial(ctx, mailbox.ConfigFromAccount(account, password))
	if err != nil {
		e.logger.Error("connecting to mailbox", "account", account.Name, "host", account.Host, "error", err)
		if !mailbox.IsConnectionError(err) {
			err = &mailbox.ConnectionError{Host: account.Host, Message: "dialing", Err: err}
		}
		return nil, err
	}

	return &Session{engine: e, account: account, conn: conn}, nil
}

// Options controls a fetch run.
type Options struct {
	// Limit caps how many messages are processed. Zero means no cap.
	Limit int

	// FetchAll selects every message instead of only unseen ones.
	FetchAll bool
}

func (o Options) selection() mailbox.Selection {
	if o.FetchAll {
		return mailbox.SelectAll
	}
	return mailbox.SelectUnseen
}

// Outcome is the result for one message. It is one of Created, Duplicate or
// Failed.
type Outcome interface {
	isOutcome()
}

// Created reports a newly archived message.
type Created struct {
	Email *model.Email
}

// Duplicate reports a message that was already archived.
type Duplicate struct {
	MessageID string
}

// Failed reports a message that could not be archived.
type Failed struct {
	UID mailbox.UID
	Err error
}

func (Created) isOutcome() {}
func (Duplicate) isOutcome() {}
func (Failed) isOutcome() {}

// Progress is delivered once per processed message.
type Progress struct {
	Current int
	Total   int
	Outcome Outcome
}

// Archived summarises one created email.
type Archived struct {
	EmailID   int64
	MessageID string
	Subject   string
}

// Report summarises a fetch run.
type Report struct {
	Total      int
	Archived   []Archived
	Duplicates int
	Failed     int
	TotalSize  int64
}

// Probe describes a mailbox without fetching any message.
type Probe struct {
	Folder  string
	Folders []string
	Total   int
	Unseen  int
}
