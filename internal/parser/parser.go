// Package parser turns raw and fetched messages into archived email rows.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailarchive/internal/codec"
	"github.com/nhle/mailarchive/internal/digest"
	"github.com/nhle/mailarchive/internal/mailbox"
	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/store"
)

// DefaultDomain is used for synthesized message ids when none is configured.
const DefaultDomain = "mailarchive.local"

// ErrDuplicate is matched by errors reporting an already archived message.
var ErrDuplicate = errors.New("email already archived")

// DuplicateError carries the archived email that a new message collided with.
type DuplicateError struct {
	MessageID string
	Existing  *model.Email
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("email %s already archived", e.MessageID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// Existing returns the archived email behind a duplicate error, if any.
func Existing(err error) (*model.Email, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) && dup.Existing != nil {
		return dup.Existing, true
	}
	return nil, false
}

// Repository is the persistence the parser needs.
type Repository interface {
	store.EmailRepository
	store.AuditRepository
	ActiveDomains(ctx context.Context) (map[string]struct{}, error)
}

// AttachmentStorer saves attachment payloads for an email and gives back
// the reference a saved payload took on its blob.
type AttachmentStorer interface {
	StorePayload(ctx context.Context, emailID int64, p model.AttachmentPayload) (*model.Attachment, error)
	Release(ctx context.Context, hash string) (bool, error)
}

// Parser archives messages.
type Parser struct {
	repo        Repository
	attachments AttachmentStorer
	domain      string
	threshold   int
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Parser.
type Option func(*Parser)

// WithDomain sets the domain used for synthesized message ids.
func WithDomain(domain string) Option {
	return func(p *Parser) {
		if d := strings.TrimSpace(domain); d != "" {
			p.domain = d
		}
	}
}

// WithThreshold overrides the raw message compression threshold.
func WithThreshold(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// New returns a Parser.
func New(repo Repository, attachments AttachmentStorer, opts ...Option) *Parser {
	p := &Parser{
		repo:        repo,
		attachments: attachments,
		domain:      DefaultDomain,
		threshold:   codec.DefaultThreshold,
		logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseRaw archives a raw message received without a mailbox, such as a
// webhook body. Malformed headers degrade to defaults. A message that is
// already archived yields a *DuplicateError.
func (p *Parser) ParseRaw(ctx context.Context, raw []byte, meta model.RequestMeta) (*model.Email, error) {
	headers, body := splitRaw(raw)

	e := &model.Email{
		Headers:    headers,
		Subject:    model.DefaultSubject,
		BodyText:   optional(body),
		ReceivedAt: p.now(),
	}

	if v, ok := headers.Get("Message-ID"); ok {
		e.MessageID = normalizeMessageID(v)
	}
	if v, ok := headers.Get("In-Reply-To"); ok {
		e.InReplyTo = optional(v)
	}
	if v, ok := headers.Get("References"); ok {
		e.References = references(v)
	}
	if v, ok := headers.Get("From"); ok {
		e.FromAddress = extractAddress(v)
		e.FromName = extractName(v)
	}
	if v, ok := headers.Get("To"); ok {
		e.ToAddresses = addressList(v)
	}
	if v, ok := headers.Get("Cc"); ok {
		e.CcAddresses = addressList(v)
	}
	if v, ok := headers.Get("Bcc"); ok {
		e.BccAddresses = addressList(v)
	}
	if v, ok := headers.Get("Subject"); ok && strings.TrimSpace(v) != "" {
		e.Subject = strings.TrimSpace(v)
	}
	if v, ok := headers.Get("Date"); ok {
		if t, ok := parseDate(v); ok {
			e.ReceivedAt = t
		}
	}
	if e.MessageID == "" {
		e.MessageID = p.syntheticID()
	}

	if err := p.fill(e, raw); err != nil {
		return nil, err
	}
	if err := p.persist(ctx, e, nil, meta); err != nil {
		return nil, err
	}
	return e, nil
}

// ParseMessage archives a message fetched from a mailbox. When both sender
// and a To recipient belong to archived domains, a sender copy and a
// recipient copy are stored and the sender copy is returned.
func (p *Parser) ParseMessage(ctx context.Context, msg *mailbox.Message) (*model.Email, error) {
	meta := model.RequestMeta{Source: "imap"}

	messageID := normalizeMessageID(msg.MessageID)
	if messageID == "" {
		messageID = p.syntheticID()
	} else if existing, err := p.repo.FindEmailByMessageID(ctx, messageID); err == nil {
		return nil, &DuplicateError{MessageID: messageID, Existing: existing}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking message %s: %w", messageID, err)
	}

	e := p.fromMessage(msg, messageID)
	if err := p.fill(e, msg.Raw); err != nil {
		return nil, err
	}

	domains, err := p.repo.ActiveDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading account domains: %w", err)
	}
	e.Role = DetectRole(e.FromAddress, e.ToAddresses, domains)

	if e.Role != model.RoleBoth {
		if err := p.persist(ctx, e, msg.Attachments, meta); err != nil {
			return nil, err
		}
		return e, nil
	}

	sender := *e
	sender.Role = model.RoleSender
	senderAttachments, err := p.insert(ctx, &sender, msg.Attachments)
	if err != nil {
		return nil, err
	}

	// The sender copy is only kept once the recipient copy exists, so a
	// failed fan-out can be retried as a whole.
	recipient := *e
	recipient.MessageID = messageID + model.RecipientSuffix
	recipient.Role = model.RoleRecipient
	_, err = p.insert(ctx, &recipient, msg.Attachments)
	switch {
	case errors.Is(err, ErrDuplicate):
		p.logger.Warn("recipient copy already archived", "message_id", recipient.MessageID)
	case err != nil:
		p.discard(ctx, &sender, senderAttachments)
		return nil, fmt.Errorf("archiving recipient copy of %s: %w", messageID, err)
	default:
		p.audit(ctx, &recipient, meta)
	}
	p.audit(ctx, &sender, meta)
	return &sender, nil
}

func (p *Parser) fromMessage(msg *mailbox.Message, messageID string) *model.Email {
	e := &model.Email{
		MessageID:  messageID,
		Headers:    msg.Header,
		Subject:    strings.TrimSpace(msg.Subject),
		BodyText:   optional(msg.TextBody),
		BodyHTML:   optional(msg.HTMLBody),
		ReceivedAt: msg.Date,
	}
	if e.Subject == "" {
		e.Subject = model.DefaultSubject
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = p.now()
	}
	if len(msg.From) > 0 {
		e.FromAddress = msg.From[0].Address
		if name := strings.TrimSpace(msg.From[0].Name); name != "" {
			e.FromName = &name
		}
	}
	e.ToAddresses = addresses(msg.To)
	e.CcAddresses = addresses(msg.Cc)
	if v, ok := msg.Header.Get("In-Reply-To"); ok {
		e.InReplyTo = optional(v)
	}
	if v, ok := msg.Header.Get("References"); ok {
		e.References = references(v)
	}
	return e
}

// fill sets the integrity and storage fields derived from raw.
func (p *Parser) fill(e *model.Email, raw []byte) error {
	stored, compressed, err := codec.Encode(raw, p.threshold)
	if err != nil {
		return fmt.Errorf("compressing message %s: %w", e.MessageID, err)
	}
	now := p.now()
	e.Hash = digest.Sum(raw)
	e.SizeBytes = int64(len(raw))
	e.RawEmail = stored
	e.IsCompressed = compressed
	e.ArchivedAt = &now
	return nil
}

// persist inserts e with its attachments and writes the archived audit entry.
func (p *Parser) persist(ctx context.Context, e *model.Email, payloads []model.AttachmentPayload, meta model.RequestMeta) error {
	if _, err := p.insert(ctx, e, payloads); err != nil {
		return err
	}
	p.audit(ctx, e, meta)
	return nil
}

// insert saves e and its attachments. A uniqueness conflict becomes a
// *DuplicateError. When an attachment fails, nothing of e is left behind.
func (p *Parser) insert(ctx context.Context, e *model.Email, payloads []model.AttachmentPayload) ([]*model.Attachment, error) {
	e.HasAttachments = len(payloads) > 0

	if err := p.repo.CreateEmail(ctx, e); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, &DuplicateError{MessageID: e.MessageID, Existing: p.conflicting(ctx, e)}
		}
		return nil, fmt.Errorf("saving message %s: %w", e.MessageID, err)
	}

	stored := make([]*model.Attachment, 0, len(payloads))
	for _, payload := range payloads {
		a, err := p.attachments.StorePayload(ctx, e.ID, payload)
		if err != nil {
			p.discard(ctx, e, stored)
			return nil, fmt.Errorf("storing attachments of %s: %w", e.MessageID, err)
		}
		stored = append(stored, a)
	}
	return stored, nil
}

// discard undoes insert: each attachment gives back its blob reference,
// newest first, and the email row goes last.
func (p *Parser) discard(ctx context.Context, e *model.Email, stored []*model.Attachment) {
	for i := len(stored) - 1; i >= 0; i-- {
		if _, err := p.attachments.Release(ctx, stored[i].Hash); err != nil {
			p.logger.Error("releasing attachment", "email_id", e.ID, "hash", stored[i].Hash, "error", err)
		}
	}
	if err := p.repo.DeleteEmail(ctx, e.ID); err != nil {
		p.logger.Error("rolling back email", "email_id", e.ID, "error", err)
	}
}

func (p *Parser) audit(ctx context.Context, e *model.Email, meta model.RequestMeta) {
	entry := &model.AuditLog{
		Subject:     model.EmailSubject(e.ID),
		Action:      model.ActionArchived,
		Description: "Email archived",
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		Metadata: map[string]any{
			"message_id": e.MessageID,
			"hash":       e.Hash,
			"size_bytes": e.SizeBytes,
		},
	}
	if meta.Source != "" {
		entry.Metadata["source"] = meta.Source
	}
	if e.Role != model.RoleNone {
		entry.Metadata["role"] = string(e.Role)
	}
	if err := p.repo.CreateAuditLog(ctx, entry); err != nil {
		p.logger.Error("writing audit entry", "email_id", e.ID, "error", err)
	}

	p.logger.Debug("email archived", "email_id", e.ID, "message_id", e.MessageID, "role", string(e.Role))
}

// conflicting finds the row that made an insert of e fail.
func (p *Parser) conflicting(ctx context.Context, e *model.Email) *model.Email {
	if existing, err := p.repo.FindEmailByMessageID(ctx, e.MessageID); err == nil {
		return existing
	}
	if existing, err := p.repo.FindEmailByHash(ctx, e.Hash, e.Role); err == nil {
		return existing
	}
	p.logger.Warn("conflicting email not found", "message_id", e.MessageID)
	return nil
}

func (p *Parser) syntheticID() string {
	return uuid.NewString() + "@" + p.domain
}

// DetectRole classifies a message by whether its sender and To recipients
// belong to the given domains. With no domains the role is none.
func DetectRole(from string, to []string, domains map[string]struct{}) model.Role {
	if len(domains) == 0 {
		return model.RoleNone
	}
	_, fromInternal := domains[model.AddressDomain(from)]

	toInternal := false
	for _, addr := range to {
		if _, ok := domains[model.AddressDomain(addr)]; ok {
			toInternal = true
			break
		}
	}

	switch {
	case fromInternal && toInternal:
		return model.RoleBoth
	case fromInternal:
		return model.RoleSender
	case toInternal:
		return model.RoleRecipient
	default:
		return model.RoleNone
	}
}

func addresses(list []mailbox.Address) []string {
	var out []string
	for _, a := range list {
		if addr := strings.TrimSpace(a.Address); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
