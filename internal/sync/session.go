package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailarchive/internal/mailbox"
	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/parser"
)

// Session is an open connection to one account's folder.
type Session struct {
	engine  *Engine
	account model.MailboxAccount
	conn    mailbox.Conn
	closed  bool
}

// Account returns the account the session is connected to.
func (s *Session) Account() model.MailboxAccount {
	return s.account
}

// Folders lists the folders on the server.
func (s *Session) Folders(ctx context.Context) ([]string, error) {
	return s.conn.Folders(ctx)
}

// Probe reports folder names and message counts without fetching bodies.
func (s *Session) Probe(ctx context.Context) (Probe, error) {
	folders, err := s.conn.Folders(ctx)
	if err != nil {
		return Probe{}, err
	}
	all, err := s.conn.Search(ctx, mailbox.SelectAll)
	if err != nil {
		return Probe{}, err
	}
	unseen, err := s.conn.Search(ctx, mailbox.SelectUnseen)
	if err != nil {
		return Probe{}, err
	}
	return Probe{
		Folder:  mailbox.ConfigFromAccount(s.account, "").Folder,
		Folders: folders,
		Total:   len(all),
		Unseen:  len(unseen),
	}, nil
}

// FetchAndArchive archives the selected messages chunk by chunk. Per-message
// failures are counted and skipped; a failed search or chunk fetch ends the
// run and is returned together with the partial report. progress may be nil.
func (s *Session) FetchAndArchive(ctx context.Context, opts Options, progress func(Progress)) (*Report, error) {
	log := s.engine.logger.With("account", s.account.Name)
	sel := opts.selection()

	uids, err := s.conn.Search(ctx, sel)
	if err != nil {
		return &Report{}, fmt.Errorf("searching %s: %w", s.account.Name, err)
	}
	if opts.Limit > 0 && len(uids) > opts.Limit {
		uids = uids[:opts.Limit]
	}

	report := &Report{Total: len(uids)}
	log.Info("starting fetch", "total", report.Total, "selection", sel.String())

	current := 0
	emit := func(o Outcome) {
		current++
		switch o := o.(type) {
		case Created:
			report.Archived = append(report.Archived, Archived{
				EmailID:   o.Email.ID,
				MessageID: o.Email.MessageID,
				Subject:   o.Email.Subject,
			})
			report.TotalSize += o.Email.SizeBytes
		case Duplicate:
			report.Duplicates++
		case Failed:
			report.Failed++
		}
		if progress != nil {
			progress(Progress{Current: current, Total: report.Total, Outcome: o})
		}
	}

	chunk := s.engine.chunkSize
	for offset := 0; offset < len(uids); offset += chunk {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := min(offset+chunk, len(uids))
		want := uids[offset:end]

		msgs, err := s.conn.Fetch(ctx, want)
		if err != nil {
			return report, fmt.Errorf("fetching messages %d-%d of %s: %w", offset+1, end, s.account.Name, err)
		}
		log.Debug("processing chunk", "offset", offset, "size", len(msgs), "total", report.Total)

		fetched := make(map[mailbox.UID]bool, len(msgs))
		for _, msg := range msgs {
			fetched[msg.UID] = true
			emit(s.archive(ctx, msg, sel))
		}
		for _, uid := range want {
			if !fetched[uid] {
				log.Warn("message vanished", "uid", uid)
				emit(Failed{UID: uid, Err: ErrVanished})
			}
		}

		clear(msgs)
	}

	log.Info("fetch complete",
		"archived", len(report.Archived),
		"duplicates", report.Duplicates,
		"failed", report.Failed,
		"total_size", report.TotalSize,
	)
	return report, nil
}

// archive processes one message and reports what happened to it.
func (s *Session) archive(ctx context.Context, msg *mailbox.Message, sel mailbox.Selection) Outcome {
	e := s.engine
	log := e.logger.With("account", s.account.Name, "uid", msg.UID)

	email, err := e.archiver.ParseMessage(ctx, msg)
	switch {
	case errors.Is(err, parser.ErrDuplicate):
		log.Debug("already archived", "message_id", msg.MessageID)
		if s.account.DeleteAfterArchive {
			if err := s.conn.Delete(ctx, msg.UID); err != nil {
				log.Error("deleting duplicate from server", "message_id", msg.MessageID, "error", err)
			}
		}
		return Duplicate{MessageID: msg.MessageID}
	case err != nil:
		log.Error("archiving message", "message_id", msg.MessageID, "error", err)
		return Failed{UID: msg.UID, Err: err}
	}

	log = log.With("email_id", email.ID, "message_id", email.MessageID)

	if err := e.repo.AssignEmailAccount(ctx, email.ID, s.account.ID); err != nil {
		log.Error("assigning account", "error", err)
	}
	if err := e.repo.IncrementAccountStats(ctx, s.account.ID, 1, email.SizeBytes, e.now()); err != nil {
		log.Error("updating account stats", "error", err)
	}

	deleted := false
	if s.account.DeleteAfterArchive {
		if err := s.conn.Delete(ctx, msg.UID); err != nil {
			log.Error("deleting from server after archival", "error", err)
		} else {
			deleted = true
			s.auditDeletion(ctx, email, msg.UID)
		}
	}
	if !deleted && sel == mailbox.SelectUnseen {
		if err := s.conn.MarkSeen(ctx, msg.UID); err != nil {
			log.Warn("marking seen", "error", err)
		}
	}

	log.Info("email archived")
	return Created{Email: email}
}

func (s *Session) auditDeletion(ctx context.Context, email *model.Email, uid mailbox.UID) {
	entry := &model.AuditLog{
		Subject:     model.EmailSubject(email.ID),
		Action:      model.ActionDeletedFromServer,
		Description: "Email deleted from mail server after successful archival",
		Metadata: map[string]any{
			"account": s.account.Name,
			"folder":  mailbox.ConfigFromAccount(s.account, "").Folder,
			"uid":     uint32(uid),
		},
	}
	if err := s.engine.repo.CreateAuditLog(ctx, entry); err != nil {
		s.engine.logger.Error("writing audit entry", "email_id", email.ID, "error", err)
	}
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
