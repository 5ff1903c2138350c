package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailarchive/internal/model"
)

// IMAPDialer connects to IMAP servers with go-imap.
type IMAPDialer struct {
	Logger *slog.Logger
}

// NewIMAPDialer returns a dialer that logs to logger.
func NewIMAPDialer(logger *slog.Logger) *IMAPDialer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &IMAPDialer{Logger: logger}
}

// Dial connects, authenticates and selects cfg.Folder. Every failure is a
// *ConnectionError.
func (d *IMAPDialer) Dial(ctx context.Context, cfg Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	opts := &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: !cfg.ValidateCert,
		},
	}
	if cfg.Timeout > 0 {
		opts.Dialer = &net.Dialer{Timeout: cfg.Timeout}
	}

	var (
		client *imapclient.Client
		err    error
	)
	switch cfg.Encryption {
	case model.EncryptionSSL, "":
		client, err = imapclient.DialTLS(addr, opts)
	case model.EncryptionTLS:
		client, err = imapclient.DialStartTLS(addr, opts)
	case model.EncryptionNone:
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		return nil, &ConnectionError{Host: addr, Message: fmt.Sprintf("unknown encryption %q", cfg.Encryption)}
	}
	if err != nil {
		return nil, &ConnectionError{Host: addr, Message: "dialing", Err: err}
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &ConnectionError{
			Host:    addr,
			Message: fmt.Sprintf("authentication failed for %s", cfg.Username),
			Err:     err,
		}
	}

	if _, err := client.Select(cfg.Folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &ConnectionError{Host: addr, Message: fmt.Sprintf("selecting %s", cfg.Folder), Err: err}
	}

	return &imapConn{client: client, folder: cfg.Folder, logger: d.Logger}, nil
}

type imapConn struct {
	client *imapclient.Client
	folder string
	logger *slog.Logger

	pendingExpunge bool
	closed         bool
}

func (c *imapConn) Folders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, err := c.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	names := make([]string, 0, len(list))
	for _, m := range list {
		names = append(names, m.Mailbox)
	}
	return names, nil
}

func (c *imapConn) Search(ctx context.Context, sel Selection) ([]UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := &imap.SearchCriteria{}
	if sel == SelectUnseen {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}

	data, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s messages in %s: %w", sel, c.folder, err)
	}

	all := data.AllUIDs()
	uids := make([]UID, 0, len(all))
	for _, u := range all {
		uids = append(uids, UID(u))
	}
	slices.Sort(uids)
	return uids, nil
}

func (c *imapConn) Fetch(ctx context.Context, uids []UID) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	set := make([]imap.UID, 0, len(uids))
	for _, u := range uids {
		set = append(set, imap.UID(u))
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	bufs, err := c.client.Fetch(imap.UIDSetNum(set...), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching %d messages: %w", len(uids), err)
	}

	byUID := make(map[UID]*Message, len(bufs))
	for _, buf := range bufs {
		raw := buf.FindBodySection(section)
		if raw == nil {
			c.logger.Warn("message without body", "uid", buf.UID)
			continue
		}
		uid := UID(buf.UID)
		byUID[uid] = ReadMessage(uid, raw)
	}

	out := make([]*Message, 0, len(byUID))
	for _, u := range uids {
		if m, ok := byUID[u]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *imapConn) storeFlag(uid UID, flag imap.Flag) error {
	cmd := c.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{flag},
	}, nil)
	return cmd.Close()
}

func (c *imapConn) MarkSeen(ctx context.Context, uid UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.storeFlag(uid, imap.FlagSeen); err != nil {
		return fmt.Errorf("marking message %d seen: %w", uid, err)
	}
	return nil
}

func (c *imapConn) Delete(ctx context.Context, uid UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.storeFlag(uid, imap.FlagDeleted); err != nil {
		return fmt.Errorf("deleting message %d: %w", uid, err)
	}
	c.pendingExpunge = true
	return nil
}

// Close expunges deleted messages, logs out and closes the socket. Calling it
// again is a no-op.
func (c *imapConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.pendingExpunge {
		if err := c.client.Expunge().Close(); err != nil {
			errs = append(errs, fmt.Errorf("expunging %s: %w", c.folder, err))
		}
	}
	if err := c.client.Logout().Wait(); err != nil {
		c.logger.Debug("imap logout", "error", err)
	}
	if err := c.client.Close(); err != nil {
		c.logger.Debug("imap close", "error", err)
	}
	return errors.Join(errs...)
}
