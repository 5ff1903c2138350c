package mailbox

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nhle/mailarchive/internal/model"
)

const multipartMessage = "From: \"Alice Example\" <alice@company.com>\r\n" +
	"To: bob@company.com, \"Carol\" <carol@partner.org>\r\n" +
	"Cc: dave@partner.org\r\n" +
	"Subject: =?UTF-8?Q?Gr=C3=BC=C3=9Fe?=\r\n" +
	"Date: Thu, 23 Oct 2025 10:00:00 +0000\r\n" +
	"Message-ID: <abc123@company.com>\r\n" +
	"Received: from a by b\r\n" +
	"Received: from b by c\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello Bob\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Hello Bob</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: image/png; name=\"logo.png\"\r\n" +
	"Content-Disposition: inline; filename=\"logo.png\"\r\n" +
	"Content-ID: <logo@company.com>\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0KGgo=\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; name=\"notes.txt\"\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"ABC\r\n" +
	"--outer--\r\n"

func TestReadMessageMultipart(t *testing.T) {
	msg := ReadMessage(42, []byte(multipartMessage))

	if msg.UID != 42 {
		t.Fatalf("uid = %d", msg.UID)
	}
	if msg.MessageID != "abc123@company.com" {
		t.Fatalf("message id = %q", msg.MessageID)
	}
	if msg.Subject != "Grüße" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	want := time.Date(2025, 10, 23, 10, 0, 0, 0, time.UTC)
	if !msg.Date.Equal(want) {
		t.Fatalf("date = %v", msg.Date)
	}
	if len(msg.From) != 1 || msg.From[0].Address != "alice@company.com" || msg.From[0].Name != "Alice Example" {
		t.Fatalf("from = %+v", msg.From)
	}
	if len(msg.To) != 2 || msg.To[1].Address != "carol@partner.org" {
		t.Fatalf("to = %+v", msg.To)
	}
	if len(msg.Cc) != 1 {
		t.Fatalf("cc = %+v", msg.Cc)
	}
	if strings.TrimSpace(msg.TextBody) != "Hello Bob" {
		t.Fatalf("text body = %q", msg.TextBody)
	}
	if strings.TrimSpace(msg.HTMLBody) != "<p>Hello Bob</p>" {
		t.Fatalf("html body = %q", msg.HTMLBody)
	}
	if got := msg.Header.Values("Received"); len(got) != 2 || got[0] != "from a by b" {
		t.Fatalf("received = %v", got)
	}

	if len(msg.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(msg.Attachments))
	}
	inline := msg.Attachments[0]
	if !inline.IsInline || inline.Filename != "logo.png" || inline.MimeType != "image/png" {
		t.Fatalf("inline = %+v", inline)
	}
	if inline.ContentID == nil || *inline.ContentID != "logo@company.com" {
		t.Fatalf("content id = %v", inline.ContentID)
	}
	att := msg.Attachments[1]
	if att.IsInline || att.Filename != "notes.txt" || strings.TrimSpace(string(att.Content)) != "ABC" {
		t.Fatalf("attachment = %+v", att)
	}
	if string(msg.Raw) != multipartMessage {
		t.Fatalf("raw bytes not preserved")
	}
}

func TestReadMessageSkipsEmptyAddresses(t *testing.T) {
	raw := "From: alice@company.com\r\nTo: \r\nSubject: x\r\n\r\nbody\r\n"
	msg := ReadMessage(1, []byte(raw))
	if len(msg.To) != 0 {
		t.Fatalf("to = %+v", msg.To)
	}
	if msg.MessageID != "" {
		t.Fatalf("message id = %q", msg.MessageID)
	}
	if !msg.Date.IsZero() {
		t.Fatalf("date should be zero, got %v", msg.Date)
	}
	if strings.TrimSpace(msg.TextBody) != "body" {
		t.Fatalf("body = %q", msg.TextBody)
	}
}

func TestConnectionError(t *testing.T) {
	base := errors.New("EOF")
	err := fmt.Errorf("syncing: %w", &ConnectionError{Host: "imap:993", Message: "dialing", Err: base})

	if !IsConnectionError(err) {
		t.Fatalf("expected connection error")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected to unwrap to base error")
	}
	if IsConnectionError(errors.New("other")) {
		t.Fatalf("plain error is not a connection error")
	}
}

func TestConfigFromAccount(t *testing.T) {
	cfg := ConfigFromAccount(model.MailboxAccount{
		Host: "imap.example.com", Port: 993, Encryption: model.EncryptionTLS,
		Username: "archive@example.com",
	}, "pw")
	if cfg.Folder != "INBOX" || cfg.Password != "pw" || cfg.Encryption != model.EncryptionTLS {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestSelectionString(t *testing.T) {
	if SelectAll.String() != "all" || SelectUnseen.String() != "unseen" {
		t.Fatalf("unexpected selection names")
	}
}
