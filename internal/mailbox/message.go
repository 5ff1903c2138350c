package mailbox

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailarchive/internal/model"
)

// Address is a parsed mailbox address.
type Address struct {
	Name    string
	Address string
}

// Message is a fully fetched mailbox message.
type Message struct {
	UID       UID
	MessageID string
	Header    model.Headers

	From []Address
	To   []Address
	Cc   []Address

	// Date is zero when the header is missing or unparseable.
	Date    time.Time
	Subject string

	TextBody string
	HTMLBody string

	Attachments []model.AttachmentPayload

	// Raw is the complete RFC 822 message as received.
	Raw []byte
}

// ReadMessage parses raw into a Message. Malformed MIME degrades to a
// text-only message rather than failing.
func ReadMessage(uid UID, raw []byte) *Message {
	msg := &Message{UID: uid, Raw: raw}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		msg.TextBody = fallbackBody(raw)
		return msg
	}
	defer mr.Close()

	readHeader(msg, mr.Header)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			readInline(msg, h, part.Body)
		case *mail.AttachmentHeader:
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			msg.Attachments = append(msg.Attachments, model.AttachmentPayload{
				Filename:  filename,
				MimeType:  contentType,
				Content:   body,
				ContentID: contentID(h.Get("Content-Id")),
			})
		}
	}

	return msg
}

func readHeader(msg *Message, h mail.Header) {
	fields := h.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Header.Add(fields.Key(), value)
	}

	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	msg.From = addressList(h, "From")
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")
}

// addressList parses an address header, skipping entries without an address.
// A malformed list falls back to parsing each comma-separated entry alone.
func addressList(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		list = nil
		raw, _ := h.Text(key)
		for _, part := range strings.Split(raw, ",") {
			if a, err := mail.ParseAddress(strings.TrimSpace(part)); err == nil {
				list = append(list, a)
			}
		}
	}

	var out []Address
	for _, a := range list {
		if a == nil || strings.TrimSpace(a.Address) == "" {
			continue
		}
		out = append(out, Address{Name: a.Name, Address: a.Address})
	}
	return out
}

func readInline(msg *Message, h *mail.InlineHeader, r io.Reader) {
	body, err := io.ReadAll(r)
	if err != nil {
		return
	}
	contentType, params, _ := h.ContentType()

	switch {
	case contentType == "" || strings.HasPrefix(contentType, "text/plain"):
		if msg.TextBody == "" {
			msg.TextBody = string(body)
		}
	case strings.HasPrefix(contentType, "text/html"):
		if msg.HTMLBody == "" {
			msg.HTMLBody = string(body)
		}
	default:
		// Inline parts such as embedded images are kept as attachments.
		filename := params["name"]
		if _, dparams, err := h.ContentDisposition(); err == nil && dparams["filename"] != "" {
			filename = dparams["filename"]
		}
		msg.Attachments = append(msg.Attachments, model.AttachmentPayload{
			Filename:  filename,
			MimeType:  contentType,
			Content:   body,
			ContentID: contentID(h.Get("Content-Id")),
			IsInline:  true,
		})
	}
}

func contentID(v string) *string {
	v = strings.Trim(strings.TrimSpace(v), "<>")
	if v == "" {
		return nil
	}
	return &v
}

// fallbackBody returns what follows the first blank line, or all of raw.
func fallbackBody(raw []byte) string {
	s := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if i := strings.Index(s, "\n\n"); i >= 0 {
		return s[i+2:]
	}
	return s
}
