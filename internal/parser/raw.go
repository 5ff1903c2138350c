package parser

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/nhle/mailarchive/internal/model"
)

var (
	headerLine   = regexp.MustCompile(`^([^:\s][^:]*):\s*(.+)$`)
	bracketed    = regexp.MustCompile(`<([^>]+)>`)
	namedAddress = regexp.MustCompile(`^(.+?)\s*<[^>]+>$`)
)

// dateLayouts are tried after net/mail's RFC 5322 parser.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// splitRaw separates the header block from the body at the first blank line
// and collects "name: value" headers in order. Folded continuation lines are
// appended to the previous header.
func splitRaw(raw []byte) (model.Headers, string) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var headers model.Headers
	var lastName string
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			return headers, strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
		if (line[0] == ' ' || line[0] == '\t') && lastName != "" {
			unfold(headers, lastName, strings.TrimSpace(line))
			continue
		}
		m := headerLine.FindStringSubmatch(line)
		if m == nil {
			lastName = ""
			continue
		}
		lastName = strings.TrimSpace(m[1])
		headers.Add(lastName, strings.TrimSpace(m[2]))
	}
	return headers, ""
}

// unfold appends a continuation line to the latest value of name.
func unfold(h model.Headers, name, cont string) {
	values := h.Values(name)
	if len(values) == 0 || cont == "" {
		return
	}
	values[len(values)-1] += " " + cont
}

// extractAddress returns the bracketed address if present, else the trimmed input.
func extractAddress(s string) string {
	if m := bracketed.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// extractName returns the display name preceding "<address>", or nil.
func extractName(s string) *string {
	m := namedAddress.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil
	}
	name := strings.Trim(m[1], " \"'")
	if name == "" {
		return nil
	}
	return &name
}

// addressList splits a comma-separated header into addresses. An empty
// result is nil.
func addressList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if a := extractAddress(part); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// references returns every bracketed token, or nil when there are none.
func references(s string) []string {
	matches := bracketed.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// parseDate parses a Date header, reporting false when it cannot.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeMessageID strips whitespace and enclosing angle brackets.
func normalizeMessageID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
