// Package mailparse turns raw RFC 5322 messages into job requests.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"mailbridge/internal/domain"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var angleAddr = regexp.MustCompile(`<(.+?)>`)

// Parser is safe for concurrent use; its whitelist is fixed at construction.
type Parser struct {
	whitelist []string
}

func New(whitelist []string) *Parser {
	wl := make([]string, 0, len(whitelist))
	for _, w := range whitelist {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			wl = append(wl, w)
		}
	}
	return &Parser{whitelist: wl}
}

// Whitelisted accepts every sender when the whitelist is empty, otherwise a
// sender containing any entry (case-insensitive).
func (p *Parser) Whitelisted(sender string) bool {
	if len(p.whitelist) == 0 {
		return true
	}
	s := strings.ToLower(sender)
	for _, w := range p.whitelist {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func (p *Parser) Parse(raw []byte) (domain.ParsedMail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return domain.ParsedMail{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	sender := extractSender(mr.Header)
	pm := domain.ParsedMail{
		Sender:      sender,
		Subject:     extractSubject(mr.Header),
		MessageID:   extractMessageID(mr.Header),
		Whitelisted: p.Whitelisted(sender),
	}

	body, err := extractBody(mr)
	if err != nil {
		return pm, err
	}
	pm.Command = strings.TrimSpace(StripQuoted(body))
	return pm, nil
}

func extractSender(h mail.Header) string {
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		return strings.TrimSpace(addrs[0].Address)
	}
	from := h.Get("From")
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(from)
}

func extractSubject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		return h.Get("Subject")
	}
	return s
}

func extractMessageID(h mail.Header) string {
	id, err := h.MessageID()
	if err == nil && id != "" {
		return id
	}
	raw := strings.TrimSpace(h.Get("Message-Id"))
	return strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
}

// extractBody returns the first non-empty text/plain part, falling back to
// the first text/html part reduced to text. Attachments are ignored.
func extractBody(mr *mail.Reader) (string, error) {
	var html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			return "", fmt.Errorf("read part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil {
			ct = "text/plain"
		}

		switch ct {
		case "text/plain":
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("read text part: %w", err)
			}
			if len(bytes.TrimSpace(b)) > 0 {
				return string(b), nil
			}
		case "text/html":
			if html != "" {
				continue
			}
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("read html part: %w", err)
			}
			html = string(b)
		}
	}
	if html != "" {
		return HTMLToText(html), nil
	}
	return "", nil
}
