package smtpmail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// MaxBodyChars is the visible body ceiling; longer content is truncated in the
// body and attached in full.
const MaxBodyChars = 50000

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

type outgoing struct {
	From      string
	To        string
	Subject   string
	Body      string
	InReplyTo string
	HTML      bool
	Now       time.Time
}

// truncate cuts content to MaxBodyChars characters and appends a footer
// naming the original length.
func truncate(content string, now time.Time) (string, bool) {
	runes := []rune(content)
	if len(runes) <= MaxBodyChars {
		return content, false
	}

	var b strings.Builder
	b.WriteString(string(runes[:MaxBodyChars]))
	b.WriteString("\n\n")
	b.WriteString(strings.Repeat("=", 60))
	fmt.Fprintf(&b, "\nOutput truncated (%d characters -> %d characters)\n", len(runes), MaxBodyChars)
	b.WriteString("Full output is attached\n")
	fmt.Fprintf(&b, "Sent at: %s", now.Format(time.DateTime))
	return b.String(), true
}

func attachmentName(now time.Time) string {
	return "claude_output_" + now.Format("20060102_150405") + ".txt"
}

func compose(m outgoing) ([]byte, error) {
	visible, truncated := truncate(m.Body, m.Now)

	var h mail.Header
	h.SetDate(m.Now)
	h.SetAddressList("From", []*mail.Address{{Address: m.From}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject)
	h.SetMessageID(uuid.NewString() + "@" + domainOf(m.From))
	if m.InReplyTo != "" {
		id := strings.TrimSuffix(strings.TrimPrefix(m.InReplyTo, "<"), ">")
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", []string{id})
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writeInline(tw, "text/plain", visible); err != nil {
		return nil, err
	}
	if m.HTML {
		var rendered bytes.Buffer
		if err := markdown.Convert([]byte(visible), &rendered); err != nil {
			return nil, fmt.Errorf("render html body: %w", err)
		}
		if err := writeInline(tw, "text/html", rendered.String()); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	if truncated {
		var ah mail.AttachmentHeader
		ah.SetContentType("application/octet-stream", nil)
		ah.SetFilename(attachmentName(m.Now))
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(aw, m.Body); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ih)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// replySubject adds "Re: " unless the subject already carries it.
func replySubject(subject string) string {
	if strings.HasPrefix(subject, "Re:") || strings.HasPrefix(subject, "RE:") {
		return subject
	}
	return "Re: " + subject
}
