package mailparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParsePlainText(t *testing.T) {
	raw := crlf(`From: Alice Example <alice@example.com>
To: bridge@example.com
Subject: run tests
Message-ID: <m1@example.com>
Content-Type: text/plain; charset=utf-8

please run the unit tests

On Mon, Mar 2, 2026 at 10:00 Bob wrote:
> earlier text
`)

	pm, err := New(nil).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", pm.Sender)
	assert.Equal(t, "run tests", pm.Subject)
	assert.Equal(t, "m1@example.com", pm.MessageID)
	assert.Equal(t, "please run the unit tests", pm.Command)
	assert.True(t, pm.Whitelisted)

	job := pm.Job()
	assert.Equal(t, "m1@example.com", job.DedupKey)
	assert.Equal(t, "run tests", job.Subject)
}

func TestParseEncodedSubject(t *testing.T) {
	raw := crlf(`From: bob@example.com
Subject: =?UTF-8?B?5pu05paw5paH5qGj?=
Content-Type: text/plain; charset=utf-8

update docs
`)

	pm, err := New(nil).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "更新文档", pm.Subject)
	assert.Equal(t, "bob@example.com", pm.Sender)
	assert.Empty(t, pm.MessageID)
}

func TestParsePrefersPlainOverHTML(t *testing.T) {
	raw := crlf(`From: a@x.com
Subject: multi
Message-ID: <m2@x.com>
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/html; charset=utf-8

<p>html version</p>
--b1
Content-Type: text/plain; charset=utf-8

plain version
--b1--
`)

	pm, err := New(nil).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "plain version", pm.Command)
}

func TestParseHTMLFallback(t *testing.T) {
	raw := crlf(`From: a@x.com
Subject: html only
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/html; charset=utf-8

<html><head><style>p {color: red}</style></head><body><p>list   the</p><div>open <b>issues</b></div></body></html>
--b1
Content-Type: text/plain
Content-Disposition: attachment; filename="notes.txt"

attachment text must be ignored
--b1--
`)

	pm, err := New(nil).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "list the open issues", pm.Command)
}

func TestParseQuotedPrintable(t *testing.T) {
	raw := crlf(`From: a@x.com
Subject: qp
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

caf=C3=A9 menu
`)

	pm, err := New(nil).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "café menu", pm.Command)
}

func TestWhitelist(t *testing.T) {
	tests := []struct {
		name      string
		whitelist []string
		sender    string
		want      bool
	}{
		{"empty list accepts all", nil, "anyone@else.org", true},
		{"blank entries ignored", []string{" ", ""}, "anyone@else.org", true},
		{"exact address", []string{"a@x.com"}, "a@x.com", true},
		{"domain substring", []string{"@x.com"}, "b@x.com", true},
		{"case insensitive", []string{"A@X.COM"}, "a@x.com", true},
		{"not listed", []string{"a@x.com"}, "eve@evil.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.whitelist).Whitelisted(tt.sender))
		})
	}
}

func TestParseMarksRejectedSender(t *testing.T) {
	raw := crlf(`From: "Eve" <eve@evil.com>
Subject: hi
Content-Type: text/plain

rm -rf /
`)

	pm, err := New([]string{"a@x.com"}).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "eve@evil.com", pm.Sender)
	assert.False(t, pm.Whitelisted)
}

func TestStripQuoted(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no quotes", "do the thing\nand more", "do the thing\nand more"},
		{"quote lines removed", "do it\n> old\n  > older\ndone", "do it\ndone"},
		{"original message separator", "new text\n----- Original Message -----\nold text", "new text"},
		{"forward separator case", "fw\n___ forwarded message\nbody", "fw"},
		{"attribution", "answer\nOn Tue, someone wrote:\n> hi", "answer"},
		{"crlf", "line one\r\nline two\r\n", "line one\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripQuoted(tt.in))
		})
	}
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText("<title>x</title><script>alert(1)</script><p>Hello<br>world</p>\n\n<p>again</p>")
	assert.Equal(t, "Hello world again", got)
}
