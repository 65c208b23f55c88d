package imap

import (
	"bytes"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-triage/internal/triage"
)

func TestMessageID(t *testing.T) {
	id := formatID("INBOX", 42)
	assert.Equal(t, "INBOX:42", id)

	mbox, uid, err := parseID(id)
	require.NoError(t, err)
	assert.Equal(t, "INBOX", mbox)
	assert.Equal(t, imap.UID(42), uid)

	mbox, uid, err = parseID("[Gmail]/Sent Mail:7")
	require.NoError(t, err)
	assert.Equal(t, "[Gmail]/Sent Mail", mbox)
	assert.Equal(t, imap.UID(7), uid)

	for _, bad := range []string{"", "INBOX", ":3", "INBOX:x", "INBOX:0"} {
		_, _, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewestUIDs(t *testing.T) {
	uids := []imap.UID{3, 9, 1, 7, 5}
	assert.Equal(t, []imap.UID{9, 7, 5}, newestUIDs(uids, 3))
	assert.Equal(t, []imap.UID{9, 7, 5, 3, 1}, newestUIDs(uids, 0))
	assert.Equal(t, []imap.UID{3, 9, 1, 7, 5}, uids, "input must not be reordered")
	assert.Empty(t, newestUIDs(nil, 5))
}

func TestNormalize(t *testing.T) {
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID:          12,
		InternalDate: received,
		Envelope: &imap.Envelope{
			Date:      received,
			Subject:   "Quarterly numbers",
			From:      []imap.Address{{Name: "Jane Doe", Mailbox: "jane", Host: "x.com"}},
			To:        []imap.Address{{Mailbox: "me", Host: "y.com"}, {Name: "Bob", Mailbox: "bob", Host: "y.com"}},
			MessageID: "abc@x.com",
		},
	}

	m := normalize("INBOX", buf, "Hello\n\n  there")
	assert.Equal(t, "INBOX:12", m.ID)
	assert.Equal(t, "abc@x.com", m.ThreadID)
	assert.Equal(t, "Jane Doe <jane@x.com>", m.From)
	assert.Equal(t, "me@y.com, Bob <bob@y.com>", m.To)
	assert.Equal(t, "Quarterly numbers", m.Subject)
	assert.Equal(t, received.UnixMilli(), m.InternalDate)
	assert.Equal(t, "Hello there", m.Snippet)
	assert.Equal(t, "jane@x.com", triage.ExtractAddress(m.From))
}

func TestNormalize_MissingEnvelope(t *testing.T) {
	m := normalize("INBOX", &imapclient.FetchMessageBuffer{UID: 1}, "")
	assert.Equal(t, "Unknown", m.From)
	assert.Equal(t, "No Subject", m.Subject)
	assert.Equal(t, "Unknown", m.Date)
	assert.Empty(t, m.Snippet)
}

func TestTextBody(t *testing.T) {
	raw := "From: jane@x.com\r\n" +
		"Subject: hi\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>html</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain text body\r\n" +
		"--XYZ--\r\n"

	assert.Equal(t, "plain text body", textBody([]byte(raw)))
	assert.Empty(t, textBody(nil))
}

func TestBuildDraft(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	raw, err := buildDraft(triage.Draft{
		To:       "Jane Doe <jane@x.com>",
		Subject:  "Re: Quarterly numbers",
		Body:     "Thanks, will do.",
		ThreadID: "abc@x.com",
	}, "me@y.com", now)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Quarterly numbers", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "jane@x.com", to[0].Address)

	inReplyTo, err := mr.Header.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc@x.com"}, inReplyTo)

	assert.Contains(t, string(raw), "Thanks, will do.")
}

func TestBuildDraft_PrefersParentMessageID(t *testing.T) {
	raw, err := buildDraft(triage.Draft{
		To:              "jane@x.com",
		Subject:         "Re: Hi",
		Body:            "ok",
		ThreadID:        "thread@x.com",
		ParentMessageID: "<parent@x.com>",
	}, "me@y.com", time.Now())
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	refs, err := mr.Header.MsgIDList("References")
	require.NoError(t, err)
	assert.Equal(t, []string{"parent@x.com"}, refs)
}
