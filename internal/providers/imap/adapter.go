// Package imap implements triage.Mailbox over IMAP4rev1/rev2.
package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/triage"
)

// Config holds the IMAP server settings
type Config struct {
	Host          string
	Port          int
	Username      string
	Password      string
	TLS           bool
	Mailbox       string // watched mailbox, INBOX by default
	SentMailbox   string // searched for outgoing history when set
	DraftsMailbox string
}

// Adapter implements triage.Mailbox over IMAP. Every call opens its own
// connection.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an IMAP adapter
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.DraftsMailbox == "" {
		cfg.DraftsMailbox = "Drafts"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, logger: logger}
}

func (a *Adapter) connect() (*imapclient.Client, error) {
	addr := a.cfg.Host + ":" + strconv.Itoa(a.cfg.Port)

	var client *imapclient.Client
	var err error
	if a.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(a.cfg.Username, a.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("authentication failed for %s: %w", a.cfg.Username, err)
	}
	return client, nil
}

// session runs fn on a logged-in connection that is closed afterwards.
// The connection is also closed if ctx ends first, which aborts fn.
func (a *Adapter) session(ctx context.Context, fn func(*imapclient.Client) error) error {
	client, err := a.connect()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()
	defer func() { _ = client.Logout().Wait() }()

	return fn(client)
}

// ListUnread returns unseen messages in the watched mailbox, newest first
func (a *Adapter) ListUnread(ctx context.Context, limit int) ([]triage.MessageSummary, error) {
	var out []triage.MessageSummary
	err := a.session(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(a.cfg.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", a.cfg.Mailbox, err)
		}

		data, err := c.UIDSearch(&imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching unseen messages: %w", err)
		}

		uids := newestUIDs(data.AllUIDs(), limit)
		if len(uids) == 0 {
			return nil
		}

		msgs, err := fetch(c, uids, &imap.FetchOptions{Envelope: true, InternalDate: true, UID: true})
		if err != nil {
			return err
		}
		for _, buf := range msgs {
			out = append(out, normalize(a.cfg.Mailbox, buf, "").Summary())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].InternalDate > out[j].InternalDate })
	return out, nil
}

// SearchMessages returns ids of messages from or to address in the watched
// and sent mailboxes, newest first
func (a *Adapter) SearchMessages(ctx context.Context, address string, limit int) ([]string, error) {
	criteria := &imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{
			{Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: address}}},
			{Header: []imap.SearchCriteriaHeaderField{{Key: "To", Value: address}}},
		}},
	}

	mailboxes := []string{a.cfg.Mailbox}
	if a.cfg.SentMailbox != "" {
		mailboxes = append(mailboxes, a.cfg.SentMailbox)
	}

	type hit struct {
		id   string
		date time.Time
	}
	var hits []hit
	err := a.session(ctx, func(c *imapclient.Client) error {
		for _, mbox := range mailboxes {
			if _, err := c.Select(mbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
				return fmt.Errorf("selecting %s: %w", mbox, err)
			}
			data, err := c.UIDSearch(criteria, nil).Wait()
			if err != nil {
				return fmt.Errorf("searching %s: %w", mbox, err)
			}
			uids := newestUIDs(data.AllUIDs(), limit)
			if len(uids) == 0 {
				continue
			}
			msgs, err := fetch(c, uids, &imap.FetchOptions{InternalDate: true, UID: true})
			if err != nil {
				return err
			}
			for _, buf := range msgs {
				hits = append(hits, hit{id: formatID(mbox, buf.UID), date: buf.InternalDate})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].date.After(hits[j].date) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

// GetMessage fetches the envelope and, for full format, the text body
func (a *Adapter) GetMessage(ctx context.Context, id string, format triage.Format) (*triage.Message, error) {
	mbox, uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var msg *triage.Message
	err = a.session(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(mbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", mbox, err)
		}

		opts := &imap.FetchOptions{Envelope: true, InternalDate: true, UID: true}
		var section *imap.FetchItemBodySection
		if format == triage.FormatFull {
			section = &imap.FetchItemBodySection{Peek: true}
			opts.BodySection = []*imap.FetchItemBodySection{section}
		}

		msgs, err := fetch(c, []imap.UID{uid}, opts)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("message %s: %w", id, triage.ErrNotFound)
		}

		var body string
		if section != nil {
			body = textBody(msgs[0].FindBodySection(section))
		}
		msg = normalize(mbox, msgs[0], body)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateDraft appends a \Draft message to the drafts mailbox
func (a *Adapter) CreateDraft(ctx context.Context, d triage.Draft) (string, error) {
	raw, err := buildDraft(d, a.cfg.Username, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to build draft: %w", err)
	}

	var uid imap.UID
	err = a.session(ctx, func(c *imapclient.Client) error {
		cmd := c.Append(a.cfg.DraftsMailbox, int64(len(raw)), &imap.AppendOptions{
			Flags: []imap.Flag{imap.FlagDraft, imap.FlagSeen},
			Time:  time.Now(),
		})
		if _, err := cmd.Write(raw); err != nil {
			return fmt.Errorf("writing draft: %w", err)
		}
		if err := cmd.Close(); err != nil {
			return fmt.Errorf("closing append: %w", err)
		}
		data, err := cmd.Wait()
		if err != nil {
			return fmt.Errorf("appending draft: %w", err)
		}
		uid = data.UID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create draft: %w", err)
	}

	if uid == 0 {
		// Server lacks UIDPLUS
		return fmt.Sprintf("Draft appended to %s", a.cfg.DraftsMailbox), nil
	}
	return fmt.Sprintf("Draft created successfully. Draft Id: %s", formatID(a.cfg.DraftsMailbox, uid)), nil
}

func fetch(c *imapclient.Client, uids []imap.UID, opts *imap.FetchOptions) ([]*imapclient.FetchMessageBuffer, error) {
	cmd := c.Fetch(imap.UIDSetNum(uids...), opts)

	var out []*imapclient.FetchMessageBuffer
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		out = append(out, buf)
	}

	if err := cmd.Close(); err != nil {
		return out, fmt.Errorf("fetching messages: %w", err)
	}
	return out, nil
}

// newestUIDs returns at most limit of the highest UIDs, highest first
func newestUIDs(uids []imap.UID, limit int) []imap.UID {
	sorted := append([]imap.UID(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func formatID(mailbox string, uid imap.UID) string {
	return mailbox + ":" + strconv.FormatUint(uint64(uid), 10)
}

func parseID(id string) (string, imap.UID, error) {
	i := strings.LastIndex(id, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed IMAP message id %q", id)
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("malformed IMAP message id %q", id)
	}
	return id[:i], imap.UID(n), nil
}

// normalize converts a fetched message to triage.Message
func normalize(mailbox string, buf *imapclient.FetchMessageBuffer, body string) *triage.Message {
	m := &triage.Message{
		ID:           formatID(mailbox, buf.UID),
		From:         "Unknown",
		To:           "Unknown",
		Subject:      "No Subject",
		Date:         "Unknown",
		Body:         body,
		InternalDate: buf.InternalDate.UnixMilli(),
	}

	if env := buf.Envelope; env != nil {
		m.ThreadID = env.MessageID
		m.MessageID = env.MessageID
		if env.Subject != "" {
			m.Subject = env.Subject
		}
		if !env.Date.IsZero() {
			m.Date = env.Date.Format(time.RFC1123Z)
		}
		if len(env.From) > 0 {
			m.From = formatAddress(env.From[0])
		}
		if len(env.To) > 0 {
			to := make([]string, 0, len(env.To))
			for _, addr := range env.To {
				to = append(to, formatAddress(addr))
			}
			m.To = strings.Join(to, ", ")
		}
	}

	m.Snippet = snippet(body)
	return m
}

func formatAddress(addr imap.Address) string {
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, addr.Addr())
	}
	return addr.Addr()
}

func snippet(body string) string {
	return triage.Truncate(strings.Join(strings.Fields(body), " "), 200)
}

// textBody extracts the text/plain part of a raw RFC 5322 message
func textBody(raw []byte) string {
	if raw == nil {
		return ""
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
			continue
		}
		b, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		return string(b)
	}
}

// buildDraft renders a plain text reply with go-message
func buildDraft(d triage.Draft, from string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(d.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	to, err := mail.ParseAddress(d.To)
	if err != nil {
		to = &mail.Address{Address: triage.ExtractAddress(d.To)}
	}
	h.SetAddressList("To", []*mail.Address{to})
	if from != "" && strings.Contains(from, "@") {
		h.SetAddressList("From", []*mail.Address{{Address: from}})
	}
	parent := d.ParentMessageID
	if parent == "" {
		parent = d.ThreadID
	}
	if parent = strings.Trim(strings.TrimSpace(parent), "<>"); parent != "" {
		h.SetMsgIDList("In-Reply-To", []string{parent})
		h.SetMsgIDList("References", []string{parent})
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, d.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
