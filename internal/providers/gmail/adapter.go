package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/inbox-triage/internal/providers/circuit"
	"github.com/Martian-dev/inbox-triage/internal/triage"
)

// Config selects the Gmail account and unread filter
type Config struct {
	User  string // "me" for the token owner
	Query string // appended to "is:unread", e.g. "category:primary"
}

// Adapter implements triage.Mailbox for Gmail
type Adapter struct {
	svc    *gmail.Service
	cfg    Config
	cb     *circuit.Breaker
	logger *zap.Logger
}

// New creates a new Gmail adapter authenticated by ts
func New(ctx context.Context, ts oauth2.TokenSource, cfg Config, logger *zap.Logger) (*Adapter, error) {
	httpClient := oauth2.NewClient(ctx, ts)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return NewFromService(svc, cfg, logger), nil
}

// NewFromService wraps an existing Gmail service
func NewFromService(svc *gmail.Service, cfg Config, logger *zap.Logger) *Adapter {
	if cfg.User == "" {
		cfg.User = "me"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		svc:    svc,
		cfg:    cfg,
		cb:     circuit.New("gmail-api", isClientError, logger),
		logger: logger,
	}
}

// ListUnread returns unread messages matching the configured query, newest first
func (a *Adapter) ListUnread(ctx context.Context, limit int) ([]triage.MessageSummary, error) {
	q := "is:unread"
	if a.cfg.Query != "" {
		q += " " + a.cfg.Query
	}

	ids, err := a.list(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	out := make([]triage.MessageSummary, 0, len(ids))
	for _, id := range ids {
		m, err := a.GetMessage(ctx, id, triage.FormatMetadata)
		if err != nil {
			if errors.Is(err, triage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, m.Summary())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].InternalDate > out[j].InternalDate
	})
	return out, nil
}

// SearchMessages returns ids of messages exchanged with address
func (a *Adapter) SearchMessages(ctx context.Context, address string, limit int) ([]string, error) {
	ids, err := a.list(ctx, fmt.Sprintf("(%s)", address), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return ids, nil
}

func (a *Adapter) list(ctx context.Context, q string, limit int) ([]string, error) {
	var res *gmail.ListMessagesResponse
	err := a.cb.Do(func() error {
		var err error
		res, err = a.svc.Users.Messages.List(a.cfg.User).
			Q(q).
			MaxResults(int64(limit)).
			IncludeSpamTrash(false).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// GetMessage fetches one message in the requested format
func (a *Adapter) GetMessage(ctx context.Context, id string, format triage.Format) (*triage.Message, error) {
	call := a.svc.Users.Messages.Get(a.cfg.User, id).Format(string(format)).Context(ctx)
	if format == triage.FormatMetadata {
		call = call.MetadataHeaders("From", "To", "Subject", "Date", "Message-ID")
	}

	var m *gmail.Message
	err := a.cb.Do(func() error {
		var err error
		m, err = call.Do()
		return err
	})
	if err != nil {
		return nil, wrapError(err, "failed to get message "+id)
	}

	return normalize(m), nil
}

// CreateDraft stores a reply draft in the thread of the original message
func (a *Adapter) CreateDraft(ctx context.Context, d triage.Draft) (string, error) {
	raw := buildRawMessage(d)
	draft := &gmail.Draft{
		Message: &gmail.Message{
			Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
			ThreadId: d.ThreadID,
		},
	}

	var created *gmail.Draft
	err := a.cb.Do(func() error {
		var err error
		created, err = a.svc.Users.Drafts.Create(a.cfg.User, draft).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", wrapError(err, "failed to create draft")
	}

	a.logger.Debug("gmail draft created", zap.String("draft_id", created.Id))
	return fmt.Sprintf("Draft created successfully. Draft Id: %s", created.Id), nil
}

// normalize converts a Gmail message to triage.Message
func normalize(m *gmail.Message) *triage.Message {
	headers := make(map[string]string)
	var body string
	if m.Payload != nil {
		for _, kv := range m.Payload.Headers {
			headers[strings.ToLower(kv.Name)] = kv.Value
		}
		body = plainText(m.Payload)
	}

	return &triage.Message{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		MessageID:    strings.Trim(strings.TrimSpace(headers["message-id"]), "<>"),
		From:         headerOr(headers, "from", "Unknown"),
		To:           headerOr(headers, "to", "Unknown"),
		Subject:      headerOr(headers, "subject", "No Subject"),
		Date:         headerOr(headers, "date", "Unknown"),
		Body:         body,
		Snippet:      m.Snippet,
		InternalDate: m.InternalDate,
	}
}

func headerOr(headers map[string]string, name, fallback string) string {
	if v, ok := headers[name]; ok && v != "" {
		return v
	}
	return fallback
}

// plainText returns the first text/plain part of a payload
func plainText(part *gmail.MessagePart) string {
	if strings.HasPrefix(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, p := range part.Parts {
		if text := plainText(p); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

// buildRawMessage renders an RFC 2822 plain text reply
func buildRawMessage(d triage.Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", d.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", d.Subject)
	if id := strings.Trim(strings.TrimSpace(d.ParentMessageID), "<>"); id != "" {
		fmt.Fprintf(&b, "In-Reply-To: <%s>\r\n", id)
		fmt.Fprintf(&b, "References: <%s>\r\n", id)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(d.Body)
	return b.String()
}

func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
	}
	return false
}

func wrapError(err error, msg string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", msg, triage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
