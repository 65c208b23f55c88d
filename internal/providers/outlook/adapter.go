package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/inbox-triage/internal/providers/circuit"
	"github.com/Martian-dev/inbox-triage/internal/triage"
)

var messageFields = []string{"id", "conversationId", "subject", "from", "toRecipients", "bodyPreview", "receivedDateTime", "internetMessageId"}

// Adapter implements triage.Mailbox for Outlook/Microsoft Graph
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
	userID string
	cb     *circuit.Breaker
	logger *zap.Logger
}

// New creates a new Outlook adapter. ts is consulted whenever the Graph
// client needs a fresh bearer token.
func New(ts oauth2.TokenSource, userID string, logger *zap.Logger) (*Adapter, error) {
	cred := &tokenSourceCredential{src: ts}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	if userID == "" {
		userID = "me"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		client: client,
		userID: userID,
		cb:     circuit.New("graph-api", isClientError, logger),
		logger: logger,
	}, nil
}

func (a *Adapter) messages() *users.ItemMessagesRequestBuilder {
	return a.client.Users().ByUserId(a.userID).Messages()
}

// ListUnread returns unread messages, newest first
func (a *Adapter) ListUnread(ctx context.Context, limit int) ([]triage.MessageSummary, error) {
	// Graph requires the orderby property to lead the filter
	filter := "receivedDateTime ge 1900-01-01T00:00:00Z and isRead eq false"
	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Filter:  &filter,
			Orderby: []string{"receivedDateTime desc"},
			Top:     Int32Ptr(int32(limit)),
			Select:  messageFields,
		},
	}

	var result models.MessageCollectionResponseable
	err := a.cb.Do(func() error {
		var err error
		result, err = a.messages().Get(ctx, requestConfig)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", wrapError(err))
	}

	out := make([]triage.MessageSummary, 0, len(result.GetValue()))
	for _, msg := range result.GetValue() {
		out = append(out, normalizeOutlook(msg).Summary())
	}
	return out, nil
}

// SearchMessages returns ids of messages mentioning address
func (a *Adapter) SearchMessages(ctx context.Context, address string, limit int) ([]string, error) {
	search := fmt.Sprintf("%q", address)
	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Search: &search,
			Top:    Int32Ptr(int32(limit)),
			Select: []string{"id"},
		},
	}

	var result models.MessageCollectionResponseable
	err := a.cb.Do(func() error {
		var err error
		result, err = a.messages().Get(ctx, requestConfig)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", wrapError(err))
	}

	var ids []string
	for _, msg := range result.GetValue() {
		if id := msg.GetId(); id != nil {
			ids = append(ids, *id)
		}
	}
	return ids, nil
}

// GetMessage fetches one message; full format asks Graph for a text body
func (a *Adapter) GetMessage(ctx context.Context, id string, format triage.Format) (*triage.Message, error) {
	fields := messageFields
	requestConfig := &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{},
	}
	if format == triage.FormatFull {
		fields = append(append([]string{}, messageFields...), "body")
		headers := abstractions.NewRequestHeaders()
		headers.Add("Prefer", `outlook.body-content-type="text"`)
		requestConfig.Headers = headers
	}
	requestConfig.QueryParameters.Select = fields

	var msg models.Messageable
	err := a.cb.Do(func() error {
		var err error
		msg, err = a.messages().ByMessageId(id).Get(ctx, requestConfig)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, wrapError(err))
	}

	return normalizeOutlook(msg), nil
}

// CreateDraft creates an unsent message, which Graph stores in Drafts
func (a *Adapter) CreateDraft(ctx context.Context, d triage.Draft) (string, error) {
	msg := buildDraft(d)

	var created models.Messageable
	err := a.cb.Do(func() error {
		var err error
		created, err = a.messages().Post(ctx, msg, nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create draft: %w", wrapError(err))
	}

	id := ""
	if created != nil && created.GetId() != nil {
		id = *created.GetId()
	}
	a.logger.Debug("outlook draft created", zap.String("draft_id", id))
	return fmt.Sprintf("Draft created successfully. Draft Id: %s", id), nil
}

func buildDraft(d triage.Draft) models.Messageable {
	msg := models.NewMessage()
	subject := d.Subject
	msg.SetSubject(&subject)

	body := models.NewItemBody()
	contentType := models.TEXT_BODYTYPE
	content := d.Body
	body.SetContentType(&contentType)
	body.SetContent(&content)
	msg.SetBody(body)

	addr := triage.ExtractAddress(d.To)
	email := models.NewEmailAddress()
	email.SetAddress(&addr)
	recipient := models.NewRecipient()
	recipient.SetEmailAddress(email)
	msg.SetToRecipients([]models.Recipientable{recipient})

	if d.ThreadID != "" {
		conv := d.ThreadID
		msg.SetConversationId(&conv)
	}
	return msg
}

// normalizeOutlook converts an Outlook message to triage.Message
func normalizeOutlook(m models.Messageable) *triage.Message {
	meta := &triage.Message{
		From:    "Unknown",
		To:      "Unknown",
		Subject: "No Subject",
		Date:    "Unknown",
	}

	if id := m.GetId(); id != nil {
		meta.ID = *id
	}

	if convID := m.GetConversationId(); convID != nil {
		meta.ThreadID = *convID
	}

	if msgID := m.GetInternetMessageId(); msgID != nil {
		meta.MessageID = strings.Trim(*msgID, "<>")
	}

	if subject := m.GetSubject(); subject != nil && *subject != "" {
		meta.Subject = *subject
	}

	if from := m.GetFrom(); from != nil {
		if addr := formatAddress(from); addr != "" {
			meta.From = addr
		}
	}

	if to := m.GetToRecipients(); len(to) > 0 {
		meta.To = strings.Join(extractAddresses(to), ", ")
	}

	if preview := m.GetBodyPreview(); preview != nil {
		meta.Snippet = *preview
	}

	if body := m.GetBody(); body != nil && body.GetContent() != nil {
		meta.Body = *body.GetContent()
	}

	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		meta.InternalDate = rcvd.UnixMilli()
		meta.Date = rcvd.Format(time.RFC1123Z)
	}

	return meta
}

func formatAddress(r models.Recipientable) string {
	emailAddr := r.GetEmailAddress()
	if emailAddr == nil || emailAddr.GetAddress() == nil {
		return ""
	}
	if name := emailAddr.GetName(); name != nil && *name != "" {
		return fmt.Sprintf("%s <%s>", *name, *emailAddr.GetAddress())
	}
	return *emailAddr.GetAddress()
}

// extractAddresses extracts email addresses from recipients
func extractAddresses(recipients []models.Recipientable) []string {
	var addrs []string
	for _, r := range recipients {
		if addr := formatAddress(r); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

func statusCode(err error) int {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		return odataErr.ResponseStatusCode
	}
	return 0
}

func isClientError(err error) bool {
	code := statusCode(err)
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func wrapError(err error) error {
	if statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", triage.ErrNotFound, err)
	}
	return err
}

// tokenSourceCredential adapts an oauth2.TokenSource to azcore.TokenCredential
type tokenSourceCredential struct {
	src oauth2.TokenSource
}

func (c *tokenSourceCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.src.Token()
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to get Microsoft token: %w", err)
	}
	expiresOn := tok.Expiry
	if expiresOn.IsZero() {
		expiresOn = time.Now().Add(1 * time.Hour)
	}
	return azcore.AccessToken{
		Token:     tok.AccessToken,
		ExpiresOn: expiresOn,
	}, nil
}

// Int32Ptr returns a pointer to an int32
func Int32Ptr(i int32) *int32 {
	return &i
}
