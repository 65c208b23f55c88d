package outlook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/inbox-triage/internal/triage"
)

func strPtr(s string) *string { return &s }

func recipient(name, addr string) models.Recipientable {
	email := models.NewEmailAddress()
	email.SetAddress(strPtr(addr))
	if name != "" {
		email.SetName(strPtr(name))
	}
	r := models.NewRecipient()
	r.SetEmailAddress(email)
	return r
}

func TestNormalizeOutlook(t *testing.T) {
	received := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	m := models.NewMessage()
	m.SetId(strPtr("AAMk1"))
	m.SetConversationId(strPtr("conv-1"))
	m.SetSubject(strPtr("Status"))
	m.SetFrom(recipient("Jane Doe", "jane@x.com"))
	m.SetToRecipients([]models.Recipientable{recipient("", "me@y.com"), recipient("", "team@y.com")})
	m.SetBodyPreview(strPtr("quick preview"))
	m.SetReceivedDateTime(&received)
	m.SetInternetMessageId(strPtr("<abc@outlook.com>"))
	body := models.NewItemBody()
	body.SetContent(strPtr("full text"))
	m.SetBody(body)

	got := normalizeOutlook(m)
	assert.Equal(t, "AAMk1", got.ID)
	assert.Equal(t, "conv-1", got.ThreadID)
	assert.Equal(t, "abc@outlook.com", got.MessageID)
	assert.Equal(t, "Jane Doe <jane@x.com>", got.From)
	assert.Equal(t, "me@y.com, team@y.com", got.To)
	assert.Equal(t, "Status", got.Subject)
	assert.Equal(t, "full text", got.Body)
	assert.Equal(t, "quick preview", got.Snippet)
	assert.Equal(t, received.UnixMilli(), got.InternalDate)
}

func TestNormalizeOutlook_Defaults(t *testing.T) {
	got := normalizeOutlook(models.NewMessage())
	assert.Equal(t, "Unknown", got.From)
	assert.Equal(t, "No Subject", got.Subject)
	assert.Equal(t, "Unknown", got.Date)
	assert.Zero(t, got.InternalDate)
}

func TestBuildDraft(t *testing.T) {
	msg := buildDraft(triage.Draft{
		To:       "Jane <jane@x.com>",
		Subject:  "Re: Status",
		Body:     "On it.",
		ThreadID: "conv-1",
	})

	assert.Equal(t, "Re: Status", *msg.GetSubject())
	assert.Equal(t, "On it.", *msg.GetBody().GetContent())
	assert.Equal(t, models.TEXT_BODYTYPE, *msg.GetBody().GetContentType())
	require.Len(t, msg.GetToRecipients(), 1)
	assert.Equal(t, "jane@x.com", *msg.GetToRecipients()[0].GetEmailAddress().GetAddress())
	assert.Equal(t, "conv-1", *msg.GetConversationId())
}

func TestWrapError(t *testing.T) {
	notFound := odataerrors.NewODataError()
	notFound.ResponseStatusCode = 404
	assert.ErrorIs(t, wrapError(notFound), triage.ErrNotFound)
	assert.True(t, isClientError(fmt.Errorf("get: %w", notFound)))

	throttled := odataerrors.NewODataError()
	throttled.ResponseStatusCode = 429
	assert.NotErrorIs(t, wrapError(throttled), triage.ErrNotFound)
	assert.False(t, isClientError(throttled))

	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, wrapError(plain))
	assert.False(t, isClientError(plain))
}

func TestTokenSourceCredential(t *testing.T) {
	expiry := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	cred := &tokenSourceCredential{src: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", Expiry: expiry})}

	tok, err := cred.GetToken(context.Background(), policy.TokenRequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Token)
	assert.Equal(t, expiry, tok.ExpiresOn)

	noExpiry := &tokenSourceCredential{src: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})}
	tok, err = noExpiry.GetToken(context.Background(), policy.TokenRequestOptions{})
	require.NoError(t, err)
	assert.True(t, tok.ExpiresOn.After(time.Now()))
}
