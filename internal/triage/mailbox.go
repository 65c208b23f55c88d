package triage

import (
	"context"
	"errors"
)

// ProviderName identifies the mailbox backend
type ProviderName string

const (
	ProviderGoogle    ProviderName = "GOOGLE"
	ProviderMicrosoft ProviderName = "MICROSOFT"
	ProviderIMAP      ProviderName = "IMAP"
)

// Format selects how much of a message a mailbox returns
type Format string

const (
	FormatMetadata Format = "metadata"
	FormatFull     Format = "full"
)

// ErrNotFound is returned by a Mailbox when a message id no longer resolves.
var ErrNotFound = errors.New("message not found")

// MessageSummary is the listing view of an unread message
type MessageSummary struct {
	ID           string
	From         string
	Subject      string
	Date         string
	InternalDate int64 // epoch ms, ordering key
}

// Message represents normalized message content across providers
type Message struct {
	ID           string
	ThreadID     string
	MessageID    string // RFC 5322 Message-ID header, without angle brackets
	From         string
	To           string
	Subject      string
	Date         string
	Body         string // plain text
	Snippet      string
	InternalDate int64
}

// Summary returns the listing view of m
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		ID:           m.ID,
		From:         m.From,
		Subject:      m.Subject,
		Date:         m.Date,
		InternalDate: m.InternalDate,
	}
}

// Draft is an unsent reply
type Draft struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string // provider message id being answered
	ThreadID  string
	// ParentMessageID is the Message-ID header of the message being
	// answered. Adapters emit it as In-Reply-To and References.
	ParentMessageID string
}

// Mailbox interface for provider-agnostic inbox access
type Mailbox interface {
	// ListUnread returns up to limit unread messages, newest first.
	ListUnread(ctx context.Context, limit int) ([]MessageSummary, error)

	// SearchMessages returns ids of up to limit messages sent to or
	// received from address, newest first.
	SearchMessages(ctx context.Context, address string, limit int) ([]string, error)

	// GetMessage fetches a single message. Missing ids yield ErrNotFound.
	GetMessage(ctx context.Context, id string, format Format) (*Message, error)

	// CreateDraft stores a draft and returns the provider's confirmation text.
	CreateDraft(ctx context.Context, draft Draft) (string, error)
}

// Reasoner turns a prompt into text
type Reasoner interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
