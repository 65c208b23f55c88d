package triage

import (
	"fmt"
	"regexp"
	"strings"
)

const classifyTemplate = `You are a smart email classifier with long-term memory.
Based on the sender, subject, and content, decide if this email should be:
1. Ignored (promotions, newsletters, spam, social updates, or non-personal messages)
2. Processed (important, personal, work-related, or actionable)

Return only one word: "ignore" or "process".

**Ignore** emails that are:
* Promotional or marketing (sales, offers, discounts, newsletters)
* Automated system emails (confirmations, subscriptions, security alerts)
* Social notifications (LinkedIn, Instagram, YouTube, etc.)
* Event updates, ticket bookings, or receipts
* Recruitment spam, newsletters, or general HR ads
* Mails without a personal greeting or request for action
* Gaming promotions, rewards, or virtual currency offers
* No-reply senders with marketing content

**Process** emails that are:
* From known colleagues, professors, or managers
* Contain questions, requests, or project details
* Related to academic or professional tasks
* Require replies, reports, scheduling, or document review
* Have "urgent", "follow-up", or "update" in subject
* Personal correspondence with specific requests

EMAIL DETAILS:
From: %s
Subject: %s
Snippet: %s
`

const replyTemplate = `Draft a professional email response:

NEW EMAIL:
From: %s
Subject: %s
Body: %s

CONVERSATION HISTORY:
Total emails from sender: %d
%s

Create a thoughtful, professional response that:
1. Addresses the main points
2. Considers our conversation history
3. Is clear and concise

Write only the response body (no subject needed).`

const (
	classifyExcerptLimit = 500
	replyBodyLimit       = 1000
)

// ClassifyPrompt renders the ignore/process prompt for m
func ClassifyPrompt(m *Message) string {
	excerpt := head(m.Body, classifyExcerptLimit)
	if m.Body == "" {
		excerpt = head(m.Snippet, classifyExcerptLimit)
	}
	return fmt.Sprintf(classifyTemplate, m.From, m.Subject, excerpt)
}

// ReplyPrompt renders the reply-generation prompt for m with its history
func ReplyPrompt(m *Message, rec ConversationRecord) string {
	return fmt.Sprintf(replyTemplate,
		m.From,
		m.Subject,
		Truncate(m.Body, replyBodyLimit),
		rec.TotalCount,
		rec.Summary,
	)
}

// PromptKind tells the two prompt templates apart
type PromptKind string

const (
	PromptClassify PromptKind = "classify"
	PromptReply    PromptKind = "reply"
	PromptOther    PromptKind = "other"
)

const (
	classifyMarker = "You are a smart email classifier"
	replyMarker    = "Draft a professional email response"
)

var promptSenderPattern = regexp.MustCompile(`(?m)^From: (.*)$`)

// InspectPrompt reports which template produced prompt and the lowercased
// sender address it was rendered for. Text prepended to the template is
// ignored.
func InspectPrompt(prompt string) (PromptKind, string) {
	kind := PromptOther
	start := -1
	if i := strings.Index(prompt, classifyMarker); i >= 0 {
		kind, start = PromptClassify, i
	} else if i := strings.Index(prompt, replyMarker); i >= 0 {
		kind, start = PromptReply, i
	}
	if start < 0 {
		return kind, ""
	}

	m := promptSenderPattern.FindStringSubmatch(prompt[start:])
	if m == nil {
		return kind, ""
	}
	return kind, strings.ToLower(ExtractAddress(strings.TrimSpace(m[1])))
}
