package triage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Outcome is the result of triaging one message
type Outcome struct {
	CycleID           string      `json:"cycle_id"`
	MessageID         string      `json:"message_id"`
	From              string      `json:"from"`
	Subject           string      `json:"subject"`
	InternalDate      int64       `json:"internal_date"`
	Skipped           bool        `json:"skipped"`
	FetchError        string      `json:"fetch_error,omitempty"`
	Classification    string      `json:"classification,omitempty"`
	Verdict           Verdict     `json:"verdict,omitempty"`
	HistoryCount      int         `json:"history_count"`
	Drafted           bool        `json:"drafted"`
	DraftStatus       DraftStatus `json:"draft_status,omitempty"`
	DraftConfirmation string      `json:"draft_confirmation,omitempty"`
	DraftError        string      `json:"draft_error,omitempty"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        time.Time   `json:"finished_at"`
}

// Pipeline runs the fetch, classify, history, generate and draft sequence
// for a single message
type Pipeline struct {
	Mailbox  Mailbox
	Reasoner Reasoner
	History  *HistoryAggregator
	Tracker  *Tracker
	Pacer    Pacer
	Delays   Delays
	Logger   *zap.Logger

	// BodyLimit caps fetched bodies, 2000 characters when zero
	BodyLimit int
}

const defaultBodyLimit = 2000

// Process triages one message. Failures in any step are folded into the
// outcome and the message is always marked processed. Cancellation of ctx
// does not interrupt a message that has started.
func (p *Pipeline) Process(ctx context.Context, s MessageSummary) (out Outcome) {
	ctx = context.WithoutCancel(ctx)
	log := p.logger().With(zap.String("message_id", s.ID))

	out = Outcome{
		MessageID:    s.ID,
		From:         s.From,
		Subject:      s.Subject,
		InternalDate: s.InternalDate,
		StartedAt:    time.Now(),
	}
	defer func() { out.FinishedAt = time.Now() }()

	if p.Tracker.IsProcessed(s.ID) {
		out.Skipped = true
		log.Debug("message already processed")
		return out
	}
	defer p.Tracker.MarkProcessed(s.ID)

	msg, err := p.Mailbox.GetMessage(ctx, s.ID, FormatFull)
	if err != nil {
		log.Warn("failed to fetch message, using placeholder", zap.Error(err))
		out.FetchError = err.Error()
		msg = placeholder(s, err)
	}
	msg.Body = Truncate(msg.Body, p.bodyLimit())

	// Classify
	p.pace(ctx, p.Delays.Classify)
	out.Classification = p.complete(ctx, ClassifyPrompt(msg))
	out.Verdict = ParseVerdict(out.Classification)
	log.Info("classified message",
		zap.String("subject", msg.Subject),
		zap.String("verdict", string(out.Verdict)))
	if out.Verdict == VerdictIgnore {
		return out
	}

	rec := p.History.Aggregate(ctx, msg.From)
	out.HistoryCount = rec.TotalCount

	// Generate reply
	p.pace(ctx, p.Delays.Generate)
	reply := p.complete(ctx, ReplyPrompt(msg, rec))

	// Create draft
	p.pace(ctx, p.Delays.Draft)
	confirmation, err := p.Mailbox.CreateDraft(ctx, Draft{
		To:              msg.From,
		Subject:         ReplySubject(msg.Subject),
		Body:            reply,
		InReplyTo:       msg.ID,
		ThreadID:        msg.ThreadID,
		ParentMessageID: msg.MessageID,
	})
	if err != nil {
		log.Warn("draft creation failed", zap.Error(err))
		out.DraftError = err.Error()
		confirmation = fmt.Sprintf("Error: %v", err)
	}
	out.Drafted = true
	out.DraftConfirmation = confirmation
	out.DraftStatus = ParseDraftConfirmation(confirmation)
	log.Info("draft created",
		zap.String("draft_status", string(out.DraftStatus)),
		zap.Int("history_count", out.HistoryCount))

	return out
}

func (p *Pipeline) complete(ctx context.Context, prompt string) string {
	text, err := p.Reasoner.Complete(ctx, prompt)
	if err != nil {
		p.logger().Warn("reasoning call failed", zap.Error(err))
		return fmt.Sprintf("Error: %v", err)
	}
	return text
}

func (p *Pipeline) pace(ctx context.Context, d time.Duration) {
	if p.Pacer == nil {
		return
	}
	_ = p.Pacer.Wait(ctx, d)
}

func (p *Pipeline) bodyLimit() int {
	if p.BodyLimit <= 0 {
		return defaultBodyLimit
	}
	return p.BodyLimit
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func placeholder(s MessageSummary, err error) *Message {
	return &Message{
		ID:           s.ID,
		From:         "Unknown",
		To:           "Unknown",
		Subject:      "Error fetching email",
		Date:         "Unknown",
		Body:         fmt.Sprintf("Error: %v", err),
		InternalDate: s.InternalDate,
	}
}
