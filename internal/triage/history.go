package triage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Direction of a history entry relative to the counterpart
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// HistoryEntry is one prior message with the counterpart
type HistoryEntry struct {
	ID        string
	From      string
	To        string
	Subject   string
	Date      string
	Snippet   string
	Direction Direction
}

// ConversationRecord is the rendered history with one address
type ConversationRecord struct {
	Address    string
	Entries    []HistoryEntry
	Summary    string
	TotalCount int
}

var addressPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+`)

// ExtractAddress pulls the bare address out of a From header such as
// "Jane <jane@x.com>". The raw value is returned when nothing matches.
func ExtractAddress(sender string) string {
	if addr := addressPattern.FindString(sender); addr != "" {
		return addr
	}
	return sender
}

// HistoryAggregator builds conversation context for a sender
type HistoryAggregator struct {
	mailbox      Mailbox
	limit        int
	summaryLimit int
	logger       *zap.Logger
}

// NewHistoryAggregator creates an aggregator capped at limit messages and a
// summary of summaryLimit characters
func NewHistoryAggregator(mailbox Mailbox, limit, summaryLimit int, logger *zap.Logger) *HistoryAggregator {
	if limit <= 0 {
		limit = 20
	}
	if summaryLimit <= 0 {
		summaryLimit = 1500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryAggregator{
		mailbox:      mailbox,
		limit:        limit,
		summaryLimit: summaryLimit,
		logger:       logger,
	}
}

// Aggregate searches both directions of the conversation with sender.
// It never fails: search errors are folded into the summary.
func (h *HistoryAggregator) Aggregate(ctx context.Context, sender string) ConversationRecord {
	addr := ExtractAddress(sender)
	rec := ConversationRecord{Address: addr}

	ids, err := h.mailbox.SearchMessages(ctx, addr, h.limit)
	if err != nil {
		h.logger.Warn("history search failed", zap.String("address", addr), zap.Error(err))
		rec.Summary = fmt.Sprintf("Error searching history: %v", err)
		return rec
	}
	if len(ids) > h.limit {
		ids = ids[:h.limit]
	}

	lowerAddr := strings.ToLower(addr)
	for _, id := range ids {
		m, err := h.mailbox.GetMessage(ctx, id, FormatMetadata)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				h.logger.Debug("history message vanished", zap.String("message_id", id))
			} else {
				h.logger.Warn("failed to fetch history message", zap.String("message_id", id), zap.Error(err))
			}
			continue
		}

		dir := DirectionOutgoing
		if strings.Contains(strings.ToLower(m.From), lowerAddr) {
			dir = DirectionIncoming
		}
		rec.Entries = append(rec.Entries, HistoryEntry{
			ID:        m.ID,
			From:      m.From,
			To:        m.To,
			Subject:   m.Subject,
			Date:      m.Date,
			Snippet:   m.Snippet,
			Direction: dir,
		})
	}

	rec.TotalCount = len(rec.Entries)
	if rec.TotalCount == 0 {
		rec.Summary = fmt.Sprintf("No previous conversation with %s", addr)
		return rec
	}
	rec.Summary = Truncate(h.render(addr, rec.Entries), h.summaryLimit)
	return rec
}

func (h *HistoryAggregator) render(addr string, entries []HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "COMPLETE conversation history with %s:\n\n", addr)
	fmt.Fprintf(&b, "Last %d Emails (both directions):\n", h.limit)
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	for i, e := range entries {
		label := "FROM them"
		if e.Direction == DirectionOutgoing {
			label = "TO them (your reply)"
		}
		fmt.Fprintf(&b, "%d. [%s]\n", i+1, label)
		fmt.Fprintf(&b, "   Subject: %s\n", e.Subject)
		fmt.Fprintf(&b, "   Date: %s\n", e.Date)
		fmt.Fprintf(&b, "   Preview: %s...\n\n", head(e.Snippet, 100))
	}
	return b.String()
}
