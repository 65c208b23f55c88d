package journal

import (
	"context"
	"fmt"
	"strings"

	"github.com/Martian-dev/inbox-triage/internal/triage"
)

const (
	defaultMemoryLimit  = 10
	memoryResponseLimit = 500
)

// Memory recalls what earlier cycles learned about a sender: the verdicts
// the classifier gave and the drafts left for them. It survives restarts
// but never feeds the checkpoint.
type Memory struct {
	j     *Journal
	limit int
}

// Memory returns a sender memory over this journal holding at most limit
// classifications per recall.
func (j *Journal) Memory(limit int) *Memory {
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	return &Memory{j: j, limit: limit}
}

type draftStats struct {
	Total       int `db:"total"`
	Unconfirmed int `db:"unconfirmed"`
}

// Recall renders a note about the sender named in prompt, or "" when the
// sender is unknown.
func (m *Memory) Recall(ctx context.Context, prompt string) (string, error) {
	_, addr := triage.InspectPrompt(prompt)
	if addr == "" {
		return "", nil
	}

	var verdicts []string
	err := m.j.db.SelectContext(ctx, &verdicts, `
		SELECT verdict FROM sender_memory
		WHERE address = ? AND kind = ?
		ORDER BY id DESC
		LIMIT ?
	`, addr, string(triage.PromptClassify), m.limit)
	if err != nil {
		return "", fmt.Errorf("failed to query sender memory: %w", err)
	}

	var drafts draftStats
	err = m.j.db.GetContext(ctx, &drafts, `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN draft_status = ? THEN 1 ELSE 0 END), 0) AS unconfirmed
		FROM triage_outcomes
		WHERE drafted = 1 AND instr(lower(sender), ?) > 0
	`, string(triage.DraftUnconfirmed), addr)
	if err != nil {
		return "", fmt.Errorf("failed to query sender drafts: %w", err)
	}

	if len(verdicts) == 0 && drafts.Total == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "LONG-TERM MEMORY for %s:\n", addr)
	if len(verdicts) > 0 {
		fmt.Fprintf(&b, "- Earlier classifications (newest first): %s\n", strings.Join(verdicts, ", "))
	}
	if drafts.Total > 0 {
		fmt.Fprintf(&b, "- Replies drafted for this sender: %d (%d unconfirmed)\n", drafts.Total, drafts.Unconfirmed)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Remember stores a classify or reply exchange under the prompt's sender.
// Prompts that name no sender are dropped.
func (m *Memory) Remember(ctx context.Context, prompt, response string) error {
	kind, addr := triage.InspectPrompt(prompt)
	if addr == "" || kind == triage.PromptOther {
		return nil
	}

	verdict := ""
	if kind == triage.PromptClassify {
		verdict = string(triage.ParseVerdict(response))
	}

	_, err := m.j.db.ExecContext(ctx, `
		INSERT INTO sender_memory (address, kind, verdict, response, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, addr, string(kind), verdict, triage.Truncate(response, memoryResponseLimit), m.j.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert sender memory: %w", err)
	}
	return nil
}
