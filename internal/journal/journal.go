// Package journal keeps an append-only sqlite record of triage outcomes and
// cycles, plus a transactional outbox of events for NATS.
package journal

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Martian-dev/inbox-triage/internal/triage"
)

//go:embed schema.sql
var schemaSQL string

const (
	SubjectOutcome = "triage.outcome"
	SubjectCycle   = "triage.cycle"

	EventOutcomeRecorded = "triage.outcome.recorded"
	EventCycleCompleted  = "triage.cycle.completed"
)

// Journal is a triage.Sink backed by sqlite
type Journal struct {
	db        *sqlx.DB
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Open opens or creates the journal database at path. publisher may be nil,
// in which case outbox rows accumulate until a publisher is attached.
func Open(path string, publisher Publisher, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{db: db, publisher: publisher, logger: logger, now: time.Now}, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.db.Close()
}

type outcomeRow struct {
	CycleID           string `db:"cycle_id"`
	MessageID         string `db:"message_id"`
	Sender            string `db:"sender"`
	Subject           string `db:"subject"`
	InternalDate      int64  `db:"internal_date"`
	Skipped           bool   `db:"skipped"`
	FetchError        string `db:"fetch_error"`
	Verdict           string `db:"verdict"`
	Classification    string `db:"classification"`
	HistoryCount      int    `db:"history_count"`
	Drafted           bool   `db:"drafted"`
	DraftStatus       string `db:"draft_status"`
	DraftConfirmation string `db:"draft_confirmation"`
	DraftError        string `db:"draft_error"`
	StartedAt         int64  `db:"started_at"`
	FinishedAt        int64  `db:"finished_at"`
}

func toOutcomeRow(out triage.Outcome) outcomeRow {
	return outcomeRow{
		CycleID:           out.CycleID,
		MessageID:         out.MessageID,
		Sender:            out.From,
		Subject:           out.Subject,
		InternalDate:      out.InternalDate,
		Skipped:           out.Skipped,
		FetchError:        out.FetchError,
		Verdict:           string(out.Verdict),
		Classification:    out.Classification,
		HistoryCount:      out.HistoryCount,
		Drafted:           out.Drafted,
		DraftStatus:       string(out.DraftStatus),
		DraftConfirmation: out.DraftConfirmation,
		DraftError:        out.DraftError,
		StartedAt:         out.StartedAt.UnixMilli(),
		FinishedAt:        out.FinishedAt.UnixMilli(),
	}
}

// RecordOutcome appends the outcome and its outbox event in one
// transaction. A repeated (cycle, message) pair is ignored.
func (j *Journal) RecordOutcome(ctx context.Context, out triage.Outcome) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO triage_outcomes
		(cycle_id, message_id, sender, subject, internal_date, skipped, fetch_error,
		 verdict, classification, history_count, drafted, draft_status,
		 draft_confirmation, draft_error, started_at, finished_at)
		VALUES (:cycle_id, :message_id, :sender, :subject, :internal_date, :skipped, :fetch_error,
		 :verdict, :classification, :history_count, :drafted, :draft_status,
		 :draft_confirmation, :draft_error, :started_at, :finished_at)
	`, toOutcomeRow(out))
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	msgID := fmt.Sprintf("%s|%s|%s", SubjectOutcome, out.CycleID, out.MessageID)
	if err := j.enqueue(ctx, tx, SubjectOutcome, EventOutcomeRecorded, payload, msgID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing outcome: %w", err)
	}
	return nil
}

type cycleEvent struct {
	ID               string      `json:"id"`
	Mode             triage.Mode `json:"mode"`
	CheckpointBefore int64       `json:"checkpoint_before"`
	CheckpointAfter  int64       `json:"checkpoint_after"`
	Candidates       int         `json:"candidates"`
	Processed        int         `json:"processed"`
	Error            string      `json:"error,omitempty"`
	StartedAt        time.Time   `json:"started_at"`
	FinishedAt       time.Time   `json:"finished_at"`
}

// ObserveCycle appends the cycle row and event, then drains the outbox
func (j *Journal) ObserveCycle(ctx context.Context, report triage.CycleReport) error {
	processed := 0
	for _, o := range report.Outcomes {
		if !o.Skipped {
			processed++
		}
	}
	ev := cycleEvent{
		ID:               report.ID,
		Mode:             report.Mode,
		CheckpointBefore: report.CheckpointBefore.InternalDate,
		CheckpointAfter:  report.CheckpointAfter.InternalDate,
		Candidates:       report.Candidates,
		Processed:        processed,
		Error:            report.Error,
		StartedAt:        report.StartedAt,
		FinishedAt:       report.FinishedAt,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode cycle: %w", err)
	}

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO triage_cycles
		(cycle_id, mode, checkpoint_before, checkpoint_after, candidates, processed, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Mode), ev.CheckpointBefore, ev.CheckpointAfter, ev.Candidates, ev.Processed,
		ev.Error, ev.StartedAt.UnixMilli(), ev.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil || n > 0 {
		msgID := fmt.Sprintf("%s|%s", SubjectCycle, report.ID)
		if err := j.enqueue(ctx, tx, SubjectCycle, EventCycleCompleted, payload, msgID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cycle: %w", err)
	}

	if j.publisher == nil {
		return nil
	}
	_, err = j.Drain(ctx, j.publisher)
	return err
}

func (j *Journal) enqueue(ctx context.Context, tx *sqlx.Tx, subject, eventType string, payload []byte, msgID string) error {
	now := j.now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, now, subject, eventType, payload, msgID, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// OutcomeRecord is a stored outcome as read back from the journal
type OutcomeRecord struct {
	CycleID     string `db:"cycle_id"`
	MessageID   string `db:"message_id"`
	Sender      string `db:"sender"`
	Subject     string `db:"subject"`
	Skipped     bool   `db:"skipped"`
	Verdict     string `db:"verdict"`
	Drafted     bool   `db:"drafted"`
	DraftStatus string `db:"draft_status"`
}

// RecentOutcomes returns the newest outcomes first
func (j *Journal) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	var out []OutcomeRecord
	err := j.db.SelectContext(ctx, &out, `
		SELECT cycle_id, message_id, sender, subject, skipped,
		       COALESCE(verdict, '') AS verdict, drafted, COALESCE(draft_status, '') AS draft_status
		FROM triage_outcomes
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	return out, nil
}

// CycleCount returns the number of journaled cycles
func (j *Journal) CycleCount(ctx context.Context) (int, error) {
	var n int
	if err := j.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM triage_cycles`); err != nil {
		return 0, fmt.Errorf("failed to count cycles: %w", err)
	}
	return n, nil
}
