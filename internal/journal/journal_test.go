package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-triage/internal/triage"
)

type published struct {
	subject string
	payload []byte
	msgID   string
}

type fakePublisher struct {
	fail map[string]bool
	sent []published
}

func (p *fakePublisher) Publish(_ context.Context, subject string, payload []byte, msgID string) error {
	if p.fail[msgID] {
		return errors.New("nats: no responders available")
	}
	p.sent = append(p.sent, published{subject: subject, payload: payload, msgID: msgID})
	return nil
}

func openTestJournal(t *testing.T, p Publisher) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"), p, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func sampleOutcome(cycle, id string) triage.Outcome {
	now := time.Now()
	return triage.Outcome{
		CycleID:           cycle,
		MessageID:         id,
		From:              "Jane <jane@x.com>",
		Subject:           "Lunch?",
		InternalDate:      1700000000000,
		Classification:    "PROCESS",
		Verdict:           triage.VerdictProcess,
		HistoryCount:      3,
		Drafted:           true,
		DraftStatus:       triage.DraftConfirmed,
		DraftConfirmation: "Draft created successfully. Draft Id: r-1",
		StartedAt:         now,
		FinishedAt:        now,
	}
}

func TestRecordOutcome(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, nil)

	require.NoError(t, j.RecordOutcome(ctx, sampleOutcome("c1", "m1")))
	require.NoError(t, j.RecordOutcome(ctx, triage.Outcome{CycleID: "c1", MessageID: "m2", Skipped: true}))
	// Duplicate pair is ignored along with its event
	require.NoError(t, j.RecordOutcome(ctx, sampleOutcome("c1", "m1")))

	recent, err := j.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m2", recent[0].MessageID)
	assert.True(t, recent[0].Skipped)
	assert.Equal(t, "m1", recent[1].MessageID)
	assert.Equal(t, "process", recent[1].Verdict)
	assert.True(t, recent[1].Drafted)
	assert.Equal(t, "confirmed", recent[1].DraftStatus)

	pending, err := j.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}

func TestObserveCycle_DrainsOutbox(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	j := openTestJournal(t, pub)

	out := sampleOutcome("c1", "m1")
	require.NoError(t, j.RecordOutcome(ctx, out))
	require.NoError(t, j.ObserveCycle(ctx, triage.CycleReport{
		ID:              "c1",
		Mode:            triage.ModeLive,
		CheckpointAfter: triage.Checkpoint{InternalDate: 1700000000000, Set: true},
		Candidates:      1,
		Outcomes:        []triage.Outcome{out},
		StartedAt:       time.Now(),
		FinishedAt:      time.Now(),
	}))

	require.Len(t, pub.sent, 2)
	assert.Equal(t, SubjectOutcome, pub.sent[0].subject)
	assert.Equal(t, "triage.outcome|c1|m1", pub.sent[0].msgID)
	assert.Equal(t, SubjectCycle, pub.sent[1].subject)
	assert.Equal(t, "triage.cycle|c1", pub.sent[1].msgID)

	var decoded triage.Outcome
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &decoded))
	assert.Equal(t, "m1", decoded.MessageID)
	assert.Equal(t, triage.VerdictProcess, decoded.Verdict)

	var cycle map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[1].payload, &cycle))
	assert.Equal(t, "live", cycle["mode"])
	assert.EqualValues(t, 1, cycle["processed"])

	pending, err := j.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	n, err := j.CycleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrain_RetriesFailedPublish(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, nil)

	now := time.Unix(1700000000, 0)
	j.now = func() time.Time { return now }

	require.NoError(t, j.RecordOutcome(ctx, sampleOutcome("c1", "m1")))
	require.NoError(t, j.RecordOutcome(ctx, sampleOutcome("c1", "m2")))

	pub := &fakePublisher{fail: map[string]bool{"triage.outcome|c1|m1": true}}
	n, err := j.Drain(ctx, pub)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "triage.outcome|c1|m2", pub.sent[0].msgID)

	// Not due until the backoff elapses
	n, err = j.Drain(ctx, &fakePublisher{})
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Second)
	retry := &fakePublisher{}
	n, err = j.Drain(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "triage.outcome|c1|m1", retry.sent[0].msgID)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 256*time.Second, backoff(8))
	assert.Equal(t, maxBackoff, backoff(9))
	assert.Equal(t, maxBackoff, backoff(60))
}
