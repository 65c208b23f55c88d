package triage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaries(dates ...int64) []MessageSummary {
	out := make([]MessageSummary, len(dates))
	for i, d := range dates {
		out[i] = MessageSummary{ID: fmt.Sprintf("m%d", d), InternalDate: d}
	}
	return out
}

func TestTracker_Bootstrap(t *testing.T) {
	mb := newFakeMailbox()
	mb.unread = summaries(300, 200, 100)
	tr := NewTracker(mb, TrackerConfig{}, nil)

	assert.Equal(t, ModeBootstrap, tr.Mode())

	msgs, mode, err := tr.NewMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeBootstrap, mode)
	assert.Len(t, msgs, 3)
	assert.Equal(t, Checkpoint{InternalDate: 300, Set: true}, tr.Checkpoint())
	assert.Equal(t, []int{5}, mb.listLimits)
	assert.Equal(t, ModeLive, tr.Mode())
}

func TestTracker_BootstrapEmptyInboxStartsFromNow(t *testing.T) {
	mb := newFakeMailbox()
	tr := NewTracker(mb, TrackerConfig{}, nil)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return now }

	msgs, _, err := tr.NewMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, Checkpoint{InternalDate: now.UnixMilli(), Set: true}, tr.Checkpoint())
}

func TestTracker_BootstrapWithoutDatesStartsFromNow(t *testing.T) {
	mb := newFakeMailbox()
	mb.unread = []MessageSummary{{ID: "a"}, {ID: "b", InternalDate: -1}}
	tr := NewTracker(mb, TrackerConfig{}, nil)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return now }

	msgs, _, err := tr.NewMessages(context.Background())
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, Checkpoint{InternalDate: now.UnixMilli(), Set: true}, tr.Checkpoint())

	mb.unread = summaries(5)
	msgs, mode, err := tr.NewMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeLive, mode)
	assert.Empty(t, msgs)
}

func TestTracker_BootstrapSkipsProcessed(t *testing.T) {
	mb := newFakeMailbox()
	mb.unread = summaries(300, 200)
	tr := NewTracker(mb, TrackerConfig{}, nil)
	tr.MarkProcessed(mb.unread[0].ID)

	msgs, _, err := tr.NewMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(200), msgs[0].InternalDate)
	assert.Equal(t, int64(300), tr.Checkpoint().InternalDate)
}

func TestTracker_LiveStopsAtCheckpoint(t *testing.T) {
	mb := newFakeMailbox()
	mb.unread = summaries(500, 400, 300, 250)
	tr := NewTracker(mb, TrackerConfig{}, nil)
	tr.set(300)

	msgs, mode, err := tr.NewMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeLive, mode)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(500), msgs[0].InternalDate)
	assert.Equal(t, int64(400), msgs[1].InternalDate)
	assert.Equal(t, []int{10}, mb.listLimits)

	tr.Advance(msgs)
	assert.Equal(t, int64(500), tr.Checkpoint().InternalDate)
}

func TestTracker_LiveSkipsProcessedWithoutStopping(t *testing.T) {
	mb := newFakeMailbox()
	mb.unread = summaries(500, 400, 300)
	tr := NewTracker(mb, TrackerConfig{}, nil)
	tr.set(300)
	tr.MarkProcessed(mb.unread[0].ID)

	msgs, _, err := tr.NewMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(400), msgs[0].InternalDate)
}

func TestTracker_AdvanceNeverDecreases(t *testing.T) {
	tr := NewTracker(newFakeMailbox(), TrackerConfig{}, nil)
	tr.set(500)

	tr.Advance(summaries(400, 100))
	assert.Equal(t, int64(500), tr.Checkpoint().InternalDate)

	tr.Advance(nil)
	assert.Equal(t, int64(500), tr.Checkpoint().InternalDate)

	tr.Advance(summaries(600))
	assert.Equal(t, int64(600), tr.Checkpoint().InternalDate)
}

func TestTracker_ListFailureLeavesCheckpoint(t *testing.T) {
	mb := newFakeMailbox()
	mb.listErr = errors.New("quota exceeded")
	tr := NewTracker(mb, TrackerConfig{}, nil)

	_, mode, err := tr.NewMessages(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, mb.listErr)
	assert.Equal(t, ModeBootstrap, mode)
	assert.False(t, tr.Checkpoint().Set)

	tr.set(300)
	_, _, err = tr.NewMessages(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(300), tr.Checkpoint().InternalDate)
}

func TestTracker_CustomLimits(t *testing.T) {
	mb := newFakeMailbox()
	mb.unread = summaries(300, 200, 100)
	tr := NewTracker(mb, TrackerConfig{BootstrapLimit: 2, LiveLimit: 7}, nil)

	msgs, _, err := tr.NewMessages(context.Background())
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, int64(300), tr.Checkpoint().InternalDate)

	_, _, err = tr.NewMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 7}, mb.listLimits)
}

func TestTracker_ProcessedSet(t *testing.T) {
	tr := NewTracker(newFakeMailbox(), TrackerConfig{}, nil)
	assert.False(t, tr.IsProcessed("a"))
	tr.MarkProcessed("a")
	tr.MarkProcessed("a")
	assert.True(t, tr.IsProcessed("a"))
	assert.Equal(t, 1, tr.ProcessedCount())
}
