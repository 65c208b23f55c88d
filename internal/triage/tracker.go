package triage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Mode is the enumeration strategy for a cycle
type Mode string

const (
	ModeBootstrap Mode = "bootstrap"
	ModeLive      Mode = "live"
)

// Checkpoint represents the detection watermark
type Checkpoint struct {
	// InternalDate of the most recently processed message, epoch ms
	InternalDate int64 `json:"internal_date"`
	Set          bool  `json:"set"`
}

// TrackerConfig bounds listing per mode
type TrackerConfig struct {
	BootstrapLimit int
	LiveLimit      int
}

// Tracker owns the checkpoint and the processed set for one run.
// It is not safe for concurrent use; the runner goroutine owns it.
type Tracker struct {
	mailbox    Mailbox
	cfg        TrackerConfig
	checkpoint Checkpoint
	processed  map[string]struct{}
	now        func() time.Time
	logger     *zap.Logger
}

// NewTracker creates a tracker with an unset checkpoint
func NewTracker(mailbox Mailbox, cfg TrackerConfig, logger *zap.Logger) *Tracker {
	if cfg.BootstrapLimit <= 0 {
		cfg.BootstrapLimit = 5
	}
	if cfg.LiveLimit <= 0 {
		cfg.LiveLimit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		mailbox:   mailbox,
		cfg:       cfg,
		processed: make(map[string]struct{}),
		now:       time.Now,
		logger:    logger,
	}
}

// Checkpoint returns the current watermark
func (t *Tracker) Checkpoint() Checkpoint {
	return t.checkpoint
}

// Mode reports which strategy the next enumeration will use
func (t *Tracker) Mode() Mode {
	if t.checkpoint.Set {
		return ModeLive
	}
	return ModeBootstrap
}

// NewMessages lists the messages the current cycle should process,
// newest first. A listing failure leaves the checkpoint untouched.
func (t *Tracker) NewMessages(ctx context.Context) ([]MessageSummary, Mode, error) {
	mode := t.Mode()
	if mode == ModeBootstrap {
		msgs, err := t.bootstrap(ctx)
		return msgs, mode, err
	}
	msgs, err := t.live(ctx)
	return msgs, mode, err
}

func (t *Tracker) bootstrap(ctx context.Context) ([]MessageSummary, error) {
	listed, err := t.mailbox.ListUnread(ctx, t.cfg.BootstrapLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	if len(listed) == 0 {
		t.set(t.now().UnixMilli())
		t.logger.Info("no unread messages at bootstrap, starting from now",
			zap.Int64("checkpoint", t.checkpoint.InternalDate))
		return nil, nil
	}

	var latest int64
	fresh := make([]MessageSummary, 0, len(listed))
	for _, m := range listed {
		if m.InternalDate > latest {
			latest = m.InternalDate
		}
		if t.IsProcessed(m.ID) {
			continue
		}
		fresh = append(fresh, m)
	}
	if latest <= 0 {
		latest = t.now().UnixMilli()
		t.logger.Warn("bootstrap batch carries no usable dates, starting from now",
			zap.Int("listed", len(listed)),
			zap.Int64("checkpoint", latest))
	}
	t.set(latest)

	return fresh, nil
}

func (t *Tracker) live(ctx context.Context) ([]MessageSummary, error) {
	listed, err := t.mailbox.ListUnread(ctx, t.cfg.LiveLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	var fresh []MessageSummary
	for _, m := range listed {
		// Listing is newest first, everything after this is older
		if m.InternalDate <= t.checkpoint.InternalDate {
			break
		}
		if t.IsProcessed(m.ID) {
			continue
		}
		fresh = append(fresh, m)
	}

	return fresh, nil
}

// Advance raises the checkpoint to the newest processed message
func (t *Tracker) Advance(processed []MessageSummary) {
	for _, m := range processed {
		t.set(m.InternalDate)
	}
}

func (t *Tracker) set(internalDate int64) {
	if t.checkpoint.Set && internalDate <= t.checkpoint.InternalDate {
		return
	}
	t.checkpoint = Checkpoint{InternalDate: internalDate, Set: true}
}

// IsProcessed reports whether id was handled earlier in this run
func (t *Tracker) IsProcessed(id string) bool {
	_, ok := t.processed[id]
	return ok
}

// MarkProcessed records id in the processed set
func (t *Tracker) MarkProcessed(id string) {
	t.processed[id] = struct{}{}
}

// ProcessedCount returns the size of the processed set
func (t *Tracker) ProcessedCount() int {
	return len(t.processed)
}
