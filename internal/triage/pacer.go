package triage

import (
	"context"
	"time"
)

// Delays before the reasoning and draft calls of one message. Pacing
// between messages belongs to the Runner.
type Delays struct {
	Classify time.Duration
	Generate time.Duration
	Draft    time.Duration
}

// DefaultDelays returns the production pacing
func DefaultDelays() Delays {
	return Delays{
		Classify: time.Second,
		Generate: 2 * time.Second,
		Draft:    time.Second,
	}
}

// Pacer waits between outbound calls
type Pacer interface {
	Wait(ctx context.Context, d time.Duration) error
}

// SleepPacer waits on the wall clock
type SleepPacer struct{}

func (SleepPacer) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
