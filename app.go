package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/inbox-triage/internal/auth"
	"github.com/Martian-dev/inbox-triage/internal/config"
	"github.com/Martian-dev/inbox-triage/internal/journal"
	"github.com/Martian-dev/inbox-triage/internal/metrics"
	natsjs "github.com/Martian-dev/inbox-triage/internal/nats"
	"github.com/Martian-dev/inbox-triage/internal/providers/gmail"
	"github.com/Martian-dev/inbox-triage/internal/providers/imap"
	"github.com/Martian-dev/inbox-triage/internal/providers/outlook"
	"github.com/Martian-dev/inbox-triage/internal/reasoning"
	"github.com/Martian-dev/inbox-triage/internal/triage"
)

// app owns every long-lived collaborator of one triage process
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	runner  *triage.Runner
	metrics *metrics.Metrics
	journal *journal.Journal
	nats    *natsjs.Publisher
	memory  reasoning.Memory
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	mailbox, err := newMailbox(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.NATS.URL != "" {
		a.nats, err = natsjs.NewPublisher(cfg.NATS.URL, cfg.NATS.Stream, log.Named("nats"))
		if err != nil {
			return nil, err
		}
		if err := a.nats.EnsureStream(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.memory = reasoning.NopMemory{}
	if cfg.Journal.Path != "" {
		var pub journal.Publisher
		if a.nats != nil {
			pub = a.nats
		}
		a.journal, err = journal.Open(cfg.Journal.Path, pub, log.Named("journal"))
		if err != nil {
			a.Close()
			return nil, err
		}
		if cfg.Journal.MemoryLimit > 0 {
			a.memory = a.journal.Memory(cfg.Journal.MemoryLimit)
		}
	}

	reasoner, err := reasoning.New(reasoning.Config{
		Provider:          cfg.Reasoning.Provider,
		Model:             cfg.Reasoning.Model,
		APIKey:            cfg.Reasoning.APIKey,
		BaseURL:           cfg.Reasoning.BaseURL,
		MaxTokens:         cfg.Reasoning.MaxTokens,
		Timeout:           cfg.Reasoning.Timeout,
		RequestsPerMinute: cfg.Reasoning.RequestsPerMinute,
	}, a.memory, log.Named("reasoning"))
	if err != nil {
		a.Close()
		return nil, err
	}

	tracker := triage.NewTracker(mailbox, triage.TrackerConfig{
		BootstrapLimit: cfg.Triage.BootstrapLimit,
		LiveLimit:      cfg.Triage.LiveLimit,
	}, log)

	pipeline := &triage.Pipeline{
		Mailbox:  mailbox,
		Reasoner: reasoner,
		History:  triage.NewHistoryAggregator(mailbox, cfg.Triage.HistoryLimit, cfg.Triage.SummaryLimit, log),
		Tracker:  tracker,
		Pacer:    triage.SleepPacer{},
		Delays: triage.Delays{
			Classify: cfg.Triage.ClassifyDelay,
			Generate: cfg.Triage.GenerateDelay,
			Draft:    cfg.Triage.DraftDelay,
		},
		Logger:    log,
		BodyLimit: cfg.Triage.BodyLimit,
	}

	a.metrics = metrics.New(tracker.ProcessedCount)
	sinks := []triage.Sink{a.metrics}
	if a.journal != nil {
		sinks = append(sinks, a.journal)
	}

	a.runner = triage.NewRunner(tracker, pipeline, triage.RunnerConfig{
		MessageDelay: cfg.Triage.MessageDelay,
		Pacer:        triage.SleepPacer{},
		Sinks:        sinks,
		Logger:       log,
	})
	return a, nil
}

// Close releases the journal and NATS connection
func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("failed to close journal", zap.Error(err))
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
}

func newMailbox(ctx context.Context, cfg *config.Config, log *zap.Logger) (triage.Mailbox, error) {
	switch cfg.Mailbox.Provider {
	case "gmail":
		var ts oauth2.TokenSource
		if cfg.Auth.TokenURL != "" {
			ts = auth.NewBrokerClient(cfg.Auth.TokenURL).TokenSource(ctx, cfg.Auth.UserJWT, auth.ProviderGoogle)
		} else {
			var err error
			ts, err = auth.GoogleTokenSource(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile)
			if err != nil {
				return nil, err
			}
		}
		return gmail.New(ctx, ts, gmail.Config{User: cfg.Gmail.User, Query: cfg.Mailbox.Query}, log.Named("gmail"))

	case "outlook":
		ts := auth.NewBrokerClient(cfg.Auth.TokenURL).TokenSource(ctx, cfg.Auth.UserJWT, auth.ProviderMicrosoft)
		return outlook.New(ts, cfg.Outlook.User, log.Named("outlook"))

	case "imap":
		return imap.New(imap.Config{
			Host:          cfg.IMAP.Host,
			Port:          cfg.IMAP.Port,
			Username:      cfg.IMAP.Username,
			Password:      cfg.IMAP.Password,
			TLS:           cfg.IMAP.TLS,
			Mailbox:       cfg.IMAP.Mailbox,
			SentMailbox:   cfg.IMAP.SentMailbox,
			DraftsMailbox: cfg.IMAP.DraftsMailbox,
		}, log.Named("imap")), nil

	default:
		return nil, fmt.Errorf("unknown mailbox provider %q", cfg.Mailbox.Provider)
	}
}
