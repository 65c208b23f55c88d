package triage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// fakeMailbox is an in-memory Mailbox
type fakeMailbox struct {
	mu sync.Mutex

	unread     []MessageSummary
	listErr    error
	listLimits []int

	messages map[string]*Message
	getErrs  map[string]error
	gets     []string

	search        map[string][]string
	searchErr     error
	searchQueries []string

	draftReply string
	draftErr   error
	drafts     []Draft
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:   make(map[string]*Message),
		getErrs:    make(map[string]error),
		search:     make(map[string][]string),
		draftReply: "Draft created successfully. Draft Id: r-1",
	}
}

func (f *fakeMailbox) addMessage(m *Message) {
	f.messages[m.ID] = m
}

func (f *fakeMailbox) ListUnread(_ context.Context, limit int) ([]MessageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLimits = append(f.listLimits, limit)
	if f.listErr != nil {
		return nil, f.listErr
	}
	n := min(limit, len(f.unread))
	out := make([]MessageSummary, n)
	copy(out, f.unread[:n])
	return out, nil
}

func (f *fakeMailbox) SearchMessages(_ context.Context, address string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchQueries = append(f.searchQueries, address)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	ids := f.search[address]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, id string, _ Format) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, id)
	if err := f.getErrs[id]; err != nil {
		return nil, err
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMailbox) CreateDraft(_ context.Context, d Draft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, d)
	if f.draftErr != nil {
		return "", f.draftErr
	}
	return f.draftReply, nil
}

// mockReasoner is a testify mock for Reasoner
type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func isClassifyPrompt(p string) bool { return strings.Contains(p, "smart email classifier") }
func isReplyPrompt(p string) bool    { return strings.Contains(p, "Draft a professional email response") }

// recordingPacer records requested waits without sleeping
type recordingPacer struct {
	waits  []time.Duration
	onWait func(n int)
}

func (p *recordingPacer) Wait(ctx context.Context, d time.Duration) error {
	p.waits = append(p.waits, d)
	if p.onWait != nil {
		p.onWait(len(p.waits))
	}
	return ctx.Err()
}

// recordingSink collects what the runner reports
type recordingSink struct {
	outcomes []Outcome
	reports  []CycleReport
	err      error
}

func (s *recordingSink) RecordOutcome(_ context.Context, out Outcome) error {
	s.outcomes = append(s.outcomes, out)
	return s.err
}

func (s *recordingSink) ObserveCycle(_ context.Context, report CycleReport) error {
	s.reports = append(s.reports, report)
	return s.err
}
