package journal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-triage/internal/reasoning"
	"github.com/Martian-dev/inbox-triage/internal/triage"
)

func janeMessage() *triage.Message {
	return &triage.Message{From: "Jane <jane@x.com>", Subject: "Lunch?", Body: "Are you free Friday?"}
}

func TestMemory_RecallEmptyForUnknownSender(t *testing.T) {
	mem := openTestJournal(t, nil).Memory(0)

	note, err := mem.Recall(context.Background(), triage.ClassifyPrompt(janeMessage()))
	require.NoError(t, err)
	assert.Empty(t, note)

	note, err = mem.Recall(context.Background(), "no template here")
	require.NoError(t, err)
	assert.Empty(t, note)
}

func TestMemory_RecallsVerdictsAndDrafts(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, nil)
	mem := j.Memory(2)

	prompt := triage.ClassifyPrompt(janeMessage())
	require.NoError(t, mem.Remember(ctx, prompt, "ignore"))
	require.NoError(t, mem.Remember(ctx, prompt, "PROCESS"))
	require.NoError(t, mem.Remember(ctx, prompt, "process - asks a question"))
	require.NoError(t, mem.Remember(ctx, triage.ReplyPrompt(janeMessage(), triage.ConversationRecord{}), "Sure, Friday works."))

	confirmed := sampleOutcome("c1", "m1")
	unconfirmed := sampleOutcome("c2", "m2")
	unconfirmed.DraftStatus = triage.DraftUnconfirmed
	require.NoError(t, j.RecordOutcome(ctx, confirmed))
	require.NoError(t, j.RecordOutcome(ctx, unconfirmed))

	other := sampleOutcome("c3", "m3")
	other.From = "bob@y.com"
	require.NoError(t, j.RecordOutcome(ctx, other))

	note, err := mem.Recall(ctx, triage.ClassifyPrompt(&triage.Message{From: "JANE@X.COM", Subject: "Again"}))
	require.NoError(t, err)
	assert.Equal(t, "LONG-TERM MEMORY for jane@x.com:\n"+
		"- Earlier classifications (newest first): process, process\n"+
		"- Replies drafted for this sender: 2 (1 unconfirmed)", note)
}

func TestMemory_RememberIgnoresUntemplatedPrompts(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, nil)
	require.NoError(t, j.Memory(0).Remember(ctx, "From: jane@x.com\nhello", "ok"))

	var n int
	require.NoError(t, j.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sender_memory`))
	assert.Zero(t, n)
}

func TestMemory_RecalledNoteReachesClassifyPrompt(t *testing.T) {
	var (
		mu      sync.Mutex
		prompts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Messages, 1)
		mu.Lock()
		prompts = append(prompts, req.Messages[0].Content)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"process"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	j := openTestJournal(t, nil)
	client := reasoning.NewAnthropicClient(reasoning.Config{APIKey: "sk-test", BaseURL: srv.URL, RequestsPerMinute: 6000}, j.Memory(5), nil)

	prompt := triage.ClassifyPrompt(janeMessage())
	_, err := client.Complete(context.Background(), prompt)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), prompt)
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.Equal(t, prompt, prompts[0])
	assert.Equal(t, "LONG-TERM MEMORY for jane@x.com:\n"+
		"- Earlier classifications (newest first): process\n\n"+prompt, prompts[1])
}
