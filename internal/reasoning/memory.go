package reasoning

import "context"

// Memory is optional long-lived context for a reasoning client. Recall
// returns text to prepend to a prompt; Remember stores a finished exchange.
type Memory interface {
	Recall(ctx context.Context, prompt string) (string, error)
	Remember(ctx context.Context, prompt, response string) error
}

// NopMemory recalls nothing and forgets everything
type NopMemory struct{}

func (NopMemory) Recall(context.Context, string) (string, error) { return "", nil }
func (NopMemory) Remember(context.Context, string, string) error { return nil }
