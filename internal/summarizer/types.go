package summarizer

import (
	"context"
)

// Completer sends a single prompt to a language model and returns its text
// reply. maxTokens <= 0 uses the client's configured limit.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}
