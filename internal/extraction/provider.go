package extraction

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/vendorflow/internal/redact"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// NewExtractor creates an extractor for cfg.Provider. A nil scrubber sends
// content unmodified.
func NewExtractor(cfg Config, scrubber redact.Scrubber) (Extractor, error) {
	if scrubber == nil {
		scrubber = redact.NoopScrubber{}
	}

	var (
		client completer
		err    error
	)
	switch cfg.Provider {
	case "", ProviderDisabled:
		return &NoOpExtractor{}, nil
	case ProviderAnthropic:
		client, err = newAnthropicClient(cfg)
	case ProviderOpenAI:
		client, err = newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &llmExtractor{client: client, scrubber: scrubber}, nil
}

// NoOpExtractor never produces an analysis.
type NoOpExtractor struct{}

// Extract always returns ErrUnavailable.
func (n *NoOpExtractor) Extract(context.Context, Request) (*thread.Analysis, error) {
	return nil, ErrUnavailable
}

// Available returns false.
func (n *NoOpExtractor) Available() bool {
	return false
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, req Request) (*thread.Analysis, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, req Request) (*thread.Analysis, error) {
	return f(ctx, req)
}

// Available returns true.
func (f Func) Available() bool {
	return true
}

var (
	_ Extractor = (*NoOpExtractor)(nil)
	_ Extractor = Func(nil)
	_ Extractor = (*llmExtractor)(nil)
)
