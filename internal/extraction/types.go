package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// Provider names accepted by NewExtractor.
const (
	ProviderDisabled  = "disabled"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var (
	// ErrUnavailable is returned by extractors that cannot be used.
	ErrUnavailable = errors.New("extraction unavailable")

	// ErrUnparseable is returned when the model reply is not a JSON object.
	ErrUnparseable = errors.New("unparseable extraction response")
)

// Request is the input to a single extraction.
type Request struct {
	// Messages are ordered oldest first; Index must match the position.
	Messages []thread.Message
	// Statuses lists the lifecycle slugs the model may choose from.
	Statuses []string
}

// Extractor produces a best-effort analysis of a thread.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*thread.Analysis, error)

	// Available reports whether the extractor can make calls at all.
	Available() bool
}

// Config configures an LLM-backed extractor.
type Config struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model,omitempty"`
	APIKey     string        `json:"-"`
	BaseURL    string        `json:"base_url,omitempty"`
	MaxTokens  int           `json:"max_tokens,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`

	// BaseBackoff is the first retry delay; later retries double it.
	BaseBackoff time.Duration `json:"base_backoff,omitempty"`
}
