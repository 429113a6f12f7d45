package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/vendorflow/internal/redact"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// maxMessageChars bounds how much of each message is sent to the model.
const maxMessageChars = 4000

const systemPrompt = `You analyze email threads between an event planner and a vendor.

Return ONLY a JSON object with these fields:
- "currentStatus": the slug of the stage the relationship is in now, or null
- "statusProgression": array of {"statusSlug", "messageIndex", "matchedSignals", "confidence", "direction", "timestamp"}
  one entry per stage change you can point at; messageIndex refers to the [n] labels below;
  confidence is 0.0 to 1.0 and should be high only when the wording is explicit
- "projectSignals": {"eventName", "eventType", "eventDate" (YYYY-MM-DD), "venue", "guestCount", "budget"}; omit unknown fields
- "projectConfidence": 0.0 to 1.0
- "supplierSignals": array of {"name", "email", "category"}

Only use status slugs from the provided list. Use null rather than guessing.`

// llmExtractor builds a prompt, calls the model and coerces its reply.
type llmExtractor struct {
	client   completer
	scrubber redact.Scrubber
}

func (e *llmExtractor) Extract(ctx context.Context, req Request) (*thread.Analysis, error) {
	if len(req.Messages) == 0 {
		return &thread.Analysis{Source: thread.SourceAI}, nil
	}

	reply, err := e.client.Complete(ctx, systemPrompt, e.buildPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	return Coerce(reply, req.Messages)
}

func (e *llmExtractor) Available() bool {
	return true
}

func (e *llmExtractor) buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Allowed status slugs: ")
	b.WriteString(strings.Join(req.Statuses, ", "))
	b.WriteString("\n\nThread (oldest first):\n")

	for i, m := range req.Messages {
		text := e.scrubber.Scrub(m.Text()).Scrubbed
		if len(text) > maxMessageChars {
			text = text[:maxMessageChars] + "..."
		}
		fmt.Fprintf(&b, "\n[%d] %s %s", i, m.Direction, m.SentAt.UTC().Format(time.RFC3339))
		if m.Subject != "" {
			fmt.Fprintf(&b, "\nSubject: %s", e.scrubber.Scrub(m.Subject).Scrubbed)
		}
		fmt.Fprintf(&b, "\n%s\n", text)
	}
	return b.String()
}
