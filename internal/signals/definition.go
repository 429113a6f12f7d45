package signals

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// ErrInvalidDefinition is returned when a definition table fails validation.
var ErrInvalidDefinition = errors.New("invalid status definition")

// Definition describes one lifecycle stage and the phrases that reveal it.
type Definition struct {
	Slug             string   `json:"slug" koanf:"slug" toml:"slug"`
	Name             string   `json:"name" koanf:"name" toml:"name"`
	Description      string   `json:"description,omitempty" koanf:"description" toml:"description"`
	Order            int      `json:"order" koanf:"order" toml:"order"`
	InboundSignals   []string `json:"inboundSignals,omitempty" koanf:"inbound_signals" toml:"inbound_signals"`
	OutboundSignals  []string `json:"outboundSignals,omitempty" koanf:"outbound_signals" toml:"outbound_signals"`
	ExclusionSignals []string `json:"exclusionSignals,omitempty" koanf:"exclusion_signals" toml:"exclusion_signals"`
}

// Phrases returns the phrase list that applies to messages in dir.
func (d Definition) Phrases(dir thread.Direction) []string {
	switch dir {
	case thread.Inbound:
		return d.InboundSignals
	case thread.Outbound:
		return d.OutboundSignals
	default:
		return nil
	}
}

// ValidateDefinitions checks that every definition has a unique slug.
func ValidateDefinitions(defs []Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for i, d := range defs {
		slug := strings.TrimSpace(d.Slug)
		if slug == "" {
			return fmt.Errorf("%w: definition %d has no slug", ErrInvalidDefinition, i)
		}
		if _, dup := seen[slug]; dup {
			return fmt.Errorf("%w: duplicate slug %q", ErrInvalidDefinition, slug)
		}
		seen[slug] = struct{}{}
	}
	return nil
}

// Lifecycle slugs shipped with the default table.
const (
	SlugInquirySent   = "inquiry-sent"
	SlugRFQSent       = "rfq-sent"
	SlugQuoteReceived = "quote-received"
	SlugNegotiating   = "negotiating"
	SlugBooked        = "booked"
	SlugCompleted     = "completed"
	SlugCancelled     = "cancelled"
)

// DefaultDefinitions returns the built-in vendor lifecycle.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Slug:        SlugInquirySent,
			Name:        "Inquiry Sent",
			Description: "First contact with the vendor about availability or services.",
			Order:       10,
			InboundSignals: []string{
				"thanks for reaching out",
				"thank you for your inquiry",
				"thanks for your interest",
			},
			OutboundSignals: []string{
				"are you available",
				"do you have availability",
				"check availability",
				"interested in your services",
			},
		},
		{
			Slug:        SlugRFQSent,
			Name:        "RFQ Sent",
			Description: "The planner asked the vendor for pricing.",
			Order:       20,
			InboundSignals: []string{
				"preparing a quote",
				"working on your quote",
				"received your request",
			},
			OutboundSignals: []string{
				"request for quote",
				"send us a quote",
				"send over pricing",
				"could you send a quote",
				"what would it cost",
			},
		},
		{
			Slug:        SlugQuoteReceived,
			Name:        "Quote Received",
			Description: "The vendor sent pricing or a proposal.",
			Order:       30,
			InboundSignals: []string{
				"our quote",
				"quote attached",
				"attached quote",
				"pricing breakdown",
				"estimate attached",
				"here is our proposal",
			},
			OutboundSignals: []string{
				"thanks for the quote",
				"received your quote",
				"reviewing your proposal",
			},
		},
		{
			Slug:        SlugNegotiating,
			Name:        "Negotiating",
			Description: "Terms or pricing are being adjusted.",
			Order:       40,
			InboundSignals: []string{
				"revised quote",
				"updated pricing",
				"best we can do",
				"we can offer",
			},
			OutboundSignals: []string{
				"any flexibility",
				"lower the price",
				"within our budget",
				"revised quote",
				"discount",
			},
		},
		{
			Slug:        SlugBooked,
			Name:        "Booked",
			Description: "The vendor is confirmed for the event.",
			Order:       50,
			InboundSignals: []string{
				"booking confirmed",
				"you are booked",
				"deposit received",
				"contract signed",
				"we have you down",
			},
			OutboundSignals: []string{
				"we would like to book",
				"we'd like to book",
				"deposit paid",
				"signed contract",
				"please proceed",
			},
			ExclusionSignals: []string{
				"not confirmed",
				"not ready to book",
				"before we book",
			},
		},
		{
			Slug:        SlugCompleted,
			Name:        "Completed",
			Description: "The event happened and the engagement is closed.",
			Order:       60,
			InboundSignals: []string{
				"thank you for having us",
				"final invoice",
				"pleasure working with you",
			},
			OutboundSignals: []string{
				"final payment sent",
				"event was a success",
				"thank you for a wonderful event",
			},
		},
		{
			Slug:        SlugCancelled,
			Name:        "Cancelled",
			Description: "Either side withdrew from the engagement.",
			Order:       90,
			InboundSignals: []string{
				"booking has been cancelled",
				"cancellation confirmed",
				"unable to accommodate",
				"no longer available",
			},
			OutboundSignals: []string{
				"cancel our booking",
				"need to cancel",
				"going with another vendor",
				"no longer need",
			},
			ExclusionSignals: []string{
				"cancellation policy",
				"free cancellation",
			},
		},
	}
}
