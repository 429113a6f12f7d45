// Package thread defines the message and analysis shapes shared by the
// analyzer, the decision engine and the project linker.
package thread

import (
	"strings"
	"time"
)

// Direction tells who sent a message.
type Direction string

const (
	// Inbound messages come from the vendor.
	Inbound Direction = "INBOUND"
	// Outbound messages come from the planner.
	Outbound Direction = "OUTBOUND"
)

// ParseDirection normalizes a loosely formatted direction string.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INBOUND", "IN", "RECEIVED":
		return Inbound, true
	case "OUTBOUND", "OUT", "SENT":
		return Outbound, true
	default:
		return "", false
	}
}

// Message is one email in a vendor conversation, ordered oldest first.
type Message struct {
	Index      int       `json:"index"`
	ID         string    `json:"id"`
	Direction  Direction `json:"direction"`
	Subject    string    `json:"subject,omitempty"`
	Content    string    `json:"content"`
	RawContent string    `json:"-"`
	SentAt     time.Time `json:"sentAt"`
	SupplierID string    `json:"supplierId,omitempty"`
	ProjectID  string    `json:"projectId,omitempty"`
}

// Text returns the cleaned content, or the raw content when no cleaned
// version exists.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	return m.RawContent
}

// Source records where the status part of an analysis came from.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// StatusDetection is one inferred lifecycle step.
type StatusDetection struct {
	StatusSlug     string    `json:"statusSlug"`
	MessageIndex   int       `json:"messageIndex"`
	MatchedSignals []string  `json:"matchedSignals,omitempty"`
	Confidence     float64   `json:"confidence"`
	Direction      Direction `json:"direction"`
	Timestamp      time.Time `json:"timestamp"`
}

// ProjectSignals are best-effort event details extracted from a thread.
type ProjectSignals struct {
	EventName  string     `json:"eventName,omitempty"`
	EventType  string     `json:"eventType,omitempty"`
	EventDate  *time.Time `json:"eventDate,omitempty"`
	Venue      string     `json:"venue,omitempty"`
	GuestCount *int       `json:"guestCount,omitempty"`
	Budget     *float64   `json:"budget,omitempty"`
}

// Empty reports whether no project signal was extracted.
func (p ProjectSignals) Empty() bool {
	return p.EventName == "" && p.EventType == "" && p.EventDate == nil &&
		p.Venue == "" && p.GuestCount == nil && p.Budget == nil
}

// SupplierSignal describes a vendor mentioned in the thread.
type SupplierSignal struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Category string `json:"category,omitempty"`
}

// Analysis is the normalized result of analyzing one thread. An empty
// CurrentStatus means nothing was detected, which is a valid outcome.
type Analysis struct {
	ProjectSignals    ProjectSignals    `json:"projectSignals"`
	ProjectConfidence float64           `json:"projectConfidence"`
	StatusProgression []StatusDetection `json:"statusProgression"`
	CurrentStatus     string            `json:"currentStatus,omitempty"`
	SupplierSignals   []SupplierSignal  `json:"supplierSignals,omitempty"`
	Source            Source            `json:"source"`
}

// HasStatus reports whether the analysis carries a usable status read.
func (a *Analysis) HasStatus() bool {
	return a != nil && a.CurrentStatus != "" && len(a.StatusProgression) > 0
}
