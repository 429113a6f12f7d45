// Package linking decides which project a vendor thread belongs to.
package linking

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// Decision is the outcome of scoring a thread against live projects.
type Decision string

const (
	DecisionAuto      Decision = "AUTO"
	DecisionAmbiguous Decision = "AMBIGUOUS"
	DecisionNoMatch   Decision = "NO_MATCH"
)

// Score weights.
const (
	weightRelationship = 0.40
	weightNameOverlap  = 0.35
	weightEventName    = 0.30
	weightSameDay      = 0.25
	weightNearDate     = 0.10
	weightVenue        = 0.20
	weightEventType    = 0.10
	weightSoon         = 0.15
	weightUpcoming     = 0.10

	nearDateWindow = 7 * 24 * time.Hour
	soonWindow     = 30 * 24 * time.Hour
	upcomingWindow = 90 * 24 * time.Hour
)

// Candidate is one scored project.
type Candidate struct {
	ProjectID string     `json:"projectId"`
	Name      string     `json:"name"`
	EventDate *time.Time `json:"eventDate,omitempty"`
	Score     float64    `json:"score"`
	Reasons   []string   `json:"reasons"`
}

// Input is what the scorer knows about a thread.
type Input struct {
	// Text is the thread's subjects and bodies.
	Text string
	// Signals are the AI-extracted project details, possibly empty.
	Signals thread.ProjectSignals
	// Related marks projects that already have a relationship with one of
	// the thread's suppliers.
	Related map[string]bool
}

// InputFromMessages concatenates the raw content of msgs, using the cleaned
// content for messages that have no raw body.
func InputFromMessages(msgs []thread.Message, signals thread.ProjectSignals, related map[string]bool) Input {
	var b strings.Builder
	for _, m := range msgs {
		text := m.RawContent
		if text == "" {
			text = m.Content
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return Input{Text: b.String(), Signals: signals, Related: related}
}

// Score rates every project against in. Scores are capped at 1.0 and
// rounded to four decimals. The result is sorted best first, ties broken
// by name and then id.
func Score(projects []store.Project, in Input, now time.Time) []Candidate {
	text := strings.ToLower(in.Text)
	out := make([]Candidate, 0, len(projects))
	for _, p := range projects {
		out = append(out, scoreProject(p, in, text, now))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out
}

func scoreProject(p store.Project, in Input, text string, now time.Time) Candidate {
	c := Candidate{ProjectID: p.ID, Name: p.Name, EventDate: p.EventDate, Reasons: []string{}}
	var score float64
	add := func(w float64, reason string) {
		score += w
		c.Reasons = append(c.Reasons, reason)
	}

	if in.Related[p.ID] {
		add(weightRelationship, "supplier already works on this project")
	}
	if nameOverlap(p.Name, text) {
		add(weightNameOverlap, "project name appears in thread")
	}

	sig := in.Signals
	if sig.EventName != "" && containsEither(p.Name, sig.EventName) {
		add(weightEventName, "event name matches project name")
	}
	if sig.EventDate != nil && p.EventDate != nil {
		switch {
		case sameDay(*sig.EventDate, *p.EventDate):
			add(weightSameDay, "event date matches")
		case absDuration(sig.EventDate.Sub(*p.EventDate)) <= nearDateWindow:
			add(weightNearDate, "event date within a week")
		}
	}
	if sig.Venue != "" && p.Venue != "" && containsEither(p.Venue, sig.Venue) {
		add(weightVenue, "venue matches")
	}
	if sig.EventType != "" && p.EventType != "" && containsEither(p.EventType, sig.EventType) {
		add(weightEventType, "event type matches")
	}

	if p.EventDate != nil {
		until := p.EventDate.Sub(now)
		switch {
		case until >= 0 && until <= soonWindow:
			add(weightSoon, "event within 30 days")
		case until >= 0 && until <= upcomingWindow:
			add(weightUpcoming, "event within 90 days")
		}
	}

	c.Score = math.Min(round4(score), 1.0)
	return c
}

// Decide applies the auto-link rule to sorted candidates. Only candidates
// with a positive score are kept in the result.
func Decide(cands []Candidate, cfg Config) Result {
	positive := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Score > 0 {
			positive = append(positive, c)
		}
	}
	if len(positive) == 0 {
		return Result{Decision: DecisionNoMatch, Candidates: positive}
	}

	top := positive[0]
	if top.Score >= cfg.AutoLinkScore &&
		(len(positive) == 1 || round4(top.Score-positive[1].Score) >= cfg.Margin) {
		return Result{Decision: DecisionAuto, ProjectID: top.ProjectID, Confidence: top.Score, Candidates: positive}
	}
	return Result{Decision: DecisionAmbiguous, Confidence: top.Score, Candidates: positive}
}

// nameOverlap reports whether enough of the project name's significant
// words occur as substrings of the lower-cased thread text.
func nameOverlap(name, text string) bool {
	var significant []string
	for _, w := range tokenize(name) {
		if len([]rune(w)) > 2 {
			significant = append(significant, w)
		}
	}
	if len(significant) == 0 {
		return false
	}
	need := min(2, len(significant))
	hits := 0
	for _, w := range significant {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return hits >= need
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsEither(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
