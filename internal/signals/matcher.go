package signals

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// Confidence scoring constants.
const (
	baseConfidence      = 0.6
	perSignalBonus      = 0.1
	maxSpecificityBonus = 0.15
	specificityDivisor  = 20.0

	// MaxConfidence is the ceiling for fallback detections. It sits one
	// step below the default auto-apply threshold (0.85) so a phrase match
	// alone can only ever produce a proposal.
	MaxConfidence = 0.84
)

// Match is the winning definition for a single message.
type Match struct {
	Slug           string   `json:"slug"`
	Order          int      `json:"order"`
	MatchedSignals []string `json:"matchedSignals"`
	Confidence     float64  `json:"confidence"`
}

// Confidence scores a set of matched phrases:
// min(0.6 + 0.1*n + min(avgLen/20, 0.15), MaxConfidence).
func Confidence(matched []string) float64 {
	if len(matched) == 0 {
		return 0
	}
	total := 0
	for _, m := range matched {
		total += utf8.RuneCountInString(m)
	}
	avg := float64(total) / float64(len(matched))
	score := baseConfidence + perSignalBonus*float64(len(matched)) + math.Min(avg/specificityDivisor, maxSpecificityBonus)
	return math.Min(round4(score), MaxConfidence)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

type compiledDefinition struct {
	def       Definition
	inbound   []string
	outbound  []string
	exclusion []string
}

// Table is an immutable, pre-normalized set of definitions.
type Table struct {
	defs   []compiledDefinition
	bySlug map[string]Definition
}

// NewTable normalizes defs for matching. Order is preserved.
func NewTable(defs []Definition) *Table {
	t := &Table{
		defs:   make([]compiledDefinition, 0, len(defs)),
		bySlug: make(map[string]Definition, len(defs)),
	}
	for _, d := range defs {
		t.defs = append(t.defs, compiledDefinition{
			def:       d,
			inbound:   normalizeAll(d.InboundSignals),
			outbound:  normalizeAll(d.OutboundSignals),
			exclusion: normalizeAll(d.ExclusionSignals),
		})
		t.bySlug[d.Slug] = d
	}
	return t
}

// Definitions returns a copy of the definitions in table order.
func (t *Table) Definitions() []Definition {
	out := make([]Definition, 0, len(t.defs))
	for _, cd := range t.defs {
		out = append(out, cd.def)
	}
	return out
}

// Lookup returns the definition for slug.
func (t *Table) Lookup(slug string) (Definition, bool) {
	d, ok := t.bySlug[slug]
	return d, ok
}

// Slugs returns every known slug sorted by lifecycle order.
func (t *Table) Slugs() []string {
	defs := t.Definitions()
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Order < defs[j].Order })
	slugs := make([]string, len(defs))
	for i, d := range defs {
		slugs[i] = d.Slug
	}
	return slugs
}

// Len returns the number of definitions.
func (t *Table) Len() int {
	return len(t.defs)
}

// MatchText finds the best definition for one message body. Ties go to
// the definition with more matched phrases, then the higher lifecycle
// order, then the lexically smaller slug.
func (t *Table) MatchText(text string, dir thread.Direction) (Match, bool) {
	haystack := normalize(text)
	if haystack == "" {
		return Match{}, false
	}

	var best Match
	found := false
	for _, cd := range t.defs {
		var phrases []string
		switch dir {
		case thread.Inbound:
			phrases = cd.inbound
		case thread.Outbound:
			phrases = cd.outbound
		}
		if len(phrases) == 0 {
			continue
		}

		var matched []string
		for _, p := range phrases {
			if containsPhrase(haystack, p) {
				matched = append(matched, p)
			}
		}
		if len(matched) == 0 || excluded(haystack, cd.exclusion) {
			continue
		}

		candidate := Match{
			Slug:           cd.def.Slug,
			Order:          cd.def.Order,
			MatchedSignals: matched,
			Confidence:     Confidence(matched),
		}
		if !found || better(candidate, best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

// MatchThread scans messages from newest to oldest and returns the winner
// of the first message that matches anything. Older messages are not
// consulted once a match is found.
func (t *Table) MatchThread(msgs []thread.Message) (Match, thread.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := t.MatchText(msgs[i].Text(), msgs[i].Direction); ok {
			return m, msgs[i], true
		}
	}
	return Match{}, thread.Message{}, false
}

func better(a, b Match) bool {
	if len(a.MatchedSignals) != len(b.MatchedSignals) {
		return len(a.MatchedSignals) > len(b.MatchedSignals)
	}
	if a.Order != b.Order {
		return a.Order > b.Order
	}
	return a.Slug < b.Slug
}

func excluded(haystack string, exclusions []string) bool {
	for _, e := range exclusions {
		if containsPhrase(haystack, e) {
			return true
		}
	}
	return false
}

// normalize lower-cases s and collapses whitespace runs to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeAll(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// containsPhrase reports whether phrase occurs in haystack without being
// glued to a letter or digit on either side.
func containsPhrase(haystack, phrase string) bool {
	if phrase == "" {
		return false
	}
	offset := 0
	for offset <= len(haystack)-len(phrase) {
		i := strings.Index(haystack[offset:], phrase)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(phrase)
		if boundaryBefore(haystack, start) && boundaryAfter(haystack, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(haystack[start:])
		offset = start + size
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
