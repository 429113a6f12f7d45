package extraction

import (
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/vendorflow/internal/sanitize"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02/01/2006",
}

// Coerce parses a model reply into an Analysis. Only a reply that is not
// a JSON object at all is an error; individual malformed fields are dropped
// or defaulted.
func Coerce(reply string, msgs []thread.Message) (*thread.Analysis, error) {
	body := stripFences(reply)
	if !gjson.Valid(body) {
		return nil, ErrUnparseable
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, ErrUnparseable
	}

	a := &thread.Analysis{
		Source:            thread.SourceAI,
		CurrentStatus:     slug(field(root, "currentStatus", "current_status")),
		ProjectConfidence: clamp(field(root, "projectConfidence", "project_confidence").Float()),
		ProjectSignals:    projectSignals(field(root, "projectSignals", "project_signals")),
		StatusProgression: []thread.StatusDetection{},
	}

	for _, entry := range field(root, "statusProgression", "status_progression").Array() {
		if d, ok := detection(entry, msgs); ok {
			a.StatusProgression = append(a.StatusProgression, d)
		}
	}

	for _, s := range field(root, "supplierSignals", "supplier_signals").Array() {
		sig := thread.SupplierSignal{
			Name:     str(s.Get("name")),
			Email:    strings.ToLower(str(s.Get("email"))),
			Category: str(s.Get("category")),
		}
		if sig != (thread.SupplierSignal{}) {
			a.SupplierSignals = append(a.SupplierSignals, sig)
		}
	}
	return a, nil
}

func detection(entry gjson.Result, msgs []thread.Message) (thread.StatusDetection, bool) {
	if !entry.IsObject() {
		return thread.StatusDetection{}, false
	}
	s := slug(field(entry, "statusSlug", "status_slug", "status"))
	if s == "" {
		return thread.StatusDetection{}, false
	}

	d := thread.StatusDetection{
		StatusSlug:   s,
		MessageIndex: len(msgs) - 1,
		Confidence:   clamp(field(entry, "confidence").Float()),
	}

	idx := field(entry, "messageIndex", "message_index")
	if idx.Type == gjson.Number {
		if i := int(idx.Int()); i >= 0 && i < len(msgs) {
			d.MessageIndex = i
		}
	}

	for _, sig := range field(entry, "matchedSignals", "matched_signals").Array() {
		if v := str(sig); v != "" {
			d.MatchedSignals = append(d.MatchedSignals, v)
		}
	}

	var ref *thread.Message
	if d.MessageIndex >= 0 && d.MessageIndex < len(msgs) {
		ref = &msgs[d.MessageIndex]
	}

	if dir, ok := thread.ParseDirection(field(entry, "direction").String()); ok {
		d.Direction = dir
	} else if ref != nil {
		d.Direction = ref.Direction
	}

	if ts, ok := parseTime(field(entry, "timestamp").String()); ok {
		d.Timestamp = ts
	} else if ref != nil {
		d.Timestamp = ref.SentAt
	}
	return d, true
}

func projectSignals(r gjson.Result) thread.ProjectSignals {
	var p thread.ProjectSignals
	if !r.IsObject() {
		return p
	}
	p.EventName = str(field(r, "eventName", "event_name"))
	p.EventType = str(field(r, "eventType", "event_type"))
	p.Venue = str(field(r, "venue"))
	if ts, ok := parseTime(field(r, "eventDate", "event_date").String()); ok {
		p.EventDate = &ts
	}
	if g := field(r, "guestCount", "guest_count"); g.Type == gjson.Number && g.Int() > 0 {
		n := int(g.Int())
		p.GuestCount = &n
	}
	if b := field(r, "budget"); b.Type == gjson.Number && b.Float() > 0 {
		v := b.Float()
		p.Budget = &v
	}
	return p
}

// field returns the first of names present on r.
func field(r gjson.Result, names ...string) gjson.Result {
	for _, n := range names {
		if v := r.Get(n); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func str(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(r.String())
}

func slug(r gjson.Result) string {
	s := sanitize.Slug(str(r))
	if s == "null" || s == "none" || s == "unknown" {
		return ""
	}
	return s
}

// clamp maps v into [0,1]. Values in (1,100] are read as percentages.
func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v <= 1:
		return v
	case v <= 100:
		return v / 100
	default:
		return 1
	}
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// stripFences removes markdown code fences and any prose around the
// outermost JSON object.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
