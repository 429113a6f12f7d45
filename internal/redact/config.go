package redact

import (
	"fmt"
	"regexp"
	"strings"
)

const defaultReplacement = "[REDACTED]"

// Config selects the rules a scrubber applies.
type Config struct {
	Enabled     bool     `koanf:"enabled"`
	Rules       []Rule   `koanf:"rules"`
	Replacement string   `koanf:"replacement"`
	AllowList   []string `koanf:"allow_list"` // matches of these patterns are kept
}

// Rule matches one kind of sensitive value.
type Rule struct {
	ID          string `koanf:"id"`
	Description string `koanf:"description"`
	Pattern     string `koanf:"pattern"`

	// Keywords gate the rule: it only runs when one of them occurs in the
	// text, case-insensitively.
	Keywords []string `koanf:"keywords"`

	// Luhn drops matches whose digits fail the card checksum.
	Luhn bool `koanf:"luhn"`
}

// DefaultConfig enables the built-in rules.
func DefaultConfig() *Config {
	return &Config{Enabled: true, Replacement: defaultReplacement, Rules: DefaultRules()}
}

// Validate reports the first rule or allow-list pattern that does not
// compile.
func (c *Config) Validate() error {
	_, err := c.compile()
	return err
}

type matcher struct {
	id       string
	luhn     bool
	pattern  *regexp.Regexp
	keywords *regexp.Regexp
}

type compiled struct {
	replacement string
	matchers    []matcher
	allow       []*regexp.Regexp
}

func (c *Config) compile() (*compiled, error) {
	out := &compiled{replacement: c.Replacement}
	if out.replacement == "" {
		out.replacement = defaultReplacement
	}
	for i, r := range c.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d has no id", i)
		}
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %s has no pattern", r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		m := matcher{id: r.ID, luhn: r.Luhn, pattern: re}
		if len(r.Keywords) > 0 {
			quoted := make([]string, len(r.Keywords))
			for j, kw := range r.Keywords {
				quoted[j] = regexp.QuoteMeta(kw)
			}
			m.keywords = regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))
		}
		out.matchers = append(out.matchers, m)
	}
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list[%d]: %w", i, err)
		}
		out.allow = append(out.allow, re)
	}
	return out, nil
}
