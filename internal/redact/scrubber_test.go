package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrub_DefaultRules(t *testing.T) {
	s := MustNew(nil)

	tests := []struct {
		name     string
		input    string
		rule     string
		mustDrop string
	}{
		{
			name:     "card number with spaces",
			input:    "Please charge 4111 1111 1111 1111 for the deposit.",
			rule:     "card-number",
			mustDrop: "4111 1111 1111 1111",
		},
		{
			name:     "card security code",
			input:    "CVV: 123",
			rule:     "card-security-code",
			mustDrop: "123",
		},
		{
			name:     "iban",
			input:    "Wire to GB82 WEST 1234 5698 7654 32 by Friday",
			rule:     "iban",
			mustDrop: "GB82 WEST",
		},
		{
			name:     "routing number",
			input:    "Routing number: 021000021 and thanks!",
			rule:     "bank-account",
			mustDrop: "021000021",
		},
		{
			name:     "portal password",
			input:    "Vendor portal password: hunter2!",
			rule:     "password",
			mustDrop: "hunter2",
		},
		{
			name:     "provider key",
			input:    "use sk-live-abcdefghijklmnop1234 for the payment link",
			rule:     "provider-key",
			mustDrop: "abcdefghijklmnop1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Scrub(tt.input)
			require.True(t, res.HasFindings())
			assert.Positive(t, res.ByRule[tt.rule])
			assert.NotContains(t, res.Scrubbed, tt.mustDrop)
			assert.Contains(t, res.Scrubbed, "[REDACTED]")
		})
	}
}

func TestScrub_LeavesOrdinaryMailAlone(t *testing.T) {
	s := MustNew(nil)
	input := "Hi Sam, our quote for 120 guests is $4,500. Call me at 555-123-4567."

	res := s.Scrub(input)
	assert.False(t, res.HasFindings())
	assert.Equal(t, input, res.Scrubbed)
}

func TestScrub_LuhnFiltersNonCards(t *testing.T) {
	s := MustNew(nil)

	res := s.Scrub("Order reference 1234 5678 9012 3456")
	assert.Zero(t, res.ByRule["card-number"])
}

func TestScrub_AllowList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowList = []string{`^4111`}
	s := MustNew(cfg)

	res := s.Scrub("test card 4111 1111 1111 1111")
	assert.Contains(t, res.Scrubbed, "4111 1111 1111 1111")
}

func TestScrub_MergesOverlaps(t *testing.T) {
	cfg := &Config{
		Enabled:     true,
		Replacement: "#",
		Rules: []Rule{
			{ID: "a", Pattern: `abc`},
			{ID: "b", Pattern: `bcd`},
		},
	}
	s := MustNew(cfg)

	res := s.Scrub("xabcdx")
	assert.Equal(t, "x#x", res.Scrubbed)
	assert.Equal(t, 2, res.TotalFindings)
}

func TestNew_Disabled(t *testing.T) {
	s, err := New(&Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, s.IsEnabled())

	in := "password: hunter22"
	assert.Equal(t, in, s.Scrub(in).Scrubbed)
}

func TestNew_InvalidRule(t *testing.T) {
	_, err := New(&Config{Enabled: true, Rules: []Rule{{ID: "bad", Pattern: "("}}})
	assert.Error(t, err)

	_, err = New(&Config{Enabled: true, Rules: []Rule{{Pattern: "x"}}})
	assert.Error(t, err)

	assert.Panics(t, func() { MustNew(&Config{Enabled: true, Rules: []Rule{{ID: "x"}}}) })

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	cfg.AllowList = []string{"(unclosed"}
	assert.ErrorContains(t, cfg.Validate(), "allow_list[0]")
}

func TestLuhnValid(t *testing.T) {
	assert.True(t, luhnValid("4111111111111111"))
	assert.True(t, luhnValid("5500-0000-0000-0004"))
	assert.False(t, luhnValid("4111111111111112"))
	assert.False(t, luhnValid(strings.Repeat("0", 5)))
}
