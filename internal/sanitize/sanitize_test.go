package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already a slug", "quote-received", "quote-received"},
		{"uppercase", "BOOKED", "booked"},
		{"underscores", "quote_received", "quote-received"},
		{"spaces", "Quote Received", "quote-received"},
		{"runs collapsed", "rfq -- sent", "rfq-sent"},
		{"edges trimmed", "  booked!! ", "booked"},
		{"digits kept", "stage 2", "stage-2"},
		{"empty", "", ""},
		{"only invalid chars", "!!!", ""},
		{"non-ascii dropped", "café booked", "caf-booked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slug(tt.input))
		})
	}
}

func TestSlug_LengthLimit(t *testing.T) {
	long := strings.Repeat("negotiating ", 10)
	got := Slug(long)
	assert.Len(t, got, MaxSlugLength)
	assert.NoError(t, ValidateSlug(got))

	other := Slug(long + "x")
	assert.NotEqual(t, got, other, "hash suffix keeps long inputs distinct")
}

func TestSlug_ExactlyMaxLength(t *testing.T) {
	s := strings.Repeat("a", MaxSlugLength)
	assert.Equal(t, s, Slug(s))
}

func TestSlug_OutputValidates(t *testing.T) {
	for _, in := range []string{"Quote Received", "rfq_sent", "x", "A--B", "9 lives"} {
		assert.NoError(t, ValidateSlug(Slug(in)), in)
	}
}
