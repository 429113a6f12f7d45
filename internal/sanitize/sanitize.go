// Package sanitize normalizes and validates identifiers taken from
// untrusted input: request paths, definition files and model replies.
//
// Status slugs must match ^[a-z0-9][a-z0-9-]*$ and are at most
// MaxSlugLength bytes. Record IDs are opaque but limited to letters,
// digits, hyphen and underscore.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxSlugLength is the longest slug Slug produces.
	MaxSlugLength = 64

	// hashSuffixLength is "-" plus eight hex characters.
	hashSuffixLength = 9
)

// Slug normalizes s into a status slug.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces runs of other characters with a single hyphen
//   - Trims leading/trailing hyphens
//   - Truncates to MaxSlugLength with a hash suffix if too long
//
// Examples:
//
//	"Quote Received"  -> "quote-received"
//	"quote_received"  -> "quote-received"
//	"  BOOKED!! "     -> "booked"
//	"" or "!!!"       -> ""
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	hyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > MaxSlugLength {
		slug = truncateWithHash(slug)
	}
	return slug
}

// truncateWithHash shortens s to MaxSlugLength, appending a hash of the
// full value so distinct long inputs stay distinct.
//
// Format: <truncated>-<8-char-hash>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "-" + hex.EncodeToString(hash[:])[:8]

	truncated := strings.TrimRight(s[:MaxSlugLength-hashSuffixLength], "-")
	return truncated + suffix
}
