package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation errors.
var (
	// ErrInvalidID indicates a record ID has an unexpected format.
	ErrInvalidID = errors.New("invalid id")

	// ErrInvalidSlug indicates a status slug has an unexpected format.
	ErrInvalidSlug = errors.New("invalid slug")

	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// MaxIDLength bounds record IDs accepted from callers.
const MaxIDLength = 128

var (
	idPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// ValidID reports whether id is a well-formed record ID.
func ValidID(id string) bool {
	return id != "" && len(id) <= MaxIDLength && utf8.ValidString(id) && idPattern.MatchString(id)
}

// ValidateID checks a caller-supplied record ID. field names the
// parameter in the error.
func ValidateID(field, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: %s is required", ErrInvalidID, field)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidID, field, MaxIDLength)
	case !ValidID(id):
		return fmt.Errorf("%w: %s may only contain letters, digits, '-' and '_'", ErrInvalidID, field)
	}
	return nil
}

// ValidateSlug checks that slug is already in the form Slug produces.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSlug)
	}
	if len(slug) > MaxSlugLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidSlug, slug, MaxSlugLength)
	}
	if !slugPattern.MatchString(slug) || strings.HasSuffix(slug, "-") || strings.Contains(slug, "--") {
		return fmt.Errorf("%w: %q must be lowercase letters, digits and single hyphens", ErrInvalidSlug, slug)
	}
	return nil
}

// ValidatePath checks a path for security issues:
//   - No directory traversal (..)
//   - Resolves to absolute path and validates it stays within expected root
//   - Returns the cleaned, absolute path or an error
//
// If allowedRoot is empty, only traversal checks are performed.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == filepath.Separator }) {
		if part == ".." {
			return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
		}
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}

	return absPath, nil
}
