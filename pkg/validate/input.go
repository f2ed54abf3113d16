// Package validate checks user-supplied identifiers before they reach upstream URLs
package validate

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "curve_core/pkg/errors"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Identifier checks a chain name, token or account used as a URL path segment.
// Dot-only values are rejected so they cannot walk up the API path.
func Identifier(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: %s is required", apperrors.ErrInvalidRequest, field)
	}
	if !identifierPattern.MatchString(value) || strings.Trim(value, ".") == "" {
		return fmt.Errorf("%w: %s %q contains unsupported characters", apperrors.ErrInvalidRequest, field, value)
	}
	return nil
}
