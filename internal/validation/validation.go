package validation

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// MaxStoreIDLen bounds store identifiers accepted from CSV and URLs.
const MaxStoreIDLen = 128

// ErrStoreIDEmpty is returned when a store ID is empty or whitespace-only.
var ErrStoreIDEmpty = errors.New("store id is required")

// ErrStoreIDTooLong is returned when a store ID exceeds MaxStoreIDLen.
var ErrStoreIDTooLong = errors.New("store id too long")

// ErrStoreIDInvalidChars is returned when a store ID contains disallowed characters.
var ErrStoreIDInvalidChars = errors.New("store id contains invalid characters")

// ErrReportIDInvalid is returned when a report ID is not a UUID.
var ErrReportIDInvalid = errors.New("report id must be a uuid")

// ErrReferenceTimeInvalid is returned when a reference time is not RFC3339.
var ErrReferenceTimeInvalid = errors.New("reference time must be RFC3339")

// ValidateStoreID checks a store ID: non-empty, at most MaxStoreIDLen bytes,
// letters, digits, hyphen, underscore and dot only. The ID is not trimmed;
// callers trim CSV fields before validating.
func ValidateStoreID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrStoreIDEmpty
	}
	if len(id) > MaxStoreIDLen {
		return ErrStoreIDTooLong
	}
	for _, c := range id {
		if !isAllowedStoreIDRune(c) {
			return ErrStoreIDInvalidChars
		}
	}
	return nil
}

func isAllowedStoreIDRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	}
	return false
}

// ValidateReportID parses a report ID and returns its canonical form.
func ValidateReportID(id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", ErrReportIDInvalid
	}
	return u.String(), nil
}

// ParseReferenceTime parses an optional RFC3339 instant. Empty input returns
// nil so the caller falls back to its configured reference time.
func ParseReferenceTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, ErrReferenceTimeInvalid
	}
	t = t.UTC()
	return &t, nil
}
