package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/noteduco342/om-channels/internal/apperr"
)

const (
	DefaultMaxMessageLength = 4000
	MaxDisplayNameLength    = 100
)

// user ids come from the token subject and are stored in size:191 columns
var userIDRe = regexp.MustCompile(`^[^\s]{1,191}$`)

func ValidateUserID(userID string) bool {
	return userIDRe.MatchString(userID)
}

func NormalizeDisplayName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

func ValidateDisplayName(name string) error {
	name = NormalizeDisplayName(name)
	if name == "" {
		return apperr.InvalidArg("display name is required")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return apperr.InvalidArg("display name is too long")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return apperr.InvalidArg("display name contains control characters")
		}
	}
	return nil
}

// NormalizeContent trims surrounding whitespace. Inner newlines are kept.
func NormalizeContent(content string) string {
	return strings.TrimSpace(content)
}

func ValidateContent(content string, max int) error {
	if max <= 0 {
		max = DefaultMaxMessageLength
	}
	if NormalizeContent(content) == "" {
		return apperr.InvalidArg("message content is required")
	}
	if utf8.RuneCountInString(content) > max {
		return apperr.InvalidArg("message content is too long")
	}
	return nil
}

// TrimAndLimit trims s and cuts it to at most max runes.
func TrimAndLimit(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// UniqueUserIDs drops blanks and duplicates, keeping first-seen order.
func UniqueUserIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
