package catalog

import (
	"fmt"
	"strings"
)

// Match checks if an event type name matches a subscription pattern.
//
// Supported patterns:
//
//	"invoice.created"  → exact match
//	"invoice.*"        → matches invoice.created, invoice.paid (single segment wildcard)
//	"invoice.**"       → matches invoice.created, invoice.payment.failed (one or more trailing segments)
//	"*" or "**"        → matches everything
func Match(pattern, eventType string) bool {
	if pattern == "*" || pattern == "**" {
		return true
	}

	if pattern == eventType {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	eventParts := strings.Split(eventType, ".")

	for i, pp := range patternParts {
		if pp == "**" {
			return i == len(patternParts)-1 && len(eventParts) > i
		}
		if i >= len(eventParts) {
			return false
		}
		if pp != "*" && pp != eventParts[i] {
			return false
		}
	}

	return len(patternParts) == len(eventParts)
}

// MatchAny reports whether any pattern matches eventType.
func MatchAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if Match(p, eventType) {
			return true
		}
	}
	return false
}

// ValidatePattern rejects patterns Match would never satisfy sensibly:
// empty segments, partial wildcards like "inv*", or "**" before the end.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	parts := strings.Split(pattern, ".")
	for i, p := range parts {
		switch {
		case p == "":
			return fmt.Errorf("pattern %q has an empty segment", pattern)
		case p == "**" && i != len(parts)-1:
			return fmt.Errorf("pattern %q: ** is only allowed as the last segment", pattern)
		case p != "*" && p != "**" && strings.Contains(p, "*"):
			return fmt.Errorf("pattern %q: wildcards must span a whole segment", pattern)
		}
	}
	return nil
}

// ValidateName checks an event type name: dot-separated, non-empty segments,
// no wildcards.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty event type")
	}
	for p := range strings.SplitSeq(name, ".") {
		if p == "" {
			return fmt.Errorf("event type %q has an empty segment", name)
		}
		if strings.ContainsAny(p, "* \t\n") {
			return fmt.Errorf("event type %q contains an invalid character", name)
		}
	}
	return nil
}
