// Package topic implements hierarchical topic names and wildcard patterns.
//
// Topics are dot-separated segments such as "verity.document.created".
// Patterns use the same syntax plus two wildcards:
//
//   - "*" matches exactly one segment
//   - "#" matches zero or more segments, anywhere in the pattern
//
// Matching is a pure function; the local and distributed buses share it.
package topic

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard and separator constants.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "#"

	// Separator separates topic segments.
	Separator = "."
)

var (
	// ErrInvalidPattern is returned for malformed subscription patterns.
	ErrInvalidPattern = errors.New("invalid topic pattern")

	// ErrInvalidTopic is returned for malformed publish topics.
	ErrInvalidTopic = errors.New("invalid topic")
)

// Matches reports whether topic matches pattern.
//
//	Matches("verity.*", "verity.created")        // true
//	Matches("verity.#", "verity")                // true
//	Matches("a.*.c", "a.b.b.c")                  // false
//	Matches("#.created", "noteman.note.created") // true
//
// An empty pattern matches only the empty topic.
func Matches(pattern, topic string) bool {
	return matchSegments(Segments(pattern), Segments(topic))
}

// matchSegments walks pattern and topic segments, backtracking on "#".
func matchSegments(pattern, topic []string) bool {
	pi, ti := 0, 0

	for pi < len(pattern) {
		if pattern[pi] == WildcardMulti {
			// Collapse consecutive "#" segments.
			for pi < len(pattern) && pattern[pi] == WildcardMulti {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for k := ti; k <= len(topic); k++ {
				if matchSegments(pattern[pi:], topic[k:]) {
					return true
				}
			}
			return false
		}

		if ti >= len(topic) {
			return false
		}

		if pattern[pi] != WildcardSingle && pattern[pi] != topic[ti] {
			return false
		}
		pi++
		ti++
	}

	return ti == len(topic)
}

// Segments splits s on the separator. The empty string has no segments.
func Segments(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, Separator)
}

// Join joins segments into a topic.
func Join(segments ...string) string {
	return strings.Join(segments, Separator)
}

// IsWildcard reports whether pattern contains a wildcard segment.
func IsWildcard(pattern string) bool {
	for _, seg := range Segments(pattern) {
		if seg == WildcardSingle || seg == WildcardMulti {
			return true
		}
	}
	return false
}

// Validate checks that pattern is usable for subscriptions.
//
// A valid pattern is non-empty, has no empty segments, and uses wildcard
// characters only as whole segments ("a.*" is valid, "a*" is not).
func Validate(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	for i, seg := range Segments(pattern) {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment at position %d", ErrInvalidPattern, pattern, i)
		}
		if seg == WildcardSingle || seg == WildcardMulti {
			continue
		}
		if strings.ContainsAny(seg, WildcardSingle+WildcardMulti) {
			return fmt.Errorf("%w: %q mixes wildcards and literals in segment %q", ErrInvalidPattern, pattern, seg)
		}
	}
	return nil
}

// ValidateTopic checks that topic is usable for publishing: a valid
// pattern with no wildcard segments.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	for _, seg := range Segments(topic) {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, topic)
		}
		if strings.ContainsAny(seg, WildcardSingle+WildcardMulti) {
			return fmt.Errorf("%w: %q contains wildcard characters", ErrInvalidTopic, topic)
		}
	}
	return nil
}

// Channel builds a transport-level name for topic under prefix.
//
//	Channel("platform_events", ":", "verity.created") // "platform_events:verity.created"
//	Channel("platform_events", ".", "verity.created") // "platform_events.verity.created"
func Channel(prefix, sep, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + sep + topic
}

// Strip removes the prefix added by Channel. It returns false when name
// does not carry prefix and sep, or nothing is left after them.
func Strip(prefix, sep, name string) (string, bool) {
	if prefix == "" {
		return name, name != ""
	}
	rest, ok := strings.CutPrefix(name, prefix+sep)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
