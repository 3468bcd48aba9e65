package event

import "strings"

// Topic represents a hierarchical event type using dot notation.
// Examples: "document.replaced", "sync.applied", "surface.closed".
type Topic string

// Wildcard constants for pattern matching.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"

	// Separator is the character used to separate topic segments.
	Separator = "."
)

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// Segments returns the topic split by the separator.
func (t Topic) Segments() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), Separator)
}

// IsPattern returns true if the topic contains wildcards.
func (t Topic) IsPattern() bool {
	return strings.Contains(string(t), WildcardSingle)
}

// Match reports whether the pattern matches the concrete topic.
// "*" matches exactly one segment; "**" matches zero or more segments.
func Match(pattern, topic Topic) bool {
	return matchSegments(pattern.Segments(), topic.Segments())
}

func matchSegments(pattern, topic []string) bool {
	if len(pattern) == 0 {
		return len(topic) == 0
	}

	switch pattern[0] {
	case WildcardMulti:
		// "**" can consume zero segments or one segment and stay.
		if matchSegments(pattern[1:], topic) {
			return true
		}
		if len(topic) == 0 {
			return false
		}
		return matchSegments(pattern, topic[1:])
	case WildcardSingle:
		if len(topic) == 0 {
			return false
		}
		return matchSegments(pattern[1:], topic[1:])
	default:
		if len(topic) == 0 || pattern[0] != topic[0] {
			return false
		}
		return matchSegments(pattern[1:], topic[1:])
	}
}
