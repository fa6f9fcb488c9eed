package event

import "strings"

// Topic is a dot-separated event type such as "reload.css".
type Topic string

// Wildcards accepted in subscription patterns.
const (
	WildcardSingle = "*"
	WildcardMulti  = "**"
	Separator      = "."
)

// Reload topics.
const (
	TopicReloadCSS  Topic = "reload.css"
	TopicReloadPage Topic = "reload.page"
	TopicReloadAll  Topic = "reload.*"
)

// Segments splits the topic on the separator.
func (t Topic) Segments() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), Separator)
}

// IsValid reports whether every segment is non-empty.
func (t Topic) IsValid() bool {
	if t == "" {
		return false
	}
	for _, seg := range t.Segments() {
		if seg == "" {
			return false
		}
	}
	return true
}

// Matches reports whether t matches pattern.
func (t Topic) Matches(pattern Topic) bool {
	return matchSegments(t.Segments(), pattern.Segments())
}

func matchSegments(topic, pattern []string) bool {
	for len(pattern) > 0 {
		switch head := pattern[0]; head {
		case WildcardMulti:
			for i := 0; i <= len(topic); i++ {
				if matchSegments(topic[i:], pattern[1:]) {
					return true
				}
			}
			return false
		default:
			if len(topic) == 0 || (head != WildcardSingle && head != topic[0]) {
				return false
			}
			topic, pattern = topic[1:], pattern[1:]
		}
	}
	return len(topic) == 0
}
