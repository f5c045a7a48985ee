package services

import (
	"regexp"
	"strings"
)

// Grep filters log lines case-insensitively. A pattern wrapped in slashes
// has them stripped; a pattern that does not compile as RE2 is matched as a
// plain substring. A nil *Grep matches every line.
type Grep struct {
	pattern string
	re      *regexp.Regexp
	needle  string
}

// NewGrep returns nil for an empty pattern.
func NewGrep(pattern string) *Grep {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil
	}

	body := pattern
	if len(body) >= 2 && strings.HasPrefix(body, "/") && strings.HasSuffix(body, "/") {
		body = body[1 : len(body)-1]
	}
	if body == "" {
		return nil
	}

	g := &Grep{pattern: body}
	if re, err := regexp.Compile("(?i)" + body); err == nil {
		g.re = re
	} else {
		g.needle = strings.ToLower(body)
	}
	return g
}

func (g *Grep) Match(line string) bool {
	if g == nil {
		return true
	}
	if g.re != nil {
		return g.re.MatchString(line)
	}
	return strings.Contains(strings.ToLower(line), g.needle)
}

// IsRegex reports whether the pattern compiled as a regular expression.
func (g *Grep) IsRegex() bool {
	return g != nil && g.re != nil
}

func (g *Grep) String() string {
	if g == nil {
		return ""
	}
	return g.pattern
}
