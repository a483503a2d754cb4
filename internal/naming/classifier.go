package naming

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Classifier decides which raw model names are of interest
type Classifier struct {
	patterns []*regexp.Regexp
}

// NewClassifier compiles interest patterns. Matching is case-insensitive.
func NewClassifier(patterns []string) (*Classifier, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid model pattern %q: %w", trimmed, err)
		}
		compiled = append(compiled, re)
	}
	return &Classifier{patterns: compiled}, nil
}

// Match reports whether raw matches at least one pattern anywhere in the string.
func (c *Classifier) Match(raw string) bool {
	for _, re := range c.patterns {
		if re.MatchString(raw) {
			return true
		}
	}
	return false
}

// Candidates returns the sorted, de-duplicated subset of names that match.
func (c *Classifier) Candidates(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	candidates := make([]string, 0)
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		// Blank names carry no model and cannot be normalized.
		if strings.TrimSpace(name) == "" {
			continue
		}
		if c.Match(name) {
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates)
	return candidates
}

// Len returns the number of compiled patterns.
func (c *Classifier) Len() int {
	return len(c.patterns)
}
