package config

import (
	"path"
	"strings"
)

// Normalize trims list settings and removes empty values.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Patterns = normalizeList(c.Patterns)
	c.ExcludeModels = normalizePatterns(c.ExcludeModels)
	c.Format = strings.TrimSpace(c.Format)
	c.DSN = strings.TrimSpace(c.DSN)
}

// IsModelExcluded reports whether a raw model name matches an exclude glob.
// Matching ignores case and surrounding whitespace.
func (c *Config) IsModelExcluded(rawModel string) bool {
	if c == nil || len(c.ExcludeModels) == 0 {
		return false
	}

	value := normalizePattern(rawModel)
	if value == "" {
		return false
	}

	for _, pattern := range c.ExcludeModels {
		if patternMatches(pattern, value) {
			return true
		}
	}
	return false
}

func normalizePatterns(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	normalized := make([]string, 0, len(values))
	for _, pattern := range values {
		p := normalizePattern(pattern)
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return normalized
}

func normalizePattern(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

func patternMatches(pattern, value string) bool {
	normalizedPattern := normalizePattern(pattern)
	normalizedValue := normalizePattern(value)
	if normalizedPattern == "" || normalizedValue == "" {
		return false
	}

	// Invalid glob patterns are treated as exact matches.
	matched, err := path.Match(normalizedPattern, normalizedValue)
	if err == nil {
		return matched
	}
	return normalizedPattern == normalizedValue
}
