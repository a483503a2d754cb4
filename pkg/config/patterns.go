package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPatternsFile reads interest patterns from a JSON or YAML file. The file
// holds either a list of patterns or a map of family name to pattern list.
func LoadPatternsFile(path string) ([]string, error) {
	filename := strings.TrimSpace(path)
	if filename == "" {
		return nil, fmt.Errorf("patterns path is empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read patterns file %q: %w", filename, err)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return normalizeList(list), nil
	}

	var families map[string][]string
	if err := yaml.Unmarshal(data, &families); err != nil {
		return nil, fmt.Errorf("failed to parse patterns file %q: expected a list or a map of lists: %w", filename, err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var patterns []string
	for _, name := range names {
		patterns = append(patterns, families[name]...)
	}
	return normalizeList(patterns), nil
}

// ResolvePatterns merges inline patterns with those from PatternsFile.
func (c *Config) ResolvePatterns() error {
	if c.PatternsFile == "" {
		c.Patterns = normalizeList(c.Patterns)
		return nil
	}

	fromFile, err := LoadPatternsFile(c.PatternsFile)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	merged := make([]string, 0, len(c.Patterns)+len(fromFile))
	for _, p := range append(normalizeList(c.Patterns), fromFile...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	c.Patterns = merged
	return nil
}
