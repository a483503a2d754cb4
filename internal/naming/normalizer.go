package naming

import (
	"fmt"
	"regexp"
	"strings"
)

// ModelVendorRule assigns a vendor to model numbers that arrive without one
type ModelVendorRule struct {
	Pattern string `yaml:"pattern"`
	Vendor  string `yaml:"vendor"`
}

// Rules drive name normalization
type Rules struct {
	StripPrefixes []string          `yaml:"strip_prefixes"`
	VendorAliases map[string]string `yaml:"vendor_aliases"`
	ModelVendors  []ModelVendorRule `yaml:"model_vendors"`
}

// DefaultRules returns the vendor tables used by the drive-stats reports.
func DefaultRules() Rules {
	return Rules{
		StripPrefixes: []string{"ATA"},
		VendorAliases: map[string]string{
			"TOSHIBA": "Toshiba",
			"HGST":    "WDC/HGST",
			"WDC":     "WDC/HGST",
			"SEAGATE": "Seagate",
		},
		ModelVendors: []ModelVendorRule{
			{Pattern: `^ST\d+`, Vendor: "Seagate"},
			{Pattern: `^WU[HS]72`, Vendor: "WDC/HGST"},
			{Pattern: `^HU[HS]72`, Vendor: "WDC/HGST"},
			{Pattern: `^MG\d{2}`, Vendor: "Toshiba"},
		},
	}
}

type compiledVendorRule struct {
	re     *regexp.Regexp
	vendor string
}

// Normalizer maps raw model names to canonical model identifiers.
// It holds no mutable state after construction.
type Normalizer struct {
	stripPrefixes map[string]struct{}
	vendorAliases map[string]string
	modelVendors  []compiledVendorRule
}

// NewNormalizer validates and compiles rules.
func NewNormalizer(rules Rules) (*Normalizer, error) {
	n := &Normalizer{
		stripPrefixes: make(map[string]struct{}, len(rules.StripPrefixes)),
		vendorAliases: make(map[string]string, len(rules.VendorAliases)),
		modelVendors:  make([]compiledVendorRule, 0, len(rules.ModelVendors)),
	}

	for _, prefix := range rules.StripPrefixes {
		if p := strings.ToUpper(strings.TrimSpace(prefix)); p != "" {
			n.stripPrefixes[p] = struct{}{}
		}
	}
	for token, vendor := range rules.VendorAliases {
		token = strings.ToUpper(strings.TrimSpace(token))
		vendor = strings.TrimSpace(vendor)
		if token == "" || vendor == "" {
			return nil, fmt.Errorf("invalid vendor alias %q -> %q: both sides are required", token, vendor)
		}
		n.vendorAliases[token] = vendor
	}
	for _, rule := range rules.ModelVendors {
		vendor := strings.TrimSpace(rule.Vendor)
		if vendor == "" {
			return nil, fmt.Errorf("invalid model vendor rule %q: vendor is required", rule.Pattern)
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid model vendor pattern %q: %w", rule.Pattern, err)
		}
		n.modelVendors = append(n.modelVendors, compiledVendorRule{re: re, vendor: vendor})
	}

	return n, nil
}

// Canonical returns the canonical model for raw. matched is false when no
// rule applied and the cleaned name itself was used.
func (n *Normalizer) Canonical(raw string) (canonical string, matched bool) {
	tokens := strings.Fields(raw)
	for len(tokens) > 1 {
		if _, strip := n.stripPrefixes[strings.ToUpper(tokens[0])]; !strip {
			break
		}
		tokens = tokens[1:]
	}

	switch len(tokens) {
	case 0:
		return "", false
	case 1:
		model := strings.ToUpper(tokens[0])
		if vendor, ok := n.vendorForModel(model); ok {
			return vendor + " " + model, true
		}
	case 2:
		model := strings.ToUpper(tokens[1])
		if vendor, ok := n.vendorAliases[strings.ToUpper(tokens[0])]; ok {
			return vendor + " " + model, true
		}
		if vendor, ok := n.vendorForModel(model); ok {
			return vendor + " " + model, true
		}
	}

	return strings.ToUpper(strings.Join(tokens, " ")), false
}

func (n *Normalizer) vendorForModel(model string) (string, bool) {
	for _, rule := range n.modelVendors {
		if rule.re.MatchString(model) {
			return rule.vendor, true
		}
	}
	return "", false
}

// Build normalizes every candidate and returns the run's lookup.
func (n *Normalizer) Build(candidates []string) *Lookup {
	byRaw := make(map[string]string, len(candidates))
	unnormalized := make([]string, 0)
	for _, raw := range candidates {
		if _, done := byRaw[raw]; done {
			continue
		}
		canonical, matched := n.Canonical(raw)
		if canonical == "" {
			continue
		}
		byRaw[raw] = canonical
		if !matched {
			unnormalized = append(unnormalized, raw)
		}
	}
	return newLookup(byRaw, unnormalized)
}
