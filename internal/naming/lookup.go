package naming

import "sort"

// Lookup is the immutable raw -> canonical mapping for one run
type Lookup struct {
	byRaw        map[string]string
	aliases      map[string][]string
	models       []string
	unnormalized []string
}

func newLookup(byRaw map[string]string, unnormalized []string) *Lookup {
	aliases := make(map[string][]string)
	for raw, canonical := range byRaw {
		aliases[canonical] = append(aliases[canonical], raw)
	}

	models := make([]string, 0, len(aliases))
	for canonical, raws := range aliases {
		sort.Strings(raws)
		models = append(models, canonical)
	}
	sort.Strings(models)

	kept := make([]string, 0, len(unnormalized))
	for _, raw := range unnormalized {
		if _, ok := byRaw[raw]; ok {
			kept = append(kept, raw)
		}
	}
	sort.Strings(kept)

	return &Lookup{
		byRaw:        byRaw,
		aliases:      aliases,
		models:       models,
		unnormalized: kept,
	}
}

// Canonical returns the canonical model of a raw name.
func (l *Lookup) Canonical(raw string) (string, bool) {
	canonical, ok := l.byRaw[raw]
	return canonical, ok
}

// Aliases returns the sorted raw names behind a canonical model.
func (l *Lookup) Aliases(model string) []string {
	return append([]string(nil), l.aliases[model]...)
}

// Models returns canonical models in sorted order.
func (l *Lookup) Models() []string {
	return append([]string(nil), l.models...)
}

// RawNames returns every raw name in the lookup, sorted.
func (l *Lookup) RawNames() []string {
	names := make([]string, 0, len(l.byRaw))
	for raw := range l.byRaw {
		names = append(names, raw)
	}
	sort.Strings(names)
	return names
}

// Unnormalized returns raw names that matched no normalization rule.
func (l *Lookup) Unnormalized() []string {
	return append([]string(nil), l.unnormalized...)
}

// Len returns the number of canonical models.
func (l *Lookup) Len() int {
	return len(l.models)
}

// Restrict returns a lookup limited to the given canonical models.
func (l *Lookup) Restrict(keep []string) *Lookup {
	allowed := make(map[string]struct{}, len(keep))
	for _, model := range keep {
		allowed[model] = struct{}{}
	}

	byRaw := make(map[string]string)
	for raw, canonical := range l.byRaw {
		if _, ok := allowed[canonical]; ok {
			byRaw[raw] = canonical
		}
	}
	return newLookup(byRaw, l.unnormalized)
}

// EmptyLookup returns a lookup with no models.
func EmptyLookup() *Lookup {
	return newLookup(map[string]string{}, nil)
}
