package config

import "regexp"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName reports whether name is a plain or schema-qualified identifier.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}
