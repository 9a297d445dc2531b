package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is returned for slugs and identifiers that cannot be used
// as a database name.
var ErrInvalidName = errors.New("database: invalid name")

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// TenantDBName derives the database name for slug under prefix.  Dashes and
// dots become underscores so "acme-eu.prod" maps to "tenant_acme_eu_prod".
// The result is checked against a conservative identifier pattern that both
// Postgres and MySQL accept unquoted.
func TenantDBName(prefix, slug string) (string, error) {
	if slug == "" {
		return "", fmt.Errorf("%w: empty tenant slug", ErrInvalidName)
	}
	r := strings.NewReplacer("-", "_", ".", "_")
	return ValidIdent(prefix + r.Replace(strings.ToLower(slug)))
}

// ValidIdent returns name when it is a safe identifier.
func ValidIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// QuoteIdent quotes a validated identifier for the engine's DDL.
func QuoteIdent(engine, name string) string {
	if engine == MySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}
