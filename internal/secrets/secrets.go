// Package secrets resolves database credentials at connect time.
//
// A reference has the form `mount/path#key`, for example
// `secret/tenantd/db#password`.  The tenant connection factory asks a Source
// for the password each time it builds a connection string, so a rotated
// secret is picked up on the next cache miss without a restart.
package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Source returns the string value stored under ref.
type Source interface {
	Lookup(ctx context.Context, ref string) (string, error)
}

// Static is a Source backed by a fixed map.  Useful for tests and local
// development without Vault.
type Static map[string]string

// Lookup implements Source.
func (s Static) Lookup(_ context.Context, ref string) (string, error) {
	v, ok := s[ref]
	if !ok {
		return "", fmt.Errorf("secrets: %q not found", ref)
	}
	return v, nil
}

// ParseRef splits `mount/path#key` into its path and key.
func ParseRef(ref string) (path, key string, err error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", "", fmt.Errorf("secrets: malformed reference %q, want mount/path#key", ref)
	}
	return path, key, nil
}

func splitMount(p string) (mount, rel string) {
	mount, rel, _ = strings.Cut(p, "/")
	return mount, rel
}
