// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// `Load` calls `validateStruct` right after unmarshalling the merged koanf
// tree.  Any validation error aborts startup, so the binary never runs with
// partial or malformed configuration.  Cross-field rules that tags cannot
// express live in `validateCross`.

package config

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var v = validator.New()

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}
	return validateCross(c)
}

func validateCross(c *Config) error {
	if c.Database.Password == "" && c.Database.PasswordSecret == "" {
		return errors.New("database: one of password or password_secret is required")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.New("database: max_idle_conns exceeds max_open_conns")
	}
	return nil
}
