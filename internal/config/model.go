// internal/config/model.go
//
// Typed configuration model for tenantd.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from four overlay layers:
//
//   - built-in defaults                        – see defaults() in loader.go,
//   - optional `.env`                          – dotenv values,
//   - `conf/tenantd.yaml`                      – primary static file,
//   - `TENANTD_`-prefixed environment overrides – highest precedence.
//
// Validation happens immediately after unmarshal; the process fails fast if
// required fields are missing or out of range.
//
// Notes
// -----
//   - Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   - Durations are parsed by koanf from strings such as "30m" or "5s".
//   - The `Paths` block is filled at runtime; YAML must not try to set it.
package config

import "time"

//
// HTTP section
//

// HTTP holds the ops listener settings.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
}

//
// Registry section
//

// Registry points at the control-plane ("master") database that holds the
// `tenants` table.
type Registry struct {
	Driver string `koanf:"driver" validate:"required,oneof=postgres mysql"`
	DSN    string `koanf:"dsn"    validate:"required"`
}

//
// Database section
//

// Database describes the shared default tenant database host and the pool
// limits applied to every per-tenant client.
//
// When `PasswordSecret` is set (format `mount/path#key`) the password is
// fetched from Vault at connect time and `Password` is ignored.
type Database struct {
	Driver          string        `koanf:"driver"            validate:"required,oneof=postgres mysql"`
	Host            string        `koanf:"host"              validate:"required"`
	Port            int           `koanf:"port"              validate:"required,min=1,max=65535"`
	User            string        `koanf:"user"              validate:"required"`
	Password        string        `koanf:"password"`
	PasswordSecret  string        `koanf:"password_secret"`
	SSLMode         string        `koanf:"ssl_mode"          validate:"required,oneof=disable allow prefer require verify-ca verify-full"`
	NamePrefix      string        `koanf:"name_prefix"`
	AdminDatabase   string        `koanf:"admin_database"    validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns"    validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns"    validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

//
// Cache section
//

// Cache bounds both in-process caches.
type Cache struct {
	Capacity      int           `koanf:"capacity"       validate:"min=1"`
	IdleTTL       time.Duration `koanf:"idle_ttl"       validate:"gt=0"`
	LookupTTL     time.Duration `koanf:"lookup_ttl"     validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
}

//
// Timeouts section
//

// Timeouts bounds every blocking operation in the core.
type Timeouts struct {
	Connect   time.Duration `koanf:"connect"   validate:"gt=0"`
	Lookup    time.Duration `koanf:"lookup"    validate:"gt=0"`
	Provision time.Duration `koanf:"provision" validate:"gt=0"`
	Shutdown  time.Duration `koanf:"shutdown"  validate:"gt=0"`
}

//
// Log section
//

// Log controls the file logger.  An empty Dir means `<root>/logs`.
type Log struct {
	Dir     string `koanf:"dir"`
	Console bool   `koanf:"console"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // TENANTD_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the process lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Registry Registry `koanf:"registry"`
	Database Database `koanf:"database"`
	Cache    Cache    `koanf:"cache"`
	Timeouts Timeouts `koanf:"timeouts"`
	Log      Log      `koanf:"log"`
	Paths    Paths    `koanf:"-"`
}
