// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from four layers (highest
precedence last):

  1. Built-in defaults (cache sizes, timeouts, pool limits).
  2. Optional `.env` file at `<root>/conf/.env`.
  3. `conf/tenantd.yaml`, when present.
  4. Environment variables prefixed `TENANTD_`, where `__` maps to "."
     (e.g., `TENANTD_CACHE__IDLE_TTL → cache.idle_ttl`).

After merging, the tree is unmarshalled into typed structs, validated,
enriched with the runtime root path, and cached in an `atomic.Pointer` for
lock-free reads.

Notes
-----
  • Logs use the global sugared logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.
  • `rootDir()` climbs the cwd tree until it finds `conf/tenantd.yaml`, so
    `go run ./cmd/tenantd` works from any sub-directory.
*/
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	envPrefix = "TENANTD_"
	yamlName  = "tenantd.yaml"
)

var current atomic.Pointer[Config]

/*──────────────────────────── defaults ────────────────────────────────────*/

func defaults() map[string]any {
	return map[string]any{
		"http.listen_addr":           "127.0.0.1:8080",
		"registry.driver":            "postgres",
		"database.driver":            "postgres",
		"database.host":              "localhost",
		"database.port":              5432,
		"database.ssl_mode":          "disable",
		"database.name_prefix":       "tenant_",
		"database.admin_database":    "postgres",
		"database.max_open_conns":    5,
		"database.max_idle_conns":    2,
		"database.conn_max_lifetime": "30m",
		"cache.capacity":             100,
		"cache.idle_ttl":             "30m",
		"cache.lookup_ttl":           "5m",
		"cache.sweep_interval":       "1m",
		"timeouts.connect":           "5s",
		"timeouts.lookup":            "3s",
		"timeouts.provision":         "60s",
		"timeouts.shutdown":          "15s",
	}
}

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves TENANTD_ROOT or climbs directories until
// conf/tenantd.yaml is found.  Falls back to the working directory.
func rootDir() string {
	if r := os.Getenv("TENANTD_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", yamlName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load discovers the root directory and calls LoadFrom.
func Load() (*Config, error) { return LoadFrom(rootDir()) }

// LoadFrom reads defaults, .env, YAML, and env overrides below root,
// validates the result, and caches it for Get.
func LoadFrom(root string) (*Config, error) {
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}

	yamlPath := filepath.Join(root, "conf", yamlName)
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
			return nil, err
		}
		zap.S().Debugw("config yaml absent, using defaults and env", "file", yamlPath)
	}

	// TENANTD_CACHE__IDLE_TTL → cache.idle_ttl
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"db_driver", cfg.Database.Driver,
		"db_host", cfg.Database.Host,
		"cache_capacity", cfg.Cache.Capacity,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }
