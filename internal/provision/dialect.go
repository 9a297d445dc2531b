package provision

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/yanizio/tenantdb/internal/database"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationFS embed.FS

// dialect holds the engine-specific statements.  Placeholders are `?` and
// rebound by sqlx for the active driver.
type dialect struct {
	goose        goose.Dialect
	migrations   string
	dbExists     string
	upsertRole   string
	upsertDept   string
	upsertDesig  string
	upsertAdmin  string
	selectUserID string
}

var dialects = map[string]dialect{
	database.Postgres: {
		goose:      goose.DialectPostgres,
		migrations: "migrations/postgres",
		dbExists:   `SELECT COUNT(*) FROM pg_database WHERE datname = ?`,
		upsertRole: `
        INSERT INTO roles (slug, name, description, is_system)
        VALUES (?, ?, ?, TRUE)
        ON CONFLICT (slug) DO UPDATE
           SET name = EXCLUDED.name, description = EXCLUDED.description`,
		upsertDept: `
        INSERT INTO departments (code, name)
        VALUES (?, ?)
        ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name`,
		upsertDesig: `
        INSERT INTO designations (code, title, level)
        VALUES (?, ?, ?)
        ON CONFLICT (code) DO UPDATE
           SET title = EXCLUDED.title, level = EXCLUDED.level`,
		upsertAdmin: `
        INSERT INTO users (id, email, name, password_hash, role_id, department_id)
        VALUES (?, ?, ?, ?,
                (SELECT id FROM roles WHERE slug = ?),
                (SELECT id FROM departments WHERE code = ?))
        ON CONFLICT (email) DO UPDATE
           SET name = EXCLUDED.name,
               password_hash = EXCLUDED.password_hash,
               role_id = EXCLUDED.role_id,
               department_id = EXCLUDED.department_id,
               updated_at = now()`,
		selectUserID: `SELECT id FROM users WHERE email = ?`,
	},
	database.MySQL: {
		goose:      goose.DialectMySQL,
		migrations: "migrations/mysql",
		dbExists:   `SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?`,
		upsertRole: `
        INSERT INTO roles (slug, name, description, is_system)
        VALUES (?, ?, ?, 1)
        ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description)`,
		upsertDept: `
        INSERT INTO departments (code, name)
        VALUES (?, ?)
        ON DUPLICATE KEY UPDATE name = VALUES(name)`,
		upsertDesig: `
        INSERT INTO designations (code, title, level)
        VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE title = VALUES(title), level = VALUES(level)`,
		upsertAdmin: `
        INSERT INTO users (id, email, name, password_hash, role_id, department_id)
        VALUES (?, ?, ?, ?,
                (SELECT id FROM roles WHERE slug = ?),
                (SELECT id FROM departments WHERE code = ?))
        ON DUPLICATE KEY UPDATE
               name = VALUES(name),
               password_hash = VALUES(password_hash),
               role_id = VALUES(role_id),
               department_id = VALUES(department_id)`,
		selectUserID: `SELECT id FROM users WHERE email = ?`,
	},
}

func dialectFor(engine string) (dialect, error) {
	d, ok := dialects[engine]
	if !ok {
		return dialect{}, fmt.Errorf("provision: unsupported engine %q", engine)
	}
	return d, nil
}

func (d dialect) migrationsFS() (fs.FS, error) {
	return fs.Sub(migrationFS, d.migrations)
}
