// internal/provision/service.go
//
// Provisioning Service.
//
// Context
// -------
// Onboarding a tenant is three sequential, separately retryable steps:
//
//  1. `CreateDatabase`: administrative CREATE DATABASE on the shared host.
//  2. `Migrate`:        goose migrations embedded in this package.
//  3. `Seed`:           upsert reference data and the first administrator.
//
// None of the steps writes to the control-plane registry; the caller
// records the tenant only after the steps it needs have succeeded, so a
// failure never leaves a half-created tenant row behind.  Every failure is
// a *Error naming the step, and only that step needs to be re-run.
//
// Notes
// -----
//   - Each step is bounded by the provisioning timeout.
//   - Migrate and Seed are idempotent; CreateDatabase is not and reports a
//     name collision as an error.  Provision skips CreateDatabase when the
//     database already exists, which makes the whole run re-entrant.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	goosedb "github.com/pressly/goose/v3/database"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/metrics"
	"github.com/yanizio/tenantdb/internal/tenant"
)

// DefaultTimeout bounds a single step when none is configured.
const DefaultTimeout = 60 * time.Second

// versionTable records applied migrations in each tenant database.
const versionTable = "goose_db_version"

// Locator resolves the physical target and connection string for a new
// tenant database.  *tenant.Factory satisfies it.
type Locator interface {
	Engine() string
	DatabaseName(slug string) (string, error)
	DSN(ctx context.Context, t tenant.Target) (string, error)
}

// OpenFunc opens and pings a pool for the tenant database.
type OpenFunc func(ctx context.Context, engine, dsn string, opt database.Options) (*sqlx.DB, error)

// Service provisions tenant databases on the default host.
type Service struct {
	admin   *sqlx.DB
	locator Locator
	host    string
	port    int
	timeout time.Duration
	log     *zap.Logger

	open     OpenFunc
	migrate  func(ctx context.Context, d dialect, db *sqlx.DB) error
	versions func(d dialect) (goosedb.Store, error)
}

// Options wires a Service.
type Options struct {
	Admin   *sqlx.DB // connection to the engine's admin database
	Locator Locator
	Host    string
	Port    int
	Timeout time.Duration
	Logger  *zap.Logger
}

// New returns a Service.
func New(opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Service{
		admin:   opts.Admin,
		locator: opts.Locator,
		host:    opts.Host,
		port:    opts.Port,
		timeout: opts.Timeout,
		log:     opts.Logger,
		open:    database.OpenWithOptions,
	}
	s.migrate = s.gooseUp
	s.versions = func(d dialect) (goosedb.Store, error) {
		return goosedb.NewStore(d.goose, versionTable)
	}
	return s
}

// CreateDatabase creates the tenant database and returns its name.
func (s *Service) CreateDatabase(ctx context.Context, slug string) (string, error) {
	var name string
	err := s.step(ctx, StepCreate, slug, func(ctx context.Context, d dialect) error {
		var err error
		if name, err = s.locator.DatabaseName(slug); err != nil {
			return err
		}
		q := "CREATE DATABASE " + database.QuoteIdent(s.locator.Engine(), name)
		if _, err := s.admin.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create database %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// DatabaseExists reports whether the tenant database is already present.
// The check is bounded by the provisioning timeout like every step.
func (s *Service) DatabaseExists(ctx context.Context, slug string) (bool, error) {
	d, err := dialectFor(s.locator.Engine())
	if err != nil {
		return false, err
	}
	name, err := s.locator.DatabaseName(slug)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int
	if err := s.admin.GetContext(ctx, &n, s.admin.Rebind(d.dbExists), name); err != nil {
		// Drivers report an interrupted query in their own terms.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("check database %s: %w", name, ctxErr)
		}
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return n > 0, nil
}

// Migrate applies every pending schema migration.  Safe to re-run.
func (s *Service) Migrate(ctx context.Context, slug string) error {
	return s.step(ctx, StepMigrate, slug, func(ctx context.Context, d dialect) error {
		return s.withTenantDB(ctx, slug, func(db *sqlx.DB) error {
			return s.migrate(ctx, d, db)
		})
	})
}

// Seed upserts reference data and the administrator, returning the
// administrator's user id.  Re-running returns the same id.
func (s *Service) Seed(ctx context.Context, slug string, data SeedData) (string, error) {
	var adminID string
	err := s.step(ctx, StepSeed, slug, func(ctx context.Context, d dialect) error {
		if err := data.Validate(); err != nil {
			return err
		}
		return s.withTenantDB(ctx, slug, func(db *sqlx.DB) error {
			var err error
			adminID, err = seedTx(ctx, d, db, data)
			return err
		})
	})
	if err != nil {
		return "", err
	}
	return adminID, nil
}

// Provision runs all three steps, skipping CreateDatabase when the database
// already exists.
func (s *Service) Provision(ctx context.Context, slug string, data SeedData) (string, error) {
	exists, err := s.DatabaseExists(ctx, slug)
	if err != nil {
		return "", stepErr(StepCreate, slug, err)
	}
	if !exists {
		if _, err := s.CreateDatabase(ctx, slug); err != nil {
			return "", err
		}
	}
	if err := s.Migrate(ctx, slug); err != nil {
		return "", err
	}
	return s.Seed(ctx, slug, data)
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

// step bounds fn by the provisioning timeout, records its duration, and
// wraps any failure as *Error.
func (s *Service) step(ctx context.Context, name, slug string, fn func(context.Context, dialect) error) error {
	d, err := dialectFor(s.locator.Engine())
	if err != nil {
		return stepErr(name, slug, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err = fn(ctx, d)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ProvisionStepDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		s.log.Error("provisioning step failed",
			zap.String("tenant", slug), zap.String("step", name), zap.Error(err))
		return stepErr(name, slug, err)
	}
	s.log.Info("provisioning step done",
		zap.String("tenant", slug), zap.String("step", name),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Service) withTenantDB(ctx context.Context, slug string, fn func(*sqlx.DB) error) error {
	name, err := s.locator.DatabaseName(slug)
	if err != nil {
		return err
	}
	dsn, err := s.locator.DSN(ctx, tenant.Target{Host: s.host, Port: s.port, Database: name})
	if err != nil {
		return err
	}
	db, err := s.open(ctx, s.locator.Engine(), dsn, database.Options{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			s.log.Warn("provisioning connection close failed", zap.String("tenant", slug), zap.Error(err))
		}
	}()
	return fn(db)
}

func (s *Service) gooseUp(ctx context.Context, d dialect, db *sqlx.DB) error {
	fsys, err := d.migrationsFS()
	if err != nil {
		return err
	}
	store, err := s.versions(d)
	if err != nil {
		return err
	}
	// The dialect is carried by the store.
	p, err := goose.NewProvider("", db.DB, fsys, goose.WithStore(store))
	if err != nil {
		return err
	}
	results, err := p.Up(ctx)
	for _, r := range results {
		s.log.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration))
	}
	return err
}

func seedTx(ctx context.Context, d dialect, db *sqlx.DB, data SeedData) (id string, err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, r := range DefaultRoles {
		if _, err = tx.ExecContext(ctx, tx.Rebind(d.upsertRole), r.Slug, r.Name, r.Description); err != nil {
			return "", fmt.Errorf("upsert role %s: %w", r.Slug, err)
		}
	}
	for _, dep := range DefaultDepartments {
		if _, err = tx.ExecContext(ctx, tx.Rebind(d.upsertDept), dep.Code, dep.Name); err != nil {
			return "", fmt.Errorf("upsert department %s: %w", dep.Code, err)
		}
	}
	for _, des := range DefaultDesignations {
		if _, err = tx.ExecContext(ctx, tx.Rebind(d.upsertDesig), des.Code, des.Title, des.Level); err != nil {
			return "", fmt.Errorf("upsert designation %s: %w", des.Code, err)
		}
	}

	if _, err = tx.ExecContext(ctx, tx.Rebind(d.upsertAdmin),
		uuid.NewString(), data.AdminEmail, data.AdminName, data.PasswordHash,
		AdminRole, AdminDepartment,
	); err != nil {
		return "", fmt.Errorf("upsert admin user: %w", err)
	}
	if err = tx.GetContext(ctx, &id, tx.Rebind(d.selectUserID), data.AdminEmail); err != nil {
		return "", fmt.Errorf("read admin user id: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}
