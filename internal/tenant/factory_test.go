package tenant

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/tenantdb/internal/config"
	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/secrets"
	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

func pgConfig() config.Database {
	return config.Database{
		Driver:       database.Postgres,
		Host:         "localhost",
		Port:         5432,
		User:         "app",
		Password:     "pw",
		SSLMode:      "disable",
		NamePrefix:   "tenant_",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}
}

func ptr[T any](v T) *T { return &v }

func TestFactoryBuild_DefaultHost(t *testing.T) {
	f := NewFactory(pgConfig(), nil, 5*time.Second, nil)

	dsn, err := f.Build(context.Background(), record(acmeID, "acme", registry.StatusActive))
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/tenant_acme", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "5", u.Query().Get("connect_timeout"))
	pw, _ := u.User.Password()
	assert.Equal(t, "pw", pw)
}

func TestFactoryBuild_CustomHostAndName(t *testing.T) {
	f := NewFactory(pgConfig(), nil, 0, nil)
	rec := record(acmeID, "acme", registry.StatusActive)
	rec.DatabaseHost = ptr("db7.internal")
	rec.DatabasePort = ptr(6432)
	rec.DatabaseName = "acme_main"

	dsn, err := f.Build(context.Background(), rec)
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db7.internal:6432", u.Host)
	assert.Equal(t, "/acme_main", u.Path)
	assert.Empty(t, u.Query().Get("connect_timeout"))
}

func TestFactoryBuild_CustomHostDefaultPort(t *testing.T) {
	f := NewFactory(pgConfig(), nil, 0, nil)
	rec := record(acmeID, "acme", registry.StatusActive)
	rec.DatabaseHost = ptr("db7.internal")

	tgt, err := f.Target(rec)
	require.NoError(t, err)
	assert.Equal(t, Target{Host: "db7.internal", Port: 5432, Database: "tenant_acme"}, tgt)
}

func TestFactoryBuild_RejectsUnsafeName(t *testing.T) {
	f := NewFactory(pgConfig(), nil, 0, nil)
	rec := record(acmeID, "acme", registry.StatusActive)
	rec.DatabaseName = `acme"; drop`

	_, err := f.Build(context.Background(), rec)
	assert.Error(t, err)
}

func TestFactoryBuild_MySQL(t *testing.T) {
	cfg := pgConfig()
	cfg.Driver = database.MySQL
	cfg.Port = 3306
	cfg.SSLMode = "require"
	f := NewFactory(cfg, nil, 3*time.Second, nil)

	dsn, err := f.Build(context.Background(), record(acmeID, "acme", registry.StatusActive))
	require.NoError(t, err)

	mc, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "localhost:3306", mc.Addr)
	assert.Equal(t, "tenant_acme", mc.DBName)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, "skip-verify", mc.TLSConfig)
	assert.Equal(t, 3*time.Second, mc.Timeout)
}

func TestFactoryBuild_PasswordFromSecrets(t *testing.T) {
	cfg := pgConfig()
	cfg.Password = ""
	cfg.PasswordSecret = "secret/tenantd/db#password"
	f := NewFactory(cfg, secrets.Static{"secret/tenantd/db#password": "from-vault"}, 0, nil)

	dsn, err := f.Build(context.Background(), record(acmeID, "acme", registry.StatusActive))
	require.NoError(t, err)
	assert.Contains(t, dsn, "from-vault")

	f = NewFactory(cfg, nil, 0, nil)
	_, err = f.Build(context.Background(), record(acmeID, "acme", registry.StatusActive))
	assert.Error(t, err)
}

func TestFactoryConnect_PingsBeforeReturning(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	var gotDSN string
	f := NewFactory(pgConfig(), nil, time.Second, nil)
	f.open = func(ctx context.Context, engine, dsn string, opt database.Options) (*sqlx.DB, error) {
		gotDSN = dsn
		assert.Equal(t, database.Postgres, engine)
		assert.Equal(t, 5, opt.MaxOpenConns)
		x := sqlx.NewDb(db, "sqlmock")
		if err := x.PingContext(ctx); err != nil {
			return nil, err
		}
		return x, nil
	}

	conn, err := f.Connect(context.Background(), record(acmeID, "acme", registry.StatusActive))
	require.NoError(t, err)
	assert.Equal(t, "acme", conn.Slug)
	assert.Equal(t, acmeID, conn.TenantID)
	assert.Equal(t, gotDSN, conn.DSN)
	assert.True(t, strings.Contains(conn.DSN, "/tenant_acme"))
	assert.NotContains(t, conn.RedactedDSN(), ":pw@")
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectClose()
	require.NoError(t, conn.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactoryConnect_WrapsDriverError(t *testing.T) {
	f := NewFactory(pgConfig(), nil, time.Second, nil)
	f.open = func(context.Context, string, string, database.Options) (*sqlx.DB, error) {
		return nil, errBoom
	}

	_, err := f.Connect(context.Background(), record(acmeID, "acme", registry.StatusActive))
	require.ErrorIs(t, err, ErrConnection)
	require.ErrorIs(t, err, errBoom)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "acme", ce.Slug)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:xxxxx@h:5432/db", redactDSN("postgres://app:secret@h:5432/db"))
	assert.NotContains(t, redactDSN("app:secret@tcp(h:3306)/db"), "secret")
}
