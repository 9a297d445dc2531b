package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantDBName(t *testing.T) {
	got, err := TenantDBName("tenant_", "acme")
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme", got)

	got, err = TenantDBName("tenant_", "Acme-EU.prod")
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme_eu_prod", got)

	_, err = TenantDBName("tenant_", "")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = TenantDBName("tenant_", `x"; DROP DATABASE y; --`)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"tenant_acme"`, QuoteIdent(Postgres, "tenant_acme"))
	assert.Equal(t, "`tenant_acme`", QuoteIdent(MySQL, "tenant_acme"))
}
