package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverName(t *testing.T) {
	d, err := DriverName(Postgres)
	require.NoError(t, err)
	assert.Equal(t, "pgx", d)

	d, err = DriverName(MySQL)
	require.NoError(t, err)
	assert.Equal(t, "mysql", d)

	_, err = DriverName("sqlite")
	assert.Error(t, err)
}
