package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeKV struct {
	calls int
	data  map[string]any
	err   error
}

func (f *fakeKV) Get(_ context.Context, mount, path string) (map[string]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if mount != "secret" || path != "tenantd/db" {
		return nil, errors.New("unexpected path " + mount + "/" + path)
	}
	return f.data, nil
}

func TestVaultLookup_CachesWithinTTL(t *testing.T) {
	kv := &fakeKV{data: map[string]any{"password": "s3cret"}}
	v := newVault(kv, time.Minute, zap.NewNop())

	for range 3 {
		got, err := v.Lookup(context.Background(), "secret/tenantd/db#password")
		require.NoError(t, err)
		assert.Equal(t, "s3cret", got)
	}
	assert.Equal(t, 1, kv.calls)
}

func TestVaultLookup_Errors(t *testing.T) {
	kv := &fakeKV{data: map[string]any{"password": 42}}
	v := newVault(kv, 0, zap.NewNop())

	_, err := v.Lookup(context.Background(), "secret/tenantd/db#missing")
	assert.ErrorContains(t, err, "not found")

	_, err = v.Lookup(context.Background(), "secret/tenantd/db#password")
	assert.ErrorContains(t, err, "not a string")

	_, err = v.Lookup(context.Background(), "no-key-separator")
	assert.ErrorContains(t, err, "malformed")
}

func TestStatic(t *testing.T) {
	s := Static{"a/b#c": "v"}
	got, err := s.Lookup(context.Background(), "a/b#c")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	_, err = s.Lookup(context.Background(), "x/y#z")
	assert.Error(t, err)
}
