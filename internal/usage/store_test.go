package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/config"
)

func TestBuildLibsqlDSNFromPath(t *testing.T) {
	dsn, err := buildLibsqlDSN(config.StoreConfig{Path: "usage.db"})
	require.NoError(t, err)
	require.Equal(t, "file:usage.db", dsn)

	dsn, err = buildLibsqlDSN(config.StoreConfig{Path: "file:usage.db"})
	require.NoError(t, err)
	require.Equal(t, "file:usage.db", dsn)

	dsn, err = buildLibsqlDSN(config.StoreConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.Equal(t, ":memory:", dsn)
}

func TestBuildLibsqlDSNPrefersURL(t *testing.T) {
	dsn, err := buildLibsqlDSN(config.StoreConfig{
		URL:  "libsql://usage.turso.io",
		Path: "usage.db",
	})
	require.NoError(t, err)
	require.Equal(t, "libsql://usage.turso.io", dsn)
}

func TestBuildLibsqlDSNAppendsAuthToken(t *testing.T) {
	dsn, err := buildLibsqlDSN(config.StoreConfig{
		URL:       "libsql://usage.turso.io",
		AuthToken: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "libsql://usage.turso.io?authToken=secret", dsn)
}

func TestBuildLibsqlDSNRequiresTarget(t *testing.T) {
	_, err := buildLibsqlDSN(config.StoreConfig{})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: "usage.db"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported store driver")
}
