package ratelimit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/auth"
)

func writeTierFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadTiersMergesOverDefaults(t *testing.T) {
	path := writeTierFile(t, `
tiers:
  premium:
    chat:
      capacity: 250
      refill_rate: 5
`)

	tiers, err := LoadTiers(path)
	require.NoError(t, err)

	// Overridden tier.
	limit := tiers.Lookup(auth.RolePremium, ClassChat)
	require.Equal(t, 250.0, limit.Capacity)
	require.Equal(t, 5.0, limit.RefillRate)

	// Untouched tiers keep their defaults.
	require.Equal(t, DefaultTiers()[auth.RoleStandard][ClassChat], tiers.Lookup(auth.RoleStandard, ClassChat))
	require.Equal(t, DefaultTiers()[auth.RolePremium][ClassGeneration], tiers.Lookup(auth.RolePremium, ClassGeneration))
}

func TestLoadTiersRejectsUnknownRole(t *testing.T) {
	path := writeTierFile(t, `
tiers:
  platinum:
    chat:
      capacity: 10
      refill_rate: 1
`)

	_, err := LoadTiers(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown role")
}

func TestLoadTiersRejectsUnknownClass(t *testing.T) {
	path := writeTierFile(t, `
tiers:
  premium:
    video:
      capacity: 10
      refill_rate: 1
`)

	_, err := LoadTiers(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown endpoint class")
}

func TestLoadTiersRejectsNonPositiveValues(t *testing.T) {
	path := writeTierFile(t, `
tiers:
  premium:
    chat:
      capacity: 0
      refill_rate: 1
`)

	_, err := LoadTiers(path)
	require.Error(t, err)
}

func TestLookupFallsBackToStandardChat(t *testing.T) {
	var tiers Tiers
	require.Equal(t, DefaultTiers()[auth.RoleStandard][ClassChat], tiers.Lookup(auth.RoleStandard, ClassChat))
}
