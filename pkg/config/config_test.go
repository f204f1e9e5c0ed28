package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate-io/cleargate/pkg/config"
	"github.com/cleargate-io/cleargate/pkg/pack"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"CLEARGATE_DB_DRIVER", "CLEARGATE_DB_PATH", "CLEARGATE_LOG_LEVEL",
		"CLEARGATE_GUARDIAN_PASS_TTL", "CLEARGATE_PROFILES_DIR", "CLEARGATE_TOKEN_SECRET"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "cleargate.db", cfg.DatabasePath)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Zero(t, cfg.GuardianPassTTL)
	assert.Equal(t, "profiles", cfg.ProfilesDir)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CLEARGATE_DB_DRIVER", "postgres")
	t.Setenv("CLEARGATE_DATABASE_URL", "postgres://gov@db/cleargate")
	t.Setenv("CLEARGATE_GUARDIAN_PASS_TTL", "48h")
	t.Setenv("CLEARGATE_TOKEN_SECRET", "sekrit")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "postgres://gov@db/cleargate", cfg.DatabaseURL)
	assert.Equal(t, 48*time.Hour, cfg.GuardianPassTTL)
	assert.Equal(t, "sekrit", cfg.TokenSecret)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CLEARGATE_DB_DRIVER", "oracle")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("CLEARGATE_DB_DRIVER", "sqlite")
	t.Setenv("CLEARGATE_GUARDIAN_PASS_TTL", "two days")
	_, err = config.Load()
	assert.Error(t, err)
}

const mtTaxProfile = `name: Malta Tax
pack: MT_TAX
regulator: Commissioner for Revenue
evidence_defaults:
  required_types:
    - CLIENT_INSTRUCTION
    - FINANCIAL_RECORDS
  min_items: 2
allowed_tool_groups:
  - case_management
  - evidence
`

func TestLoadPackProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_mt_tax.yaml"), []byte(mtTaxProfile), 0o644))

	profile, err := config.LoadPackProfile(dir, pack.MTTax)
	require.NoError(t, err)
	assert.Equal(t, "Malta Tax", profile.Name)
	assert.Equal(t, "MT_TAX", profile.Pack)
	assert.Equal(t, 2, profile.EvidenceDefaults.MinItems)
	assert.Contains(t, profile.AllowedToolGroups, "evidence")

	_, err = config.LoadPackProfile(dir, pack.RWTax)
	assert.Error(t, err)
}

func TestLoadAllPackProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_mt_tax.yaml"), []byte(mtTaxProfile), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_global.yaml"), []byte("name: Global\npack: GLOBAL\n"), 0o644))

	profiles, err := config.LoadAllPackProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Global", profiles[pack.Global].Name)

	// A profile naming an unknown pack is rejected outright.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_fr_tax.yaml"), []byte("name: France\npack: FR_TAX\n"), 0o644))
	_, err = config.LoadAllPackProfiles(dir)
	assert.Error(t, err)
}
