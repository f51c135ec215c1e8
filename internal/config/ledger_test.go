package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLedgerConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  defaultLateFeePerDiem: 750\n  defaultDueDay: 5\n"), 0o600))

	holder, err := LoadLedgerConfigFile(path)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, int64(750), cfg.DefaultLateFeePerDiem)
	assert.Equal(t, 5, cfg.DefaultDueDay)
	assert.Equal(t, "MXN", cfg.DefaultCurrency)
}

func TestLoadLedgerConfigFileRejectsInvalidDueDay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  defaultDueDay: 31\n"), 0o600))

	_, err := LoadLedgerConfigFile(path)
	require.Error(t, err)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *LedgerConfigHolder
	assert.Equal(t, DefaultLedgerConfig(), holder.Get())
}
