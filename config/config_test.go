package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopvault.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9464", cfg.MetricsAddress)
	require.Equal(t, uint64(13_000), cfg.Vault.TargetHealthFactorBps)
	require.NotNil(t, cfg.Vault.MinNavIncreaseWei)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLoadRejectsInvalidTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopvault.toml")
	body := "[vault]\nTargetHealthFactorBps = 9000\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "TargetHealthFactorBps")
}

func TestLoadRoundTripsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopvault.toml")
	body := `
MetricsAddress = ":9999"

[vault]
TargetHealthFactorBps = 13000
ToleranceBelowBps = 10
ToleranceAboveBps = 50
SlippageToleranceBps = 30
FeeRateBps = 500
FeeRecipient = "0x00000000000000000000000000000000000000fe"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.MetricsAddress)
	require.Equal(t, uint64(500), cfg.Vault.FeeRateBps)
	require.Equal(t, uint64(30), cfg.Vault.SlippageToleranceBps)
}
