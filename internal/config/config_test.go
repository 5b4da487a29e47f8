package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  env: test
exchange:
  api_key: k
  api_secret: s
market:
  analyzer_url: http://localhost:8000
`))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, ":9920", cfg.App.HTTPAddr)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 45, cfg.Manage.IntervalSeconds)
	assert.Equal(t, 0.15, cfg.Trading.DefaultSizePct)
	assert.Equal(t, 3.0, cfg.Trading.DefaultLeverage)
	assert.Equal(t, 10.0, cfg.Trading.MinNotionalUSD)
	assert.Equal(t, "market", cfg.Trading.EntryOrderType)
	assert.Equal(t, 14, cfg.Risk.TimeStopMinutes)
	assert.Equal(t, 2.0, cfg.Risk.VolumeSpikeRatio)
	assert.Equal(t, -0.20, cfg.Reverse.HardStopThreshold)
	assert.Equal(t, 60, cfg.Cooldown.Minutes)
	assert.Equal(t, 120, cfg.Cooldown.LossMinutes)
	assert.Equal(t, 5.0, cfg.Cooldown.PnLThresholdPct)
	assert.Equal(t, "data/cooldown.db", cfg.Store.CooldownPath)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("GUARDIAN_EXCHANGE_API_KEY", "env-key")
	t.Setenv("GUARDIAN_APP_HTTP_ADDR", ":7000")

	cfg, err := Load(writeConfig(t, `
app:
  http_addr: ":8080"
exchange:
  api_key: file-key
  api_secret: s
`))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, ":7000", cfg.App.HTTPAddr)
}

func TestLoadReadsValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  http_addr: ":8080"
trading:
  default_size_pct: 0.1
  default_leverage: 10
  min_notional_usd: 25
  entry_order_type: limit
risk:
  time_stop_minutes: 20
  volume_spike_ratio: 3.5
  profile_path: configs/risk_profiles.yaml
reverse:
  min_confidence: 90
manage:
  interval_seconds: 30
  run_immediately: true
`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, 0.1, cfg.Trading.DefaultSizePct)
	assert.Equal(t, 10.0, cfg.Trading.DefaultLeverage)
	assert.Equal(t, 25.0, cfg.Trading.MinNotionalUSD)
	assert.Equal(t, "limit", cfg.Trading.EntryOrderType)
	assert.Equal(t, 20, cfg.Risk.TimeStopMinutes)
	assert.Equal(t, 3.5, cfg.Risk.VolumeSpikeRatio)
	assert.Equal(t, "configs/risk_profiles.yaml", cfg.Risk.ProfilePath)
	assert.Equal(t, 90.0, cfg.Reverse.MinConfidence)
	assert.Equal(t, 30, cfg.Manage.IntervalSeconds)
	assert.True(t, cfg.Manage.RunImmediately)
}

func TestLoadRejectsMisorderedLadder(t *testing.T) {
	_, err := Load(writeConfig(t, `
reverse:
  warning_threshold: -0.20
  hard_stop_threshold: -0.08
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ordered")
}

func TestLoadRejectsPositiveThreshold(t *testing.T) {
	_, err := Load(writeConfig(t, `
reverse:
  warning_threshold: 0.08
`))
	assert.Error(t, err)
}

func TestLoadRejectsFullSizePartialTP(t *testing.T) {
	_, err := Load(writeConfig(t, `
risk:
  partial_tp_fraction: 1.0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partial_tp_fraction")
}

func TestLoadRejectsOversizedEntry(t *testing.T) {
	_, err := Load(writeConfig(t, `
trading:
  default_size_pct: 1.5
`))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownEntryOrderType(t *testing.T) {
	_, err := Load(writeConfig(t, `
trading:
  entry_order_type: stop_market
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry_order_type")
}

func TestLoadRequiresAdvisorURLWhenEnabled(t *testing.T) {
	_, err := Load(writeConfig(t, `
advisor:
  enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisor.url")
}

func TestLoadRequiresTelegramCredsWhenEnabled(t *testing.T) {
	_, err := Load(writeConfig(t, `
notify:
  telegram:
    enabled: true
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
