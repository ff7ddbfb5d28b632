package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
storage:
  data_dir: %DIR%
  sqlite_path: %DIR%/journal.db
alpaca:
  api_key: PKTESTKEY1234
  api_secret: secretvalue9876
feed:
  mode: alpaca
markets:
  - {symbol: AAPL, timeframe: 15m}
indicators:
  - {type: rsi, period: 14, overbought: 70, oversold: 30}
`

func writeConfig(t *testing.T) string {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "TRADECORE_DATA_DIR", "SQLITE_PATH", "TRADECORE_SQLITE_PATH",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
		"TRADECORE_BROKER", "TRADECORE_FEED",
	} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "tradecore.yaml")
	body := strings.ReplaceAll(testConfig, "%DIR%", dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tradecore-cli "+version+"\n", out)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "****1234")
	assert.Contains(t, out, "****9876")
	assert.NotContains(t, out, "PKTESTKEY1234")
	assert.Contains(t, out, "symbol: AAPL")
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (1 markets, 1 indicators, feed alpaca, broker simulator)")

	_, err = execute(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJournalEmpty(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "journal", "equity", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "no snapshots recorded\n", out)

	out, err = execute(t, "journal", "orders", "--config", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ID"))
}

func TestParseSortMode(t *testing.T) {
	for s, want := range map[string]int{"pnl": 0, "EXPO": 1, "sym": 2, "age": 3} {
		got, err := parseSortMode(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
	_, err := parseSortMode("size")
	assert.Error(t, err)
}

func TestParseWindow(t *testing.T) {
	from, to, err := parseWindow("2024-03-01", "2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), to)

	_, _, err = parseWindow("2024-03-05", "2024-03-01")
	assert.Error(t, err)
	_, _, err = parseWindow("March", "")
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("abc"))
	assert.Equal(t, "****wxyz", mask("abcdwxyz"))
}
