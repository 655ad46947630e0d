package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/testorch/runner"
)

func writeNetworkYAML(t *testing.T, dir, id string, chainID int) {
	t.Helper()
	content := fmt.Sprintf(`
id: %s
name: %s
chain_id: %d
symbol: ETH
type: local
rpc:
  public:
    - "http://127.0.0.1:8545"
gas_config:
  strategy: fixed
  required_gwei: 2
timeouts_ms:
  transaction_send: 2000
  receipt: 2000
  deployment: 2000
  confirmation: 2000
`, id, id, chainID)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(content), 0o644))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	regDir := t.TempDir()
	writeNetworkYAML(t, regDir, "localdev", 1337)
	cfg := Defaults()
	cfg.RegistryDir = regDir
	cfg.StorePath = filepath.Join(t.TempDir(), "results.db")
	return cfg
}

func TestNewLoadsRegistryAndWiresRunner(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.Len(t, e.Registry.All(), 1)
	assert.NotNil(t, e.Runner)
	assert.Equal(t, 1, e.Snapshot().Networks)
}

func TestRunUnknownNetworkReturnsError(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	_, err = e.Run(context.Background(), runner.Config{Networks: []string{"nope"}})
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestNewWithMissingRegistryDirStartsEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.RegistryDir = filepath.Join(t.TempDir(), "does-not-exist")
	e, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.Empty(t, e.Registry.All())
}
