package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/testorch/models"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const validSpec = `
id: localdev
name: Local Dev
chain_id: 1337
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
`

func TestLoadAllIndexesByIDAndChainID(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "localdev.yaml", validSpec)

	r := New(dir)
	loadErrs, err := r.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loadErrs)

	byID, ok := r.Get("localdev")
	require.True(t, ok)
	assert.Equal(t, uint64(1337), byID.ChainID)

	byChain, ok := r.GetByChainID(1337)
	require.True(t, ok)
	assert.Equal(t, "localdev", byChain.ID)

	assert.Len(t, r.All(), 1)
	assert.Len(t, r.ByType(models.NetworkLocal), 1)
	assert.Empty(t, r.ByType(models.NetworkMainnet))
}

func TestLoadAllSkipsSchemaFile(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "schema.yaml", "# not a network spec\n")
	write(t, dir, "localdev.yaml", validSpec)

	r := New(dir)
	_, err := r.LoadAll()
	require.NoError(t, err)
	assert.Len(t, r.All(), 1)
}

func TestLoadAllCollectsDuplicateIDAndChainID(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.yaml", validSpec)
	write(t, dir, "b.yaml", validSpec) // same id and chain_id

	r := New(dir)
	loadErrs, err := r.LoadAll()
	require.NoError(t, err) // one file still loaded successfully
	require.Len(t, loadErrs, 1)
	assert.Len(t, r.All(), 1)
}

func TestLoadAllReturnsErrorWhenEveryFileFails(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "broken.yaml", "id: \nchain_id: 0\n")

	r := New(dir)
	loadErrs, err := r.LoadAll()
	assert.Error(t, err)
	assert.Len(t, loadErrs, 1)
}

func TestLoadAllExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TESTORCH_TEST_RPC", "http://example.invalid:8545")
	dir := t.TempDir()
	write(t, dir, "net.yaml", `
id: envnet
name: Env Net
chain_id: 42
symbol: ETH
type: testnet
rpc:
  public:
    - "${TESTORCH_TEST_RPC}"
gas_config:
  strategy: fixed
  required_gwei: 1
timeouts_ms:
  transaction_send: 1000
  receipt: 1000
  deployment: 1000
  confirmation: 1000
`)
	r := New(dir)
	_, err := r.LoadAll()
	require.NoError(t, err)
	spec, ok := r.Get("envnet")
	require.True(t, ok)
	assert.Equal(t, []string{"http://example.invalid:8545"}, spec.RPCEndpoints)
}

func TestLoadAllDropsUnresolvedPlaceholderEndpoint(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "net.yaml", `
id: unresolved
name: Unresolved
chain_id: 43
symbol: ETH
type: testnet
rpc:
  public:
    - "${TESTORCH_DOES_NOT_EXIST_VAR}"
gas_config:
  strategy: fixed
  required_gwei: 1
timeouts_ms:
  transaction_send: 1000
  receipt: 1000
  deployment: 1000
  confirmation: 1000
`)
	r := New(dir)
	loadErrs, err := r.LoadAll()
	assert.Error(t, err)
	require.Len(t, loadErrs, 1)
}

func TestRefreshIsAliasForLoadAll(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "localdev.yaml", validSpec)
	r := New(dir)
	_, err := r.Refresh()
	require.NoError(t, err)
	assert.Len(t, r.All(), 1)
}

func TestGetMissingNetworkReturnsFalse(t *testing.T) {
	r := New(t.TempDir())
	_, err := r.LoadAll()
	require.NoError(t, err)
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	_, err := r.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, r.All())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = r.Watch(ctx)
	require.NoError(t, err)

	write(t, dir, "localdev.yaml", validSpec)

	require.Eventually(t, func() bool {
		return len(r.All()) == 1
	}, 2*time.Second, 20*time.Millisecond)
}
