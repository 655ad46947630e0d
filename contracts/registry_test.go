package contracts

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/testorch/events"
	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contracts-test.db")
	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, events.NewBus(nil))
}

type fakeChain struct {
	code        []byte
	codeErr     error
	blockNumber uint64
	blockErr    error
	callErr     error
}

func (f *fakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	return f.code, nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	if f.blockErr != nil {
		return 0, f.blockErr
	}
	return f.blockNumber, nil
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return []byte{0x01}, nil
}

func sampleDeployment() models.ContractDeployment {
	return models.ContractDeployment{
		NetworkID: "sepolia", ChainID: 11155111, Name: "SimpleStorage", Type: models.ContractEVM,
		Address: "0x000000000000000000000000000000000000aa", TxHash: "0xa", BlockNumber: 1,
		Deployer: "0xdead", ABI: []byte(`[]`), BytecodeHash: "h1", Version: 1,
	}
}

func TestSaveAssignsIDAndTimestamp(t *testing.T) {
	r := newTestRegistry(t)
	saved, err := r.Save(context.Background(), sampleDeployment())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.DeploymentID)
	assert.False(t, saved.DeployedAt.IsZero())
}

func TestSaveSupersedesPreviousActive(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Save(ctx, sampleDeployment())
	require.NoError(t, err)

	second := sampleDeployment()
	second.Address = "0x000000000000000000000000000000000000bb"
	second.Version = 2
	second, err = r.Save(ctx, second)
	require.NoError(t, err)

	active, ok, err := r.GetActive(ctx, 11155111, models.ContractEVM, "SimpleStorage")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.DeploymentID, active.DeploymentID)
	assert.NotEqual(t, first.DeploymentID, active.DeploymentID)

	all, err := r.GetAllByNetwork(ctx, 11155111)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCheckHealthHealthyWhenAllProbesPass(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	d, err := r.Save(ctx, sampleDeployment())
	require.NoError(t, err)

	chain := &fakeChain{code: []byte{0x60, 0x80}, blockNumber: 100}
	result := r.CheckHealth(ctx, d, chain)
	assert.True(t, result.Healthy)

	active, _, err := r.GetActive(ctx, d.ChainID, d.Type, d.Name)
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, active.HealthStatus)
}

func TestCheckHealthFailsOnEmptyCode(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	d, err := r.Save(ctx, sampleDeployment())
	require.NoError(t, err)

	chain := &fakeChain{code: nil, blockNumber: 100}
	result := r.CheckHealth(ctx, d, chain)
	assert.False(t, result.Healthy)

	active, _, err := r.GetActive(ctx, d.ChainID, d.Type, d.Name)
	require.NoError(t, err)
	assert.Equal(t, models.HealthFailed, active.HealthStatus)
}

func TestCheckHealthFailsOnBlockNumberError(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	d, err := r.Save(ctx, sampleDeployment())
	require.NoError(t, err)

	chain := &fakeChain{code: []byte{0x60}, blockErr: assertErr("rpc down")}
	result := r.CheckHealth(ctx, d, chain)
	assert.False(t, result.Healthy)
}

func TestCheckHealthPublishesAlertOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts-alert-test.db")
	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus(nil)
	sub := bus.Subscribe(4)
	r := New(s, bus)

	ctx := context.Background()
	d, err := r.Save(ctx, sampleDeployment())
	require.NoError(t, err)

	chain := &fakeChain{code: nil, blockNumber: 100}
	result := r.CheckHealth(ctx, d, chain)
	require.False(t, result.Healthy)

	select {
	case ev := <-sub.C():
		assert.Equal(t, events.AlertTriggered, ev.Name)
		alert, ok := ev.Fields["alert"].(models.Alert)
		require.True(t, ok)
		assert.Equal(t, d.NetworkID, alert.NetworkID)
		assert.Equal(t, models.SeverityHigh, alert.Severity)
	default:
		t.Fatal("expected an alert_triggered event")
	}

	alerts, err := s.GetAlerts(ctx, store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}

func TestVerifyBatchAggregatesHealthyFlag(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	healthy := sampleDeployment()
	healthy, err := r.Save(ctx, healthy)
	require.NoError(t, err)

	failing := sampleDeployment()
	failing.Name = "OtherContract"
	failing.Address = "0x000000000000000000000000000000000000cc"
	failing, err = r.Save(ctx, failing)
	require.NoError(t, err)

	chain := &fakeChain{code: []byte{0x60}, blockNumber: 42}
	allHealthy, results, err := r.VerifyBatch(ctx, []models.ContractDeployment{healthy, failing}, chain)
	require.NoError(t, err)
	assert.True(t, allHealthy)
	assert.Len(t, results, 2)
}

func TestVerifyBatchNotAllHealthyWhenOneFails(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	ok := sampleDeployment()
	ok, err := r.Save(ctx, ok)
	require.NoError(t, err)

	bad := sampleDeployment()
	bad.Name = "BrokenContract"
	bad.Address = "0x000000000000000000000000000000000000dd"
	bad, err = r.Save(ctx, bad)
	require.NoError(t, err)

	chain := &perAddressChain{
		byAddress: map[string]*fakeChain{
			ok.Address:  {code: []byte{0x60}, blockNumber: 1},
			bad.Address: {code: nil, blockNumber: 1},
		},
	}
	allHealthy, _, err := r.VerifyBatch(ctx, []models.ContractDeployment{ok, bad}, chain)
	require.NoError(t, err)
	assert.False(t, allHealthy)
}

func TestGetStatsReflectsSavedDeployments(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Save(ctx, sampleDeployment())
	require.NoError(t, err)

	stats, err := r.GetStats(ctx, 11155111)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDeployments)
}

// perAddressChain answers CodeAt differently per contract address, so a
// batch can exercise one healthy and one unhealthy deployment at once.
type perAddressChain struct {
	byAddress map[string]*fakeChain
}

func (f *perAddressChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	for addr, c := range f.byAddress {
		if common.HexToAddress(addr) == account {
			return c.CodeAt(ctx, account, blockNumber)
		}
	}
	return nil, nil
}

func (f *perAddressChain) BlockNumber(ctx context.Context) (uint64, error) {
	return 1, nil
}

func (f *perAddressChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
