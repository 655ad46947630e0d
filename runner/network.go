package runner

import (
	"context"
	"fmt"

	"github.com/meridianlabs/testorch/events"
	"github.com/meridianlabs/testorch/gas"
	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/pool"
)

// networkContext bundles everything a phase implementation needs for one
// network: its spec, a provider/signer pair from the Resource Pool, and
// the gas quote to use for the run.
type networkContext struct {
	spec     models.NetworkSpec
	provider *pool.Provider
	signer   *pool.Signer
	quote    models.GasQuote
}

// acquireNetworkContext acquires a provider and signer for spec via the
// Resource Pool and quotes gas for it (spec.md §4.G step 4a).
func (r *Runner) acquireNetworkContext(ctx context.Context, spec models.NetworkSpec, privateKeyHex string) (*networkContext, error) {
	signer, err := r.Pool.GetSigner(ctx, spec, 0, privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("runner: acquire signer for %q: %w", spec.ID, err)
	}
	quote, err := r.Gas.Quote(ctx, spec, gasProviderOf(signer.Provider()))
	if err != nil {
		r.Pool.Release(signer.Provider())
		return nil, fmt.Errorf("runner: quote gas for %q: %w", spec.ID, err)
	}
	return &networkContext{spec: spec, provider: signer.Provider(), signer: signer, quote: quote}, nil
}

func (r *Runner) releaseNetworkContext(nc *networkContext) {
	if nc == nil {
		return
	}
	r.Pool.Release(nc.provider)
}

func gasProviderOf(p *pool.Provider) gas.Provider { return p }

// rpcURLOf returns a network's first configured RPC endpoint, or "" if it
// has none.
func rpcURLOf(spec models.NetworkSpec) string {
	if len(spec.RPCEndpoints) == 0 {
		return ""
	}
	return spec.RPCEndpoints[0]
}

// recordNetworkStatus persists a NetworkStatus snapshot and publishes
// network_status_changed (spec.md §6). Persistence failures are logged,
// not propagated, since status recording is observational.
func (r *Runner) recordNetworkStatus(ctx context.Context, spec models.NetworkSpec, status models.NetworkStatus) {
	if err := r.Store.InsertNetworkStatus(ctx, status); err != nil {
		r.Log.Error("persist network status failed", "network", spec.ID, "error", err)
	}
	if r.Bus != nil {
		r.Bus.Publish(events.NetworkStatusChanged, events.NetworkStatusChangedFields(status))
	}
}
