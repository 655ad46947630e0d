// Package registry implements the Network Configuration Registry: it loads
// a directory of declarative network-spec files, validates them, expands
// ${VAR} placeholders against the process environment, derives wei values
// from gwei, and indexes the result by id and chain id behind an
// atomically-swapped immutable snapshot.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridianlabs/testorch/models"
)

const specFilePattern = "*.yaml"
const schemaFileName = "schema.yaml"

// ValidationError carries a structured validation failure (path, message,
// offending params) so callers can render actionable diagnostics.
type ValidationError struct {
	Path    string
	Message string
	Params  map[string]any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// LoadError wraps a file-level failure recorded during loadAll; the file
// is skipped but loading continues for the rest of the directory.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %v", e.File, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// rawSpec mirrors the on-disk YAML shape before template expansion and
// wei derivation. Gas fields are given in gwei in the file format.
type rawSpec struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	ChainID uint64   `yaml:"chain_id"`
	Symbol  string   `yaml:"symbol"`
	Type    string   `yaml:"type"`
	Tags    []string `yaml:"tags"`

	RPC struct {
		Public []string `yaml:"public"`
		WS     []string `yaml:"ws"`
	} `yaml:"rpc"`

	Explorer struct {
		BaseURL  string `yaml:"base_url"`
		TxURL    string `yaml:"tx_url_template"`
		AddrURL  string `yaml:"addr_url_template"`
	} `yaml:"explorer"`

	Faucet *struct {
		URL        string  `yaml:"url"`
		AmountGwei float64 `yaml:"amount_gwei"`
		CooldownMs int64   `yaml:"cooldown_ms"`
	} `yaml:"faucet"`

	GasConfig struct {
		Strategy        string   `yaml:"strategy"`
		RequiredGwei    float64  `yaml:"required_gwei"`
		ToleranceGwei   float64  `yaml:"tolerance_gwei"`
		BaseGwei        float64  `yaml:"base_gwei"`
		FallbackGwei    float64  `yaml:"fallback_gwei"`
		MaxGasPriceGwei float64  `yaml:"max_gas_price_gwei"`
		MainnetGasGwei  *float64 `yaml:"mainnet_gas_price_gwei"`
	} `yaml:"gas_config"`

	TimeoutsMs struct {
		TransactionSend int64 `yaml:"transaction_send"`
		Receipt         int64 `yaml:"receipt"`
		Deployment      int64 `yaml:"deployment"`
		Confirmation    int64 `yaml:"confirmation"`
	} `yaml:"timeouts_ms"`

	Features []string `yaml:"features"`
}

// snapshot is the immutable map view published atomically by loadAll/refresh.
type snapshot struct {
	byID      map[string]models.NetworkSpec
	byChainID map[uint64]models.NetworkSpec
	ordered   []models.NetworkSpec
}

// Registry loads, validates and indexes network specs from a directory.
// Stable: Get/All/ByType/Refresh never return a partially-built snapshot.
type Registry struct {
	dir  string
	snap atomic.Pointer[snapshot]
}

// New constructs a Registry bound to dir without loading it; call LoadAll.
func New(dir string) *Registry {
	return &Registry{dir: dir}
}

// LoadAll reads every spec file in the directory (excluding the schema
// file), validates and expands each, and atomically installs the result.
// Files that fail are logged via the returned []error and skipped; loading
// continues for the rest.
func (r *Registry) LoadAll() ([]error, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, specFilePattern))
	if err != nil {
		return nil, fmt.Errorf("glob network spec dir: %w", err)
	}
	sort.Strings(matches)

	next := &snapshot{byID: map[string]models.NetworkSpec{}, byChainID: map[uint64]models.NetworkSpec{}}
	var loadErrs []error

	for _, path := range matches {
		if filepath.Base(path) == schemaFileName {
			continue
		}
		spec, err := r.loadOne(path)
		if err != nil {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: err})
			continue
		}
		if _, dup := next.byID[spec.ID]; dup {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: fmt.Errorf("%w %q", ErrDuplicateID, spec.ID)})
			continue
		}
		if _, dup := next.byChainID[spec.ChainID]; dup {
			loadErrs = append(loadErrs, &LoadError{File: path, Err: fmt.Errorf("%w %d", ErrDuplicateChainID, spec.ChainID)})
			continue
		}
		next.byID[spec.ID] = spec
		next.byChainID[spec.ChainID] = spec
		next.ordered = append(next.ordered, spec)
	}

	r.snap.Store(next)
	if len(next.ordered) == 0 && len(loadErrs) > 0 {
		return loadErrs, fmt.Errorf("no usable network specs loaded from %s", r.dir)
	}
	return loadErrs, nil
}

// Refresh is an alias for LoadAll that emphasizes the atomic-rebuild
// contract: readers observe either the pre- or post-refresh snapshot,
// never a partial one, because the pointer swap is the only mutation.
func (r *Registry) Refresh() ([]error, error) { return r.LoadAll() }

func (r *Registry) loadOne(path string) (models.NetworkSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.NetworkSpec{}, err
	}
	var raw rawSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return models.NetworkSpec{}, fmt.Errorf("parse yaml: %w", err)
	}

	expandedRPC, droppedRPC := expandURLs(raw.RPC.Public)
	expandedWS, _ := expandURLs(raw.RPC.WS)

	spec := models.NetworkSpec{
		ID:           raw.ID,
		Name:         raw.Name,
		ChainID:      raw.ChainID,
		Symbol:       raw.Symbol,
		Type:         models.NetworkType(raw.Type),
		Tags:         raw.Tags,
		RPCEndpoints: expandedRPC,
		WSEndpoints:  expandedWS,
		Explorer: models.Explorer{
			BaseURL:       raw.Explorer.BaseURL,
			TxURLTemplate: raw.Explorer.TxURL,
			AddrTemplate:  raw.Explorer.AddrURL,
		},
		GasConfig: models.GasConfig{
			Strategy:    models.GasStrategyKind(raw.GasConfig.Strategy),
			Required:    models.GweiToWei(raw.GasConfig.RequiredGwei),
			Tolerance:   models.GweiToWei(raw.GasConfig.ToleranceGwei),
			Base:        models.GweiToWei(raw.GasConfig.BaseGwei),
			Fallback:    models.GweiToWei(raw.GasConfig.FallbackGwei),
			MaxGasPrice: models.GweiToWei(raw.GasConfig.MaxGasPriceGwei),
		},
		Timeouts: models.Timeouts{
			TransactionSend: msDuration(raw.TimeoutsMs.TransactionSend),
			Receipt:         msDuration(raw.TimeoutsMs.Receipt),
			Deployment:      msDuration(raw.TimeoutsMs.Deployment),
			Confirmation:    msDuration(raw.TimeoutsMs.Confirmation),
		},
		Features: parseFeatures(raw.Features),
	}
	if raw.GasConfig.MainnetGasGwei != nil {
		w := models.GweiToWei(*raw.GasConfig.MainnetGasGwei)
		spec.GasConfig.MainnetGasPrice = &w
	}
	if raw.Faucet != nil {
		spec.Faucet = &models.Faucet{
			URL:      raw.Faucet.URL,
			Amount:   models.GweiToWei(raw.Faucet.AmountGwei),
			Cooldown: msDuration(raw.Faucet.CooldownMs),
		}
	}

	if len(spec.RPCEndpoints) == 0 {
		return models.NetworkSpec{}, fmt.Errorf("%w: all %d configured RPC URLs were dropped by unresolved placeholders", ErrNoUsableEndpoint, droppedRPC)
	}

	if errs := Validate(spec); len(errs) > 0 {
		return models.NetworkSpec{}, fmt.Errorf("%w: %v", ErrInvalidSchema, errs)
	}
	return spec, nil
}

func parseFeatures(names []string) models.Feature {
	var f models.Feature
	for _, n := range names {
		switch strings.ToLower(n) {
		case "eip1559":
			f |= models.FeatureEIP1559
		case "create2":
			f |= models.FeatureCreate2
		}
	}
	return f
}

// Get returns a spec by id, then by chain id if id does not match, and
// whether it was found.
func (r *Registry) Get(idOrChainID string) (models.NetworkSpec, bool) {
	s := r.snap.Load()
	if s == nil {
		return models.NetworkSpec{}, false
	}
	if spec, ok := s.byID[idOrChainID]; ok {
		return spec, true
	}
	if chainID, err := strconv.ParseUint(idOrChainID, 10, 64); err == nil {
		if spec, ok := s.byChainID[chainID]; ok {
			return spec, true
		}
	}
	return models.NetworkSpec{}, false
}

// GetByChainID looks a spec up by numeric chain id.
func (r *Registry) GetByChainID(chainID uint64) (models.NetworkSpec, bool) {
	s := r.snap.Load()
	if s == nil {
		return models.NetworkSpec{}, false
	}
	spec, ok := s.byChainID[chainID]
	return spec, ok
}

// All returns every loaded spec, in file order.
func (r *Registry) All() []models.NetworkSpec {
	s := r.snap.Load()
	if s == nil {
		return nil
	}
	out := make([]models.NetworkSpec, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// ByType filters the current snapshot by network type.
func (r *Registry) ByType(t models.NetworkType) []models.NetworkSpec {
	var out []models.NetworkSpec
	for _, spec := range r.All() {
		if spec.Type == t {
			out = append(out, spec)
		}
	}
	return out
}

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
