package registry

import (
	"errors"

	"github.com/meridianlabs/testorch/models"
)

// Sentinel error kinds named in spec.md §4.A. None are retried internally;
// callers (loadOne, LoadAll) wrap these with file/field context.
var (
	ErrInvalidSchema    = errors.New("registry: invalid schema")
	ErrNoUsableEndpoint = errors.New("registry: no usable endpoint")
	ErrDuplicateChainID = errors.New("registry: duplicate chain id")
	ErrDuplicateID      = errors.New("registry: duplicate id")
)

// Validate runs structural validation equivalent to the schema contract in
// spec.md §4.A ("allErrors" mode: every violation is collected, not just
// the first). No pack repository depends on a JSON Schema library, so this
// is implemented directly in Go rather than against a generic schema
// engine (see DESIGN.md).
func Validate(spec models.NetworkSpec) []*ValidationError {
	var errs []*ValidationError

	if spec.ID == "" {
		errs = append(errs, &ValidationError{Path: "id", Message: "required"})
	} else if spec.ID != toLower(spec.ID) {
		errs = append(errs, &ValidationError{Path: "id", Message: "must be lowercase", Params: map[string]any{"value": spec.ID}})
	}
	if spec.Name == "" {
		errs = append(errs, &ValidationError{Path: "name", Message: "required"})
	}
	if spec.ChainID == 0 {
		errs = append(errs, &ValidationError{Path: "chain_id", Message: "must be a positive integer"})
	}
	if spec.Symbol == "" {
		errs = append(errs, &ValidationError{Path: "symbol", Message: "required"})
	}
	switch spec.Type {
	case models.NetworkMainnet, models.NetworkTestnet, models.NetworkLocal:
	default:
		errs = append(errs, &ValidationError{Path: "type", Message: "must be one of mainnet|testnet|local", Params: map[string]any{"value": spec.Type}})
	}
	if len(spec.RPCEndpoints) == 0 {
		errs = append(errs, &ValidationError{Path: "rpc.public", Message: "at least one usable endpoint required"})
	}
	switch spec.GasConfig.Strategy {
	case models.GasStrategyFixed:
		if spec.GasConfig.Required.IsZero() {
			errs = append(errs, &ValidationError{Path: "gas_config.required_gwei", Message: "required for fixed strategy"})
		}
	case models.GasStrategyAdaptive:
		if spec.GasConfig.Base.IsZero() {
			errs = append(errs, &ValidationError{Path: "gas_config.base_gwei", Message: "required for adaptive strategy"})
		}
	case models.GasStrategyDynamic:
		// maxGasPrice and fallback are both optional for dynamic.
	default:
		errs = append(errs, &ValidationError{Path: "gas_config.strategy", Message: "must be one of fixed|adaptive|dynamic", Params: map[string]any{"value": spec.GasConfig.Strategy}})
	}
	return errs
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
