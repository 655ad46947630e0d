package models

import "time"

// NetworkType classifies a network's purpose.
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
	NetworkLocal   NetworkType = "local"
)

// GasStrategyKind selects how a network's gas price is derived.
type GasStrategyKind string

const (
	GasStrategyFixed    GasStrategyKind = "fixed"
	GasStrategyAdaptive GasStrategyKind = "adaptive"
	GasStrategyDynamic  GasStrategyKind = "dynamic"
)

// Feature is a bit in NetworkSpec.Features.
type Feature uint32

const (
	FeatureEIP1559 Feature = 1 << iota
	FeatureCreate2
)

// GasConfig is a tagged union over the three supported gas strategies.
// Exactly the fields relevant to Strategy are expected to be populated;
// the others are zero-valued and ignored by the Gas Strategy Manager.
type GasConfig struct {
	Strategy GasStrategyKind `yaml:"strategy" json:"strategy"`

	// fixed: Required. Tolerance is read only by the adaptive strategy.
	Required  Wei `yaml:"required" json:"required"`
	Tolerance Wei `yaml:"tolerance" json:"tolerance"`

	// adaptive: Base (with Tolerance). Fallback is used by adaptive and dynamic.
	Base     Wei `yaml:"base" json:"base"`
	Fallback Wei `yaml:"fallback" json:"fallback"`

	// dynamic
	MaxGasPrice Wei `yaml:"max_gas_price" json:"max_gas_price"`

	// comparison only, never consulted by the strategy itself
	MainnetGasPrice *Wei `yaml:"mainnet_gas_price,omitempty" json:"mainnet_gas_price,omitempty"`
}

// Timeouts holds per-operation deadlines for a network.
type Timeouts struct {
	TransactionSend time.Duration `yaml:"transaction_send" json:"transaction_send"`
	Receipt         time.Duration `yaml:"receipt" json:"receipt"`
	Deployment      time.Duration `yaml:"deployment" json:"deployment"`
	Confirmation    time.Duration `yaml:"confirmation" json:"confirmation"`
}

// Explorer describes a block-explorer's URL templates.
type Explorer struct {
	BaseURL       string `yaml:"base_url" json:"base_url"`
	TxURLTemplate string `yaml:"tx_url_template" json:"tx_url_template"`
	AddrTemplate  string `yaml:"addr_url_template" json:"addr_url_template"`
}

func (e Explorer) TxURL(hash string) string {
	return templateOne(e.TxURLTemplate, "{tx}", hash)
}

func (e Explorer) AddressURL(addr string) string {
	return templateOne(e.AddrTemplate, "{address}", addr)
}

func templateOne(tpl, placeholder, value string) string {
	out := make([]byte, 0, len(tpl))
	for i := 0; i < len(tpl); {
		if i+len(placeholder) <= len(tpl) && tpl[i:i+len(placeholder)] == placeholder {
			out = append(out, value...)
			i += len(placeholder)
			continue
		}
		out = append(out, tpl[i])
		i++
	}
	return string(out)
}

// Faucet describes an optional per-network faucet.
type Faucet struct {
	URL      string        `yaml:"url" json:"url"`
	Amount   Wei           `yaml:"amount" json:"amount"`
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// NetworkSpec is the immutable, validated, template-expanded representation
// of one network declaration. Values never mutate after loadAll/refresh.
type NetworkSpec struct {
	ID      string      `yaml:"id" json:"id"`
	Name    string      `yaml:"name" json:"name"`
	ChainID uint64      `yaml:"chain_id" json:"chain_id"`
	Symbol  string      `yaml:"symbol" json:"symbol"`
	Type    NetworkType `yaml:"type" json:"type"`

	RPCEndpoints []string `yaml:"rpc_endpoints" json:"rpc_endpoints"`
	WSEndpoints  []string `yaml:"ws_endpoints,omitempty" json:"ws_endpoints,omitempty"`

	Explorer Explorer `yaml:"explorer" json:"explorer"`
	Faucet   *Faucet  `yaml:"faucet,omitempty" json:"faucet,omitempty"`

	GasConfig GasConfig `yaml:"gas_config" json:"gas_config"`

	Timeouts Timeouts `yaml:"timeouts" json:"timeouts"`
	Features Feature  `yaml:"-" json:"features"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// HasFeature reports whether the given bit is set.
func (n NetworkSpec) HasFeature(f Feature) bool { return n.Features&f != 0 }
