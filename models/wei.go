package models

import "math/big"

// Wei is the single monotonic numeric type used for all gas-price and
// cost accounting throughout the orchestrator. It wraps *big.Int so wei
// values never lose precision across gwei/wei conversions.
type Wei struct {
	v *big.Int
}

// NewWei wraps an existing big.Int (copied) as a Wei value.
func NewWei(v *big.Int) Wei {
	if v == nil {
		return Wei{v: big.NewInt(0)}
	}
	return Wei{v: new(big.Int).Set(v)}
}

// WeiFromInt64 builds a Wei value from a plain int64 of wei.
func WeiFromInt64(v int64) Wei { return Wei{v: big.NewInt(v)} }

// GweiToWei converts a gwei-denominated float (as found in network spec
// files) into a Wei value.
func GweiToWei(gwei float64) Wei {
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	out, _ := f.Int(nil)
	if out == nil {
		out = big.NewInt(0)
	}
	return Wei{v: out}
}

// ZeroWei returns the additive identity.
func ZeroWei() Wei { return Wei{v: big.NewInt(0)} }

// Int returns the underlying *big.Int (safe to mutate the copy returned).
func (w Wei) Int() *big.Int {
	if w.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(w.v)
}

func (w Wei) IsZero() bool { return w.v == nil || w.v.Sign() == 0 }

func (w Wei) Cmp(o Wei) int { return w.Int().Cmp(o.Int()) }

func (w Wei) Add(o Wei) Wei { return Wei{v: new(big.Int).Add(w.Int(), o.Int())} }

func (w Wei) Mul(factor float64) Wei {
	f := new(big.Float).Mul(new(big.Float).SetInt(w.Int()), big.NewFloat(factor))
	out, _ := f.Int(nil)
	return Wei{v: out}
}

func (w Wei) String() string {
	if w.v == nil {
		return "0"
	}
	return w.v.String()
}

func (w Wei) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

func (w *Wei) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		v = big.NewInt(0)
	}
	w.v = v
	return nil
}
