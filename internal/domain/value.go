package domain

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"
)

// Value is a signed multi-asset quantity. Zero entries are never stored by the
// arithmetic helpers, so two equal values have equal key sets.
type Value map[AssetClass]int64

// LovelaceValue returns a value holding only n lovelace.
func LovelaceValue(n int64) Value {
	return Value{}.With(Lovelace, n)
}

// With returns a copy of v with q units of a added.
func (v Value) With(a AssetClass, q int64) Value {
	return v.Add(Value{a: q})
}

// Get returns the quantity of a, zero when absent.
func (v Value) Get(a AssetClass) int64 {
	return v[a]
}

// Lovelace returns the native asset quantity.
func (v Value) Lovelace() int64 {
	return v[Lovelace]
}

// Add returns v + o.
func (v Value) Add(o Value) Value {
	out := make(Value, len(v)+len(o))
	for a, q := range v {
		out[a] += q
	}
	for a, q := range o {
		out[a] += q
	}
	return out.normalize()
}

// CheckedAdd returns v + o, failing with ErrArithmetic when a quantity
// leaves the int64 range.
func (v Value) CheckedAdd(o Value) (Value, error) {
	out := make(Value, len(v)+len(o))
	for a, q := range v {
		out[a] = q
	}
	for a, q := range o {
		sum, err := AddInt64(out[a], q)
		if err != nil {
			return nil, fmt.Errorf("adding %s: %w", a, err)
		}
		out[a] = sum
	}
	return out.normalize(), nil
}

// SumValues adds vs with CheckedAdd.
func SumValues(vs ...Value) (Value, error) {
	total := Value{}
	for _, v := range vs {
		var err error
		if total, err = total.CheckedAdd(v); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// AddInt64 returns a + b or ErrArithmetic on overflow.
func AddInt64(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: %d + %d overflows", ErrArithmetic, a, b)
	}
	return a + b, nil
}

// Sub returns v - o.
func (v Value) Sub(o Value) Value {
	return v.Add(o.Negate())
}

// Negate flips the sign of every quantity.
func (v Value) Negate() Value {
	return Value(lo.MapValues(map[AssetClass]int64(v), func(q int64, _ AssetClass) int64 { return -q }))
}

// WithoutPolicy drops every asset minted under policy.
func (v Value) WithoutPolicy(policy string) Value {
	return Value(lo.OmitBy(map[AssetClass]int64(v), func(a AssetClass, _ int64) bool {
		return a.Policy == policy
	})).normalize()
}

// OfPolicy keeps only assets minted under policy.
func (v Value) OfPolicy(policy string) Value {
	return Value(lo.PickBy(map[AssetClass]int64(v), func(a AssetClass, _ int64) bool {
		return a.Policy == policy
	})).normalize()
}

// Assets returns the non-lovelace asset classes with a non-zero quantity, sorted.
func (v Value) Assets() []AssetClass {
	assets := lo.Filter(lo.Keys(map[AssetClass]int64(v)), func(a AssetClass, _ int) bool {
		return !a.IsLovelace() && v[a] != 0
	})
	slices.SortFunc(assets, func(a, b AssetClass) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	return assets
}

// IsZero reports whether every quantity is zero.
func (v Value) IsZero() bool {
	return lo.EveryBy(lo.Values(map[AssetClass]int64(v)), func(q int64) bool { return q == 0 })
}

// Equal reports whether both values hold the same quantities.
func (v Value) Equal(o Value) bool {
	return v.Sub(o).IsZero()
}

// IsPositive reports whether every quantity v holds is strictly positive.
// Zero entries count as not positive.
func (v Value) IsPositive() bool {
	return lo.EveryBy(lo.Values(map[AssetClass]int64(v)), func(q int64) bool { return q > 0 })
}

// Covers reports whether v holds at least every quantity in o.
func (v Value) Covers(o Value) bool {
	for a, q := range o {
		if v[a] < q {
			return false
		}
	}
	return true
}

func (v Value) normalize() Value {
	for a, q := range v {
		if q == 0 {
			delete(v, a)
		}
	}
	return v
}
