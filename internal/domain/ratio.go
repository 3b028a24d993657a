package domain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Ratio is an exact rational number top/bottom on arbitrary-precision integers.
// The zero value is 0/1. Operations return new values and never reduce implicitly.
type Ratio struct {
	top    *big.Int
	bottom *big.Int
}

// NewRatio creates a ratio, failing when bottom is not positive.
func NewRatio(top, bottom int64) (Ratio, error) {
	return NewRatioBig(big.NewInt(top), big.NewInt(bottom))
}

// NewRatioBig creates a ratio from big integers. The arguments are copied.
func NewRatioBig(top, bottom *big.Int) (Ratio, error) {
	if bottom == nil || bottom.Sign() <= 0 {
		return Ratio{}, fmt.Errorf("%w: non-positive denominator %v", ErrArithmetic, bottom)
	}
	if top == nil {
		top = new(big.Int)
	}
	return Ratio{top: new(big.Int).Set(top), bottom: new(big.Int).Set(bottom)}, nil
}

// MustRatio is like NewRatio but panics on an invalid denominator.
func MustRatio(top, bottom int64) Ratio {
	r, err := NewRatio(top, bottom)
	if err != nil {
		panic(err)
	}
	return r
}

// RatioFromInt returns n/1.
func RatioFromInt(n int64) Ratio {
	return Ratio{top: big.NewInt(n), bottom: big.NewInt(1)}
}

// RatioFromDecimal converts a decimal into an exact ratio.
func RatioFromDecimal(d decimal.Decimal) Ratio {
	rat := d.Rat()
	return Ratio{top: new(big.Int).Set(rat.Num()), bottom: new(big.Int).Set(rat.Denom())}
}

// One is the identity ratio 1/1.
func One() Ratio { return RatioFromInt(1) }

func (r Ratio) parts() (*big.Int, *big.Int) {
	top, bottom := r.top, r.bottom
	if top == nil {
		top = new(big.Int)
	}
	if bottom == nil {
		bottom = big.NewInt(1)
	}
	return top, bottom
}

// Top returns a copy of the numerator.
func (r Ratio) Top() *big.Int {
	t, _ := r.parts()
	return new(big.Int).Set(t)
}

// Bottom returns a copy of the denominator.
func (r Ratio) Bottom() *big.Int {
	_, b := r.parts()
	return new(big.Int).Set(b)
}

// Mul returns (a/b)*(c/d) = ac/bd.
func (r Ratio) Mul(o Ratio) Ratio {
	a, b := r.parts()
	c, d := o.parts()
	return Ratio{top: new(big.Int).Mul(a, c), bottom: new(big.Int).Mul(b, d)}
}

// MulInt multiplies the ratio by an integer.
func (r Ratio) MulInt(n int64) Ratio {
	a, b := r.parts()
	return Ratio{top: new(big.Int).Mul(a, big.NewInt(n)), bottom: new(big.Int).Set(b)}
}

// Div returns (a/b)/(c/d) with a positive denominator. Dividing by zero fails.
func (r Ratio) Div(o Ratio) (Ratio, error) {
	a, b := r.parts()
	c, d := o.parts()
	if c.Sign() == 0 {
		return Ratio{}, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	top := new(big.Int).Mul(a, d)
	bottom := new(big.Int).Mul(b, c)
	if bottom.Sign() < 0 {
		top.Neg(top)
		bottom.Neg(bottom)
	}
	return Ratio{top: top, bottom: bottom}, nil
}

// Add returns a/b + c/d.
func (r Ratio) Add(o Ratio) Ratio {
	a, b := r.parts()
	c, d := o.parts()
	top := new(big.Int).Add(new(big.Int).Mul(a, d), new(big.Int).Mul(c, b))
	return Ratio{top: top, bottom: new(big.Int).Mul(b, d)}
}

// Sub returns a/b - c/d.
func (r Ratio) Sub(o Ratio) Ratio {
	a, b := r.parts()
	c, d := o.parts()
	top := new(big.Int).Sub(new(big.Int).Mul(a, d), new(big.Int).Mul(c, b))
	return Ratio{top: top, bottom: new(big.Int).Mul(b, d)}
}

// Cmp compares two ratios by cross-multiplication.
func (r Ratio) Cmp(o Ratio) int {
	a, b := r.parts()
	c, d := o.parts()
	return new(big.Int).Mul(a, d).Cmp(new(big.Int).Mul(c, b))
}

// Equal reports whether both ratios denote the same number.
func (r Ratio) Equal(o Ratio) bool { return r.Cmp(o) == 0 }

// Sign returns -1, 0 or 1.
func (r Ratio) Sign() int {
	a, _ := r.parts()
	return a.Sign()
}

// IsZero reports whether the ratio is zero.
func (r Ratio) IsZero() bool { return r.Sign() == 0 }

// Floor rounds down towards negative infinity.
func (r Ratio) Floor() *big.Int {
	a, b := r.parts()
	// Euclidean division equals floor division for a positive divisor.
	return new(big.Int).Div(a, b)
}

// FloorInt64 rounds down and fails when the result does not fit into int64.
func (r Ratio) FloorInt64() (int64, error) {
	f := r.Floor()
	if !f.IsInt64() {
		return 0, fmt.Errorf("%w: %s overflows int64", ErrArithmetic, f)
	}
	return f.Int64(), nil
}

// Reduce divides top and bottom by their greatest common divisor.
func (r Ratio) Reduce() Ratio {
	a, b := r.parts()
	if a.Sign() == 0 {
		return RatioFromInt(0)
	}
	g := new(big.Int).GCD(nil, nil, new(big.Int).Abs(a), b)
	return Ratio{top: new(big.Int).Quo(a, g), bottom: new(big.Int).Quo(b, g)}
}

// Decimal renders the ratio as a decimal rounded to the given number of places.
func (r Ratio) Decimal(places int32) decimal.Decimal {
	a, b := r.parts()
	return decimal.NewFromBigInt(a, 0).DivRound(decimal.NewFromBigInt(b, 0), places)
}

func (r Ratio) String() string {
	a, b := r.parts()
	return fmt.Sprintf("%s/%s", a, b)
}

// MinRatio returns the smaller of two ratios.
func MinRatio(a, b Ratio) Ratio {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MaxRatio returns the larger of two ratios.
func MaxRatio(a, b Ratio) Ratio {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

type ratioJSON struct {
	Top    *big.Int `json:"top"`
	Bottom *big.Int `json:"bottom"`
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	a, b := r.parts()
	return json.Marshal(ratioJSON{Top: a, Bottom: b})
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	var raw ratioJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding ratio: %w", err)
	}
	v, err := NewRatioBig(raw.Top, raw.Bottom)
	if err != nil {
		return err
	}
	*r = v
	return nil
}
