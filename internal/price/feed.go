package price

import (
	"fmt"
	"time"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
)

// Feed is the published fund token price in lovelace per token.
type Feed struct {
	Value     domain.Ratio `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
}

// Publish is the redeemer replacing the price cell with a freshly reduced feed.
type Publish struct{}

// IsNotExpired reports whether the feed is at most maxAge old at now.
func (f Feed) IsNotExpired(now time.Time, maxAge time.Duration) bool {
	return f.IsNotExpiredAt(now.Add(-maxAge))
}

// IsNotExpiredAt reports whether the feed was published no earlier than expiry.
func (f Feed) IsNotExpiredAt(expiry time.Time) bool {
	return !f.Timestamp.Before(expiry)
}

// CheckFresh returns ErrExpired when the feed is older than maxAge at the
// transaction's upper validity bound.
func (f Feed) CheckFresh(tx *ledger.Tx, maxAge time.Duration) error {
	if tx.ValidTo.IsZero() {
		return fmt.Errorf("%w: transaction has no upper validity bound", domain.ErrExpired)
	}
	if !f.IsNotExpired(tx.ValidTo, maxAge) {
		return fmt.Errorf("%w: price from %s is older than %s at %s",
			domain.ErrExpired, f.Timestamp.UTC().Format(time.RFC3339), maxAge, tx.ValidTo.UTC().Format(time.RFC3339))
	}
	return nil
}

// RelativeToBenchmark expresses the price in units of the benchmark.
func (f Feed) RelativeToBenchmark(benchmark domain.Ratio) (domain.Ratio, error) {
	if f.Value.Bottom().Sign() <= 0 || benchmark.Bottom().Sign() <= 0 {
		return domain.Ratio{}, fmt.Errorf("%w: non-positive denominator", domain.ErrArithmetic)
	}
	return f.Value.Mul(benchmark), nil
}

// Benchmark reads the benchmark ratio observed by credential through a staking
// withdrawal. An empty credential means the fund is measured in lovelace: 1/1.
func Benchmark(tx *ledger.Tx, credential string) (domain.Ratio, error) {
	if credential == "" {
		return domain.One(), nil
	}
	w, ok := tx.Withdrawal(credential)
	if !ok {
		return domain.Ratio{}, fmt.Errorf("%w: benchmark %s not observed", domain.ErrMismatch, credential)
	}
	r, ok := w.Redeemer.(domain.Ratio)
	if !ok {
		return domain.Ratio{}, fmt.Errorf("%w: benchmark observation carries %T", domain.ErrMismatch, w.Redeemer)
	}
	if r.Sign() <= 0 {
		return domain.Ratio{}, fmt.Errorf("%w: benchmark %s is not positive", domain.ErrArithmetic, r)
	}
	return r, nil
}

// Lookup finds the feed cell marked by token among reference inputs, then spent inputs.
func Lookup(tx *ledger.Tx, token domain.AssetClass) (Feed, error) {
	for _, outputs := range [][]ledger.Output{tx.RefInputs, tx.Inputs} {
		o, _, ok := ledger.FindToken(outputs, token)
		if !ok {
			continue
		}
		f, ok := o.Datum.(Feed)
		if !ok {
			return Feed{}, fmt.Errorf("%w: price cell carries %T", domain.ErrMismatch, o.Datum)
		}
		return f, nil
	}
	return Feed{}, fmt.Errorf("%w: price cell not found", domain.ErrIndex)
}
