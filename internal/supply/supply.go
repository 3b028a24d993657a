// Package supply holds the global fund state: token count, voucher bookkeeping,
// the management fee clock and the open success fee period.
package supply

import (
	"fmt"
	"time"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/successfee"
)

// SuccessFee is the currently open performance accounting period.
type SuccessFee struct {
	PeriodID   int64         `json:"periodId"`
	StartTime  time.Time     `json:"startTime"`
	Period     time.Duration `json:"period"`
	StartPrice domain.Ratio  `json:"startPrice"`
}

// Supply is the datum of the supply cell.
type Supply struct {
	Tick                   int64      `json:"tick"`
	NTokens                int64      `json:"nTokens"`
	NVouchers              int64      `json:"nVouchers"`
	LastVoucherID          int64      `json:"lastVoucherId"`
	NLovelace              int64      `json:"nLovelace"`
	ManagementFeeTimestamp time.Time  `json:"managementFeeTimestamp"`
	SuccessFee             SuccessFee `json:"successFee"`
}

// PeriodEnd returns the end of the open success fee period.
func (s Supply) PeriodEnd() time.Time {
	return s.SuccessFee.StartTime.Add(s.SuccessFee.Period)
}

// PeriodID returns the id of the open success fee period.
func (s Supply) PeriodID() int64 {
	return s.SuccessFee.PeriodID
}

// IsSuccessful reports whether the benchmark-relative price is strictly above
// the period's start price.
func (s Supply) IsSuccessful(priceRelative domain.Ratio) bool {
	return priceRelative.Cmp(s.SuccessFee.StartPrice) > 0
}

// ManagementFeeDilution returns the tokens minted to collect the management fee
// accrued between the fee timestamp and now: floor(n * f / (1 - f)) with
// f = relative * elapsed / period.
func (s Supply) ManagementFeeDilution(fee protocol.ManagementFee, now time.Time) (int64, error) {
	elapsed := now.Sub(s.ManagementFeeTimestamp)
	if s.NTokens == 0 || fee.Relative.IsZero() || elapsed <= 0 {
		return 0, nil
	}
	if fee.Period <= 0 {
		return 0, fmt.Errorf("%w: management fee period is not positive", domain.ErrArithmetic)
	}
	share, err := domain.NewRatio(int64(elapsed), int64(fee.Period))
	if err != nil {
		return 0, err
	}
	f := domain.RatioFromDecimal(fee.Relative).Mul(share)
	return dilute(s.NTokens, f, domain.One().Sub(f))
}

// SuccessFeeDilution returns the tokens minted as success fee when the period
// closes at endPrice: floor(n * fee / (alpha - fee)) with alpha = end / start
// and fee = schedule(alpha). No gain means no dilution.
func (s Supply) SuccessFeeDilution(schedule successfee.Schedule, endPrice domain.Ratio) (int64, error) {
	alpha, err := endPrice.Div(s.SuccessFee.StartPrice)
	if err != nil {
		return 0, fmt.Errorf("computing performance: %w", err)
	}
	if s.NTokens == 0 || alpha.Cmp(domain.One()) <= 0 {
		return 0, nil
	}
	fee := schedule.Apply(alpha)
	if fee.IsZero() {
		return 0, nil
	}
	return dilute(s.NTokens, fee, alpha.Sub(fee))
}

func dilute(n int64, num, den domain.Ratio) (int64, error) {
	if den.Sign() <= 0 {
		return 0, fmt.Errorf("%w: fee consumes the whole supply", domain.ErrArithmetic)
	}
	d, err := num.MulInt(n).Div(den)
	if err != nil {
		return 0, err
	}
	return d.FloorInt64()
}

// Find returns the supply cell marked by token among spent inputs, then reference inputs.
func Find(tx *ledger.Tx, token domain.AssetClass) (Supply, bool, error) {
	for i, outputs := range [][]ledger.Output{tx.Inputs, tx.RefInputs} {
		o, _, ok := ledger.FindToken(outputs, token)
		if !ok {
			continue
		}
		s, ok := o.Datum.(Supply)
		if !ok {
			return Supply{}, false, fmt.Errorf("%w: supply cell carries %T", domain.ErrMismatch, o.Datum)
		}
		return s, i == 0, nil
	}
	return Supply{}, false, fmt.Errorf("%w: supply cell not found", domain.ErrIndex)
}

// SpendsSupply reports whether the transaction spends the supply cell.
func SpendsSupply(tx *ledger.Tx, token domain.AssetClass) bool {
	_, _, ok := ledger.FindToken(tx.Inputs, token)
	return ok
}

// WitnessedBySupply reports whether the input being validated is the supply cell.
func WitnessedBySupply(ctx ledger.ScriptContext, token domain.AssetClass) bool {
	own, ok := ctx.Own()
	if !ok || own.Value.Get(token) != 1 {
		return false
	}
	_, ok = own.Datum.(Supply)
	return ok
}
