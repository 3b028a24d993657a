package supply

import (
	"fmt"
	"time"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/protocol"
)

// Redeemers accepted by the supply cell.
type (
	// Fill settles a batch of mint and burn orders.
	Fill struct{}
	// CollectManagementFee mints the management fee accrued up to the validity lower bound.
	CollectManagementFee struct{}
	// ClosePeriod ends the success fee period and opens the next one.
	ClosePeriod struct{}
)

// FillDelta summarizes the orders fulfilled next to a supply update.
type FillDelta struct {
	Tokens         int64 // fund tokens minted, negative when burned
	Lovelace       int64 // lovelace added to the fund by the orders
	VouchersIssued int64
	VouchersBurned int64 // vouchers of the open period burned by burn orders
}

// ValidateFill checks a supply update produced by order fulfilment.
func ValidateFill(old, updated Supply, delta FillDelta) error {
	want := old
	want.Tick++
	want.NTokens += delta.Tokens
	want.NLovelace += delta.Lovelace
	want.NVouchers += delta.VouchersIssued - delta.VouchersBurned
	want.LastVoucherID += delta.VouchersIssued
	if err := nonNegative(want); err != nil {
		return err
	}
	return compare(want, updated)
}

// ValidateCollectManagementFee checks that exactly the accrued management fee
// was minted and that the fee clock moved to validFrom.
func ValidateCollectManagementFee(p protocol.Params, old, updated Supply, validFrom time.Time, minted int64) error {
	if validFrom.IsZero() {
		return fmt.Errorf("%w: transaction has no lower validity bound", domain.ErrExpired)
	}
	dilution, err := old.ManagementFeeDilution(p.ManagementFee, validFrom)
	if err != nil {
		return err
	}
	if minted != dilution {
		return fmt.Errorf("%w: minted %d fund tokens as management fee, want %d", domain.ErrMismatch, minted, dilution)
	}
	want := old
	want.Tick++
	want.NTokens += dilution
	want.ManagementFeeTimestamp = validFrom
	return compare(want, updated)
}

// ClosedPeriod describes the outcome of a period close.
type ClosedPeriod struct {
	PeriodID   int64
	StartPrice domain.Ratio
	EndPrice   domain.Ratio
	Dilution   int64
	NVouchers  int64
}

// ValidateClosePeriod checks a period rollover. feed must be published after the
// period ended; endPrice is its benchmark-relative value. The next period starts
// where the old one ended, at the higher of the old start price and endPrice.
func ValidateClosePeriod(p protocol.Params, old, updated Supply, validFrom time.Time, feed price.Feed, endPrice domain.Ratio, minted int64) (ClosedPeriod, error) {
	end := old.PeriodEnd()
	if validFrom.Before(end) {
		return ClosedPeriod{}, fmt.Errorf("%w: period %d ends at %s", domain.ErrExpired, old.PeriodID(), end.UTC().Format(time.RFC3339))
	}
	if feed.Timestamp.Before(end) {
		return ClosedPeriod{}, fmt.Errorf("%w: closing price predates period end", domain.ErrExpired)
	}
	dilution, err := old.SuccessFeeDilution(p.SuccessFee, endPrice)
	if err != nil {
		return ClosedPeriod{}, err
	}
	if minted != dilution {
		return ClosedPeriod{}, fmt.Errorf("%w: minted %d fund tokens as success fee, want %d", domain.ErrMismatch, minted, dilution)
	}
	want := old
	want.Tick++
	want.NTokens += dilution
	want.NVouchers = 0
	want.SuccessFee = SuccessFee{
		PeriodID:   old.SuccessFee.PeriodID + 1,
		StartTime:  end,
		Period:     old.SuccessFee.Period,
		StartPrice: domain.MaxRatio(old.SuccessFee.StartPrice, endPrice),
	}
	if err := compare(want, updated); err != nil {
		return ClosedPeriod{}, err
	}
	return ClosedPeriod{
		PeriodID:   old.PeriodID(),
		StartPrice: old.SuccessFee.StartPrice,
		EndPrice:   endPrice,
		Dilution:   dilution,
		NVouchers:  old.NVouchers,
	}, nil
}

func nonNegative(s Supply) error {
	switch {
	case s.NTokens < 0:
		return fmt.Errorf("%w: token count would become %d", domain.ErrArithmetic, s.NTokens)
	case s.NLovelace < 0:
		return fmt.Errorf("%w: lovelace balance would become %d", domain.ErrInsufficientValue, s.NLovelace)
	case s.NVouchers < 0:
		return fmt.Errorf("%w: voucher count would become %d", domain.ErrArithmetic, s.NVouchers)
	}
	return nil
}

// compare reports the first field where updated differs from want.
func compare(want, updated Supply) error {
	fields := []struct {
		name string
		same bool
	}{
		{"tick", want.Tick == updated.Tick},
		{"n_tokens", want.NTokens == updated.NTokens},
		{"n_vouchers", want.NVouchers == updated.NVouchers},
		{"last_voucher_id", want.LastVoucherID == updated.LastVoucherID},
		{"n_lovelace", want.NLovelace == updated.NLovelace},
		{"management_fee_timestamp", want.ManagementFeeTimestamp.Equal(updated.ManagementFeeTimestamp)},
		{"period_id", want.SuccessFee.PeriodID == updated.SuccessFee.PeriodID},
		{"start_time", want.SuccessFee.StartTime.Equal(updated.SuccessFee.StartTime)},
		{"period", want.SuccessFee.Period == updated.SuccessFee.Period},
		{"start_price", want.SuccessFee.StartPrice.Equal(updated.SuccessFee.StartPrice)},
	}
	for _, f := range fields {
		if !f.same {
			return fmt.Errorf("%w: supply field %s is wrong", domain.ErrMismatch, f.name)
		}
	}
	return nil
}
