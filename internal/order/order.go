// Package order validates the fulfilment and cancellation of pending mint and
// burn orders.
package order

import (
	"fmt"
	"time"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/supply"
)

// MintOrder asks for at least MinTokens fund tokens in exchange for the value
// locked with it.
type MintOrder struct {
	ReturnAddress ledger.Address  `json:"returnAddress"`
	ReturnDatum   ledger.RawDatum `json:"returnDatum"`
	MinTokens     int64           `json:"minTokens"`
	MaxPriceAge   time.Duration   `json:"maxPriceAge"`
}

// MinReturn is the floor a burn order requests. A nil Value selects the
// lovelace-only variant.
type MinReturn struct {
	Lovelace int64        `json:"lovelace,omitempty"`
	Value    domain.Value `json:"value,omitempty"`
}

// MinReturnLovelace requests at least n lovelace back.
func MinReturnLovelace(n int64) MinReturn { return MinReturn{Lovelace: n} }

// MinReturnValue requests at least v back, asset by asset.
func MinReturnValue(v domain.Value) MinReturn { return MinReturn{Value: v} }

// IsValue reports whether the floor is a full multi-asset value.
func (m MinReturn) IsValue() bool { return m.Value != nil }

// BurnOrder redeems the fund tokens locked with it.
type BurnOrder struct {
	ReturnAddress ledger.Address  `json:"returnAddress"`
	ReturnDatum   ledger.RawDatum `json:"returnDatum"`
	MinReturn     MinReturn       `json:"minReturn"`
	MaxPriceAge   time.Duration   `json:"maxPriceAge"`
}

// Redeemers accepted by an order cell.
type (
	// Cancel destroys the order without settlement.
	Cancel struct{}
	// Fulfill settles the order. Ptrs price every non-lovelace asset in the diff.
	Fulfill struct {
		Ptrs []assets.Ptr `json:"ptrs"`
	}
)

// Result is what one fulfilled order contributes to the supply update.
type Result struct {
	Tokens        int64   // fund tokens minted to the user, negative when burned
	Lovelace      int64   // lovelace kept by the fund, negative when paid out
	Value         int64   // lovelace equivalent of the whole diff
	VoucherIssued bool
	VoucherID     int64
	Vouchers      []int64 // open period vouchers redeemed by a burn
}

// Total folds fulfilled orders into a supply delta.
func Total(results []Result) supply.FillDelta {
	var d supply.FillDelta
	for _, r := range results {
		d.Tokens += r.Tokens
		d.Lovelace += r.Lovelace
		if r.VoucherIssued {
			d.VouchersIssued++
		}
		d.VouchersBurned += int64(len(r.Vouchers))
	}
	return d
}

// Diff returns what the user handed to the fund: the order value minus the
// returned value, ignoring every token of the protocol policy.
func Diff(policy string, orderValue, returned domain.Value) domain.Value {
	return orderValue.Sub(returned).WithoutPolicy(policy)
}

// ValidateCancel accepts a cancel signed by the return address key or
// co-signed by spending another input from the return address.
func ValidateCancel(tx *ledger.Tx, returnAddress ledger.Address) error {
	pay := returnAddress.Payment
	if !pay.Script && tx.IsSignedBy(pay.Hash) {
		return nil
	}
	if tx.SpendsFrom(returnAddress) {
		return nil
	}
	return fmt.Errorf("%w: cancel is not authorized by %s", domain.ErrAuthorization, pay.Hash)
}
