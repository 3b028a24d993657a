// Package voucher tracks deferred success fee claims. A voucher records tokens
// minted at a price above the period's start price; the reimbursement of that
// period later pays back the fee those tokens were over-charged.
package voucher

import (
	"fmt"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/successfee"
	"github.com/mtlprog/fundcore/internal/tokens"
)

// Voucher is the datum carried by the reference half of a voucher.
type Voucher struct {
	ReturnAddress ledger.Address  `json:"returnAddress"`
	ReturnDatum   ledger.RawDatum `json:"returnDatum"`
	Tokens        int64           `json:"tokens"`
	Price         domain.Ratio    `json:"price"`
	PeriodID      int64           `json:"periodId"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Image         string          `json:"image,omitempty"`
}

// Burn is the redeemer spending a voucher reference cell.
type Burn struct{}

// BurnedIDs returns the ids of vouchers burned in tx, requiring every burn to
// remove exactly one reference and one user token.
func BurnedIDs(p protocol.Params, tx *ledger.Tx) ([]int64, error) {
	refs := map[int64]int64{}
	users := map[int64]int64{}
	for a, q := range tx.Mint.OfPolicy(p.Policy) {
		label, id, err := tokens.ParseVoucher(p.Prefix, a.Name)
		if err != nil || q >= 0 {
			continue
		}
		if label == tokens.RefLabel {
			refs[id] += q
		} else {
			users[id] += q
		}
	}
	var ids []int64
	for id, q := range refs {
		if q != -1 || users[id] != -1 {
			return nil, fmt.Errorf("%w: voucher %d burned as %d reference and %d user tokens", domain.ErrMismatch, id, -q, -users[id])
		}
		ids = append(ids, id)
	}
	for id := range users {
		if _, ok := refs[id]; !ok {
			return nil, fmt.Errorf("%w: voucher %d user token burned without its reference", domain.ErrMismatch, id)
		}
	}
	return ids, nil
}

// FindSpent returns the voucher reference cell with id among the spent inputs.
func FindSpent(p protocol.Params, tx *ledger.Tx, id int64) (Voucher, error) {
	o, _, ok := ledger.FindToken(tx.Inputs, p.VoucherRefToken(id))
	if !ok {
		return Voucher{}, fmt.Errorf("%w: voucher %d is not spent", domain.ErrIndex, id)
	}
	v, ok := o.Datum.(Voucher)
	if !ok {
		return Voucher{}, fmt.Errorf("%w: voucher cell %d carries %T", domain.ErrMismatch, id, o.Datum)
	}
	return v, nil
}

// Payout returns the fund tokens owed to v when its period closed at endPrice
// after starting at startPrice: floor(t * (phi - phi_v) / (1 - phi)), where phi
// is the fee rate charged on the whole fund and phi_v the rate the voucher's own
// performance justifies. The result is never negative.
func Payout(schedule successfee.Schedule, startPrice, endPrice domain.Ratio, v Voucher) (int64, error) {
	alpha, err := endPrice.Div(startPrice)
	if err != nil {
		return 0, fmt.Errorf("computing fund performance: %w", err)
	}
	alphaV, err := endPrice.Div(v.Price)
	if err != nil {
		return 0, fmt.Errorf("computing voucher performance: %w", err)
	}
	phi := schedule.Rate(alpha)
	phiV := schedule.Rate(alphaV)
	if phi.Cmp(phiV) <= 0 {
		return 0, nil
	}
	rest := domain.One().Sub(phi)
	if rest.Sign() <= 0 {
		return 0, fmt.Errorf("%w: fee rate reaches one", domain.ErrArithmetic)
	}
	owed, err := phi.Sub(phiV).MulInt(v.Tokens).Div(rest)
	if err != nil {
		return 0, err
	}
	return owed.FloorInt64()
}

// ValidateBurn authorizes spending a voucher reference cell. The voucher must be
// burned as a pair, and either the reimbursement of its period is spent, or the
// agent signs and the voucher belongs to the open period.
func ValidateBurn(p protocol.Params, tx *ledger.Tx, id int64, v Voucher, openPeriod int64, supplyKnown bool) error {
	if tx.Minted(p.VoucherRefToken(id)) != -1 || tx.Minted(p.VoucherUserToken(id)) != -1 {
		return fmt.Errorf("%w: voucher %d must be burned as a pair", domain.ErrMismatch, id)
	}
	if _, _, ok := ledger.FindToken(tx.Inputs, p.ReimbursementToken(v.PeriodID)); ok {
		return nil
	}
	if !tx.IsSignedBy(p.Agent) {
		return fmt.Errorf("%w: voucher %d burn needs the agent or its reimbursement", domain.ErrAuthorization, id)
	}
	if !supplyKnown || v.PeriodID != openPeriod {
		return fmt.Errorf("%w: voucher %d of closed period %d must be burned through its reimbursement", domain.ErrAuthorization, id, v.PeriodID)
	}
	return nil
}
