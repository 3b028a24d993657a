package voucher

import (
	"fmt"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/successfee"
	"github.com/mtlprog/fundcore/internal/supply"
)

// Reimbursement is the datum of a per-period reimbursement cell. A nil
// Extracting means the period is still Collecting.
type Reimbursement struct {
	StartPrice domain.Ratio `json:"startPrice"`
	Extracting *Extracting  `json:"extracting,omitempty"`
}

// Extracting fixes the payout terms once the period has closed.
type Extracting struct {
	NRemainingVouchers int64               `json:"nRemainingVouchers"`
	EndPrice           domain.Ratio        `json:"endPrice"`
	SuccessFee         successfee.Schedule `json:"successFee"`
}

// Redeemers accepted by a reimbursement cell.
type (
	// Close moves the cell to Extracting when the supply closes its period.
	Close struct{}
	// Reimburse pays burned vouchers and destroys the cell after the last one.
	Reimburse struct{}
)

// ValidateBurnedVouchers pays every voucher of periodID burned in tx and
// returns how many were burned and the tokens paid out. Each payout must land
// in its own return output, matched by address and datum.
func ValidateBurnedVouchers(p protocol.Params, tx *ledger.Tx, periodID int64, r Reimbursement) (int64, int64, error) {
	if r.Extracting == nil {
		return 0, 0, fmt.Errorf("%w: period %d is still collecting", domain.ErrMismatch, periodID)
	}
	ids, err := BurnedIDs(p, tx)
	if err != nil {
		return 0, 0, err
	}
	fund := p.FundToken()
	used := map[int]bool{}
	var count, total int64
	for _, id := range ids {
		v, err := FindSpent(p, tx, id)
		if err != nil {
			return 0, 0, err
		}
		if v.PeriodID != periodID {
			continue
		}
		owed, err := Payout(r.Extracting.SuccessFee, r.StartPrice, r.Extracting.EndPrice, v)
		if err != nil {
			return 0, 0, err
		}
		out, idx, err := ledger.FindReturn(tx.Outputs, v.ReturnAddress, v.ReturnDatum, used)
		if err != nil {
			return 0, 0, fmt.Errorf("voucher %d: %w", id, err)
		}
		if got := out.Value.Get(fund); got != owed {
			return 0, 0, fmt.Errorf("%w: voucher %d return carries %d tokens, want %d", domain.ErrMismatch, id, got, owed)
		}
		used[idx] = true
		count++
		total += owed
	}
	return count, total, nil
}

// ValidateClose checks the Collecting to Extracting move at period close. The
// cell keeps at most the success fee minted at close.
func ValidateClose(p protocol.Params, old Reimbursement, periodID int64, updated Reimbursement, held int64, closed supply.ClosedPeriod) error {
	if old.Extracting != nil {
		return fmt.Errorf("%w: period %d is already extracting", domain.ErrMismatch, periodID)
	}
	if periodID != closed.PeriodID {
		return fmt.Errorf("%w: reimbursement of period %d closed with period %d", domain.ErrMismatch, periodID, closed.PeriodID)
	}
	if !old.StartPrice.Equal(closed.StartPrice) || !updated.StartPrice.Equal(old.StartPrice) {
		return fmt.Errorf("%w: reimbursement start price differs from the period's", domain.ErrMismatch)
	}
	ext := updated.Extracting
	if ext == nil {
		return fmt.Errorf("%w: reimbursement must start extracting", domain.ErrMismatch)
	}
	if ext.NRemainingVouchers != closed.NVouchers {
		return fmt.Errorf("%w: %d vouchers remaining, want %d", domain.ErrMismatch, ext.NRemainingVouchers, closed.NVouchers)
	}
	if !ext.EndPrice.Equal(closed.EndPrice) {
		return fmt.Errorf("%w: end price %s, want %s", domain.ErrMismatch, ext.EndPrice, closed.EndPrice)
	}
	if !sameSchedule(ext.SuccessFee, p.SuccessFee) {
		return fmt.Errorf("%w: extracting schedule differs from the protocol's", domain.ErrMismatch)
	}
	if held < 0 || held > closed.Dilution {
		return fmt.Errorf("%w: reimbursement holds %d tokens, at most %d were minted", domain.ErrInsufficientValue, held, closed.Dilution)
	}
	return nil
}

// ValidateReimburse checks the main transition of an extracting cell: the
// remaining count drops by the vouchers burned and the held balance by the
// tokens paid. Once no voucher remains, the token is burned and the cell ends.
func ValidateReimburse(p protocol.Params, tx *ledger.Tx, periodID int64, old Reimbursement, oldValue domain.Value) error {
	if !tx.IsSignedBy(p.Agent) {
		return fmt.Errorf("%w: reimbursement needs the agent signature", domain.ErrAuthorization)
	}
	count, total, err := ValidateBurnedVouchers(p, tx, periodID, old)
	if err != nil {
		return err
	}
	remaining := old.Extracting.NRemainingVouchers - count
	if remaining < 0 {
		return fmt.Errorf("%w: %d vouchers burned, %d remaining", domain.ErrMismatch, count, old.Extracting.NRemainingVouchers)
	}
	token := p.ReimbursementToken(periodID)
	out, _, continues := ledger.FindToken(tx.Outputs, token)
	if remaining == 0 {
		if continues || tx.Minted(token) != -1 {
			return fmt.Errorf("%w: finished reimbursement %d must burn its token", domain.ErrMismatch, periodID)
		}
		return nil
	}
	if !continues {
		return fmt.Errorf("%w: reimbursement %d has %d vouchers left", domain.ErrIndex, periodID, remaining)
	}
	next, ok := out.Datum.(Reimbursement)
	if !ok || next.Extracting == nil {
		return fmt.Errorf("%w: continuing reimbursement carries %T", domain.ErrMismatch, out.Datum)
	}
	if next.Extracting.NRemainingVouchers != remaining ||
		!next.StartPrice.Equal(old.StartPrice) ||
		!next.Extracting.EndPrice.Equal(old.Extracting.EndPrice) ||
		!sameSchedule(next.Extracting.SuccessFee, old.Extracting.SuccessFee) {
		return fmt.Errorf("%w: continuing reimbursement state is wrong", domain.ErrMismatch)
	}
	fund := p.FundToken()
	if got, want := out.Value.Get(fund), oldValue.Get(fund)-total; got != want {
		return fmt.Errorf("%w: reimbursement holds %d tokens, want %d", domain.ErrMismatch, got, want)
	}
	return nil
}

func sameSchedule(a, b successfee.Schedule) bool {
	if !a.C0.Equal(b.C0) || len(a.Steps) != len(b.Steps) {
		return false
	}
	for i := range a.Steps {
		if !a.Steps[i].Sigma.Equal(b.Steps[i].Sigma) || !a.Steps[i].C.Equal(b.Steps[i].C) {
			return false
		}
	}
	return true
}
