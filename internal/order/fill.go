package order

import (
	"fmt"
	"slices"
	"time"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/successfee"
	"github.com/mtlprog/fundcore/internal/supply"
	"github.com/mtlprog/fundcore/internal/tokens"
	"github.com/mtlprog/fundcore/internal/voucher"
)

// Batch is the shared context of every order fulfilled by one transaction.
// Return outputs and voucher ids are handed out once per batch.
type Batch struct {
	Params        protocol.Params
	Tx            *ledger.Tx
	Supply        supply.Supply
	Feed          price.Feed
	PriceRelative domain.Ratio
	Source        assets.Source

	used   map[int]bool
	issued int64
}

// NewBatch prepares a batch against the supply and price read by tx.
func NewBatch(p protocol.Params, tx *ledger.Tx, s supply.Supply, feed price.Feed, priceRelative domain.Ratio) *Batch {
	return &Batch{
		Params:        p,
		Tx:            tx,
		Supply:        s,
		Feed:          feed,
		PriceRelative: priceRelative,
		Source:        assets.NewSource(tx.RefInputs, p),
		used:          map[int]bool{},
	}
}

func (b *Batch) authorize(maxPriceAge time.Duration) error {
	if !b.Tx.IsSignedBy(b.Params.Agent) {
		return fmt.Errorf("%w: fulfilment needs the agent signature", domain.ErrAuthorization)
	}
	return b.Feed.CheckFresh(b.Tx, maxPriceAge)
}

func (b *Batch) settle(addr ledger.Address, datum ledger.RawDatum, orderValue domain.Value, ptrs []assets.Ptr) (ledger.Output, domain.Value, int64, error) {
	out, idx, err := ledger.FindReturn(b.Tx.Outputs, addr, datum, b.used)
	if err != nil {
		return ledger.Output{}, nil, 0, err
	}
	diff := Diff(b.Params.Policy, orderValue, out.Value)
	worth, err := assets.ValueLovelace(diff, ptrs, b.Source)
	if err != nil {
		return ledger.Output{}, nil, 0, err
	}
	b.used[idx] = true
	return out, diff, worth, nil
}

// FulfillMint checks that the user got at least the tokens they asked for and
// the tokens the price implies for the value they handed over. A voucher is
// issued when the fund trades above the period's start price.
func (b *Batch) FulfillMint(o MintOrder, orderValue domain.Value, ptrs []assets.Ptr) (Result, error) {
	if err := b.authorize(o.MaxPriceAge); err != nil {
		return Result{}, err
	}
	if o.MinTokens < 0 {
		return Result{}, fmt.Errorf("%w: mint order asks for %d tokens", domain.ErrMismatch, o.MinTokens)
	}
	out, diff, worth, err := b.settle(o.ReturnAddress, o.ReturnDatum, orderValue, ptrs)
	if err != nil {
		return Result{}, err
	}

	fund := b.Params.FundToken()
	n := out.Value.Get(fund) - orderValue.Get(fund)
	if n < 0 {
		return Result{}, fmt.Errorf("%w: mint takes %d fund tokens from the order", domain.ErrMismatch, -n)
	}
	if worth < 0 {
		return Result{}, fmt.Errorf("%w: mint pays out %d lovelace of value", domain.ErrMismatch, -worth)
	}
	if n < o.MinTokens {
		return Result{}, fmt.Errorf("%w: not enough value returned as requested: %d tokens, asked for %d", domain.ErrInsufficientValue, n, o.MinTokens)
	}
	implied, err := domain.RatioFromInt(worth).Mul(domain.One().Sub(b.Params.MintFeeRatio())).Div(b.Feed.Value)
	if err != nil {
		return Result{}, fmt.Errorf("pricing mint: %w", err)
	}
	owed, err := implied.FloorInt64()
	if err != nil {
		return Result{}, err
	}
	if n < owed {
		return Result{}, fmt.Errorf("%w: not enough value returned as required by contract: %d tokens, owed %d", domain.ErrInsufficientValue, n, owed)
	}

	res := Result{Tokens: n, Lovelace: diff.Lovelace(), Value: worth}
	if b.Supply.IsSuccessful(b.PriceRelative) {
		id, err := b.checkVoucher(o, out, n)
		if err != nil {
			return Result{}, err
		}
		res.VoucherIssued, res.VoucherID = true, id
	}
	return res, nil
}

func (b *Batch) checkVoucher(o MintOrder, out ledger.Output, n int64) (int64, error) {
	id := b.Supply.LastVoucherID + b.issued + 1
	ref, user := b.Params.VoucherRefToken(id), b.Params.VoucherUserToken(id)
	if b.Tx.Minted(ref) != 1 || b.Tx.Minted(user) != 1 {
		return 0, fmt.Errorf("%w: voucher %d must be minted for a mint above the start price", domain.ErrMismatch, id)
	}
	if out.Value.Get(user) != 1 {
		return 0, fmt.Errorf("%w: voucher %d is not returned to the minter", domain.ErrMismatch, id)
	}
	cell, _, ok := ledger.FindToken(b.Tx.Outputs, ref)
	if !ok {
		return 0, fmt.Errorf("%w: voucher %d has no reference cell", domain.ErrIndex, id)
	}
	v, ok := cell.Datum.(voucher.Voucher)
	if !ok {
		return 0, fmt.Errorf("%w: voucher cell %d carries %T", domain.ErrMismatch, id, cell.Datum)
	}
	switch {
	case v.ReturnAddress != o.ReturnAddress || v.ReturnDatum != o.ReturnDatum:
		return 0, fmt.Errorf("%w: voucher %d pays to the wrong return", domain.ErrMismatch, id)
	case v.Tokens != n:
		return 0, fmt.Errorf("%w: voucher %d covers %d tokens, want %d", domain.ErrMismatch, id, v.Tokens, n)
	case !v.Price.Equal(b.PriceRelative):
		return 0, fmt.Errorf("%w: voucher %d price %s, want %s", domain.ErrMismatch, id, v.Price, b.PriceRelative)
	case v.PeriodID != b.Supply.PeriodID():
		return 0, fmt.Errorf("%w: voucher %d period %d, want %d", domain.ErrMismatch, id, v.PeriodID, b.Supply.PeriodID())
	}
	b.issued++
	return id, nil
}

// FulfillBurn checks that the user got back what they asked for and no more
// than the burned tokens are worth after the burn fee and the provisional
// success fee.
func (b *Batch) FulfillBurn(o BurnOrder, orderValue domain.Value, ptrs []assets.Ptr) (Result, error) {
	if err := b.authorize(o.MaxPriceAge); err != nil {
		return Result{}, err
	}
	out, diff, worth, err := b.settle(o.ReturnAddress, o.ReturnDatum, orderValue, ptrs)
	if err != nil {
		return Result{}, err
	}

	fund := b.Params.FundToken()
	nBurn := orderValue.Get(fund) - out.Value.Get(fund)
	if nBurn < 0 {
		return Result{}, fmt.Errorf("%w: burn returns %d more fund tokens than it locked", domain.ErrMismatch, -nBurn)
	}
	if err := returnedEnough(o.MinReturn, out.Value.WithoutPolicy(b.Params.Policy)); err != nil {
		return Result{}, err
	}

	ids, redeemed, err := b.redeemedVouchers(orderValue, out.Value)
	if err != nil {
		return Result{}, err
	}
	provisional, err := ProvisionalSuccessFee(b.Params.SuccessFee, b.Supply.SuccessFee.StartPrice, b.Feed.Value, b.PriceRelative, nBurn, redeemed)
	if err != nil {
		return Result{}, err
	}
	gross, err := domain.RatioFromInt(nBurn).Mul(b.Feed.Value).Mul(domain.One().Sub(b.Params.BurnFeeRatio())).FloorInt64()
	if err != nil {
		return Result{}, err
	}
	paid := -worth
	if allowed := gross - provisional; paid > allowed {
		return Result{}, fmt.Errorf("%w: not enough value returned as required by contract: pays %d lovelace for %d tokens, allowed %d",
			domain.ErrInsufficientValue, paid, nBurn, allowed)
	}
	return Result{Tokens: -nBurn, Lovelace: diff.Lovelace(), Value: worth, Vouchers: ids}, nil
}

func returnedEnough(floor MinReturn, returned domain.Value) error {
	if floor.IsValue() {
		if !returned.Covers(floor.Value) {
			return fmt.Errorf("%w: not enough value returned as requested", domain.ErrInsufficientValue)
		}
		return nil
	}
	if got := returned.Lovelace(); got < floor.Lovelace {
		return fmt.Errorf("%w: not enough value returned as requested: %d lovelace, asked for %d", domain.ErrInsufficientValue, got, floor.Lovelace)
	}
	return nil
}

// redeemedVouchers returns the vouchers whose user token the order locked and
// the transaction burned. Only vouchers of the open period can be redeemed here.
func (b *Batch) redeemedVouchers(orderValue, returned domain.Value) ([]int64, []voucher.Voucher, error) {
	var ids []int64
	for a, q := range orderValue.OfPolicy(b.Params.Policy) {
		label, id, err := tokens.ParseVoucher(b.Params.Prefix, a.Name)
		if err != nil || label != tokens.UserLabel || q != 1 || returned.Get(a) == 1 {
			continue
		}
		if b.Tx.Minted(a) != -1 {
			return nil, nil, fmt.Errorf("%w: voucher %d left the order without being burned", domain.ErrMismatch, id)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]voucher.Voucher, 0, len(ids))
	for _, id := range ids {
		v, err := voucher.FindSpent(b.Params, b.Tx, id)
		if err != nil {
			return nil, nil, err
		}
		if v.PeriodID != b.Supply.PeriodID() {
			return nil, nil, fmt.Errorf("%w: voucher %d of closed period %d is redeemed through its reimbursement", domain.ErrMismatch, id, v.PeriodID)
		}
		out = append(out, v)
	}
	return ids, out, nil
}

// ProvisionalSuccessFee returns the success fee in lovelace withheld from a
// burn of nBurn tokens at price. Tokens covered by the redeemed vouchers are
// charged on the gain since each voucher's price, the rest on the gain since
// the period's start price. Each share is floor(tokens * price * rate).
func ProvisionalSuccessFee(schedule successfee.Schedule, startPrice, price, priceRelative domain.Ratio, nBurn int64, vouchers []voucher.Voucher) (int64, error) {
	remaining := nBurn
	var total int64
	charge := func(n int64, from domain.Ratio) error {
		alpha, err := priceRelative.Div(from)
		if err != nil {
			return fmt.Errorf("computing performance: %w", err)
		}
		fee, err := domain.RatioFromInt(n).Mul(price).Mul(schedule.Rate(alpha)).FloorInt64()
		if err != nil {
			return err
		}
		total += fee
		return nil
	}
	for _, v := range vouchers {
		covered := min(v.Tokens, remaining)
		if covered <= 0 {
			break
		}
		if err := charge(covered, v.Price); err != nil {
			return 0, err
		}
		remaining -= covered
	}
	if remaining > 0 {
		if err := charge(remaining, startPrice); err != nil {
			return 0, err
		}
	}
	return max(total, 0), nil
}
