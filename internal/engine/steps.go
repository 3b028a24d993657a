package engine

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/order"
	"github.com/mtlprog/fundcore/internal/portfolio"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/supply"
	"github.com/mtlprog/fundcore/internal/tokens"
	"github.com/mtlprog/fundcore/internal/voucher"
)

func (v *validator) validateSupply() error {
	cells := v.cells[CellSupply]
	if len(cells) == 0 {
		return nil
	}
	c := cells[0]
	old, err := datum[supply.Supply](c)
	if err != nil {
		return err
	}
	updated, _, err := continuing[supply.Supply](v.tx, c.out, v.p.SupplyToken())
	if err != nil {
		return err
	}
	fund := v.p.FundToken()
	if err := v.agentSigned("supply update"); err != nil {
		return err
	}

	switch c.redeemer.(type) {
	case supply.Fill:
		return v.fill(old, updated)
	case supply.CollectManagementFee:
		minted := v.tx.Minted(fund)
		if err := supply.ValidateCollectManagementFee(v.p, old, updated, v.tx.ValidFrom, minted); err != nil {
			return err
		}
		v.expected = v.expected.With(fund, minted)
		return nil
	case supply.ClosePeriod:
		return v.closePeriod(old, updated)
	default:
		return fmt.Errorf("%w: supply cannot be spent with %T", domain.ErrMismatch, c.redeemer)
	}
}

func (v *validator) fill(old, updated supply.Supply) error {
	f, rel, err := v.feed()
	if err != nil {
		return err
	}
	batch := order.NewBatch(v.p, v.tx, old, f, rel)
	var results []order.Result
	for _, o := range v.orders {
		ful, ok := o.redeemer.(order.Fulfill)
		if !ok {
			continue
		}
		var res order.Result
		switch d := o.out.Datum.(type) {
		case order.MintOrder:
			res, err = batch.FulfillMint(d, o.out.Value, ful.Ptrs)
		case order.BurnOrder:
			res, err = batch.FulfillBurn(d, o.out.Value, ful.Ptrs)
		}
		if err != nil {
			return fmt.Errorf("order %s: %w", o.out.Ref, err)
		}
		results = append(results, res)
		if res.VoucherIssued {
			v.expected = v.expected.
				With(v.p.VoucherRefToken(res.VoucherID), 1).
				With(v.p.VoucherUserToken(res.VoucherID), 1)
		}
	}

	delta := order.Total(results)
	delta.VouchersBurned, err = v.openPeriodBurns(old.PeriodID())
	if err != nil {
		return err
	}
	if err := supply.ValidateFill(old, updated, delta); err != nil {
		return err
	}
	v.expected = v.expected.With(v.p.FundToken(), delta.Tokens)
	v.report.Fill = &delta
	v.report.Orders = results
	v.filled = true
	return nil
}

func (v *validator) openPeriodBurns(period int64) (int64, error) {
	var n int64
	for _, c := range v.cells[CellVoucher] {
		vc, err := datum[voucher.Voucher](c)
		if err != nil {
			return 0, err
		}
		if vc.PeriodID == period {
			n++
		}
	}
	return n, nil
}

func (v *validator) closePeriod(old, updated supply.Supply) error {
	f, rel, err := v.feed()
	if err != nil {
		return err
	}
	fund := v.p.FundToken()
	closed, err := supply.ValidateClosePeriod(v.p, old, updated, v.tx.ValidFrom, f, rel, v.tx.Minted(fund))
	if err != nil {
		return err
	}
	v.expected = v.expected.With(fund, closed.Dilution)

	token := v.p.ReimbursementToken(closed.PeriodID)
	idx := slices.IndexFunc(v.cells[CellReimbursement], func(s spent) bool { return s.out.Value.Get(token) == 1 })
	if idx < 0 {
		return fmt.Errorf("%w: reimbursement of period %d is not spent", domain.ErrIndex, closed.PeriodID)
	}
	c := v.cells[CellReimbursement][idx]
	if _, ok := c.redeemer.(voucher.Close); !ok {
		return fmt.Errorf("%w: reimbursement of period %d must be closed", domain.ErrMismatch, closed.PeriodID)
	}
	oldR, err := datum[voucher.Reimbursement](c)
	if err != nil {
		return err
	}
	nextR, out, err := continuing[voucher.Reimbursement](v.tx, c.out, token)
	if err != nil {
		return err
	}
	if err := voucher.ValidateClose(v.p, oldR, closed.PeriodID, nextR, out.Value.Get(fund), closed); err != nil {
		return err
	}

	nextToken := v.p.ReimbursementToken(closed.PeriodID + 1)
	collecting, _, err := continuing[voucher.Reimbursement](v.tx, c.out, nextToken)
	if err != nil {
		return err
	}
	if collecting.Extracting != nil || !collecting.StartPrice.Equal(updated.SuccessFee.StartPrice) {
		return fmt.Errorf("%w: period %d must open collecting at %s", domain.ErrMismatch, closed.PeriodID+1, updated.SuccessFee.StartPrice)
	}
	v.expected = v.expected.With(nextToken, 1)

	v.report.Closed = &closed
	v.closedPeriod = &closed.PeriodID
	return nil
}

func (v *validator) validatePortfolio() error {
	cells := v.cells[CellPortfolio]
	if len(cells) == 0 {
		return nil
	}
	c := cells[0]
	old, err := datum[portfolio.Portfolio](c)
	if err != nil {
		return err
	}
	updated, _, err := continuing[portfolio.Portfolio](v.tx, c.out, v.p.PortfolioToken())
	if err != nil {
		return err
	}

	switch r := c.redeemer.(type) {
	case portfolio.Start:
		s, err := find[supply.Supply](v.tx, v.p.SupplyToken())
		if err != nil {
			return err
		}
		return portfolio.ValidateStart(old, updated, r.Mode, s.Tick)
	case portfolio.Continue:
		s, err := find[supply.Supply](v.tx, v.p.SupplyToken())
		if err != nil {
			return err
		}
		return portfolio.ValidateContinue(old, updated, v.referencedGroups(), s.Tick)
	case portfolio.Reset:
		if err := v.agentSigned("reduction reset"); err != nil {
			return err
		}
		return portfolio.ValidateReset(old, updated)
	case portfolio.AddGroup:
		if err := v.agentSigned("adding a group"); err != nil {
			return err
		}
		id, err := portfolio.ValidateAddGroup(old, updated)
		if err != nil {
			return err
		}
		token := v.p.AssetsToken(id)
		o, _, ok := ledger.FindToken(v.tx.Outputs, token)
		if !ok {
			return fmt.Errorf("%w: group %d has no cell", domain.ErrIndex, id)
		}
		if g, ok := o.Datum.(assets.Group); !ok || len(g) != 0 {
			return fmt.Errorf("%w: group %d must start empty", domain.ErrMismatch, id)
		}
		v.expected = v.expected.With(token, 1)
		return nil
	default:
		return fmt.Errorf("%w: portfolio cannot be spent with %T", domain.ErrMismatch, c.redeemer)
	}
}

// referencedGroups returns the asset group cells among reference inputs, by id.
func (v *validator) referencedGroups() []portfolio.IndexedGroup {
	var out []portfolio.IndexedGroup
	for _, o := range v.tx.RefInputs {
		id, g, err := assets.GroupID(o, v.p.Policy, v.p.Prefix)
		if err != nil {
			continue
		}
		out = append(out, portfolio.IndexedGroup{ID: id, Group: g})
	}
	slices.SortFunc(out, func(a, b portfolio.IndexedGroup) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (v *validator) validatePrice() error {
	cells := v.cells[CellPrice]
	if len(cells) == 0 {
		return nil
	}
	c := cells[0]
	if _, ok := c.redeemer.(price.Publish); !ok {
		return fmt.Errorf("%w: price cannot be spent with %T", domain.ErrMismatch, c.redeemer)
	}
	if !v.tx.IsSignedBy(v.p.Oracle) {
		return fmt.Errorf("%w: price publish needs the oracle signature", domain.ErrAuthorization)
	}
	old, err := datum[price.Feed](c)
	if err != nil {
		return err
	}
	next, _, err := continuing[price.Feed](v.tx, c.out, v.p.PriceToken())
	if err != nil {
		return err
	}
	if next.Timestamp.Before(old.Timestamp) {
		return fmt.Errorf("%w: new price predates the published one", domain.ErrExpired)
	}
	p, err := find[portfolio.Portfolio](v.tx, v.p.PortfolioToken())
	if err != nil {
		return err
	}
	s, err := find[supply.Supply](v.tx, v.p.SupplyToken())
	if err != nil {
		return err
	}
	if err := portfolio.ValidatePricePublish(p, s, next); err != nil {
		return err
	}
	v.report.Price = &next
	return nil
}

func (v *validator) validateGroups() error {
	adds := 0
	for _, c := range v.cells[CellAssets] {
		id, old, err := assets.GroupID(c.out, v.p.Policy, v.p.Prefix)
		if err != nil {
			return err
		}
		updated, _, err := continuing[assets.Group](v.tx, c.out, v.p.AssetsToken(id))
		if err != nil {
			return err
		}
		switch c.redeemer.(type) {
		case assets.UpdateCounts:
			if err := v.agentSigned("count update"); err != nil {
				return err
			}
			err = assets.ValidateCountUpdate(old, updated)
		case assets.UpdatePrices:
			if !v.tx.IsSignedBy(v.p.Oracle) {
				return fmt.Errorf("%w: price update needs the oracle signature", domain.ErrAuthorization)
			}
			err = assets.ValidatePriceUpdate(old, updated, v.tx.ValidFrom)
		case assets.AddAsset:
			if adds++; adds > 1 {
				return fmt.Errorf("%w: one asset can be added per transition", domain.ErrMismatch)
			}
			err = v.addAsset(old, updated)
		default:
			err = fmt.Errorf("%w: asset group cannot be spent with %T", domain.ErrMismatch, c.redeemer)
		}
		if err != nil {
			return fmt.Errorf("group %d: %w", id, err)
		}
	}
	return nil
}

func (v *validator) addAsset(old, updated assets.Group) error {
	if err := v.agentSigned("adding an asset"); err != nil {
		return err
	}
	a, err := assets.ValidateAddAsset(old, updated)
	if err != nil {
		return err
	}
	cells := v.cells[CellPortfolio]
	if len(cells) == 0 {
		return fmt.Errorf("%w: adding %s needs the portfolio search result", domain.ErrIndex, a)
	}
	if _, ok := cells[0].redeemer.(portfolio.Reset); !ok {
		return fmt.Errorf("%w: adding %s must consume the search with a reset", domain.ErrMismatch, a)
	}
	p, err := datum[portfolio.Portfolio](cells[0])
	if err != nil {
		return err
	}
	return portfolio.ProvesAbsent(p, a)
}

func (v *validator) validateReimbursements() error {
	for _, c := range v.cells[CellReimbursement] {
		period, err := v.seriesID(c.out, tokens.KindReimbursement)
		if err != nil {
			return err
		}
		switch c.redeemer.(type) {
		case voucher.Close:
			if v.closedPeriod == nil || *v.closedPeriod != period {
				return fmt.Errorf("%w: reimbursement %d closes only with its period", domain.ErrMismatch, period)
			}
		case voucher.Reimburse:
			old, err := datum[voucher.Reimbursement](c)
			if err != nil {
				return err
			}
			if err := voucher.ValidateReimburse(v.p, v.tx, period, old, c.out.Value); err != nil {
				return fmt.Errorf("reimbursement %d: %w", period, err)
			}
			token := v.p.ReimbursementToken(period)
			if _, _, ok := ledger.FindToken(v.tx.Outputs, token); !ok {
				v.expected = v.expected.With(token, -1)
			}
		default:
			return fmt.Errorf("%w: reimbursement cannot be spent with %T", domain.ErrMismatch, c.redeemer)
		}
	}
	return nil
}

func (v *validator) validateVouchers() error {
	s, supplyErr := find[supply.Supply](v.tx, v.p.SupplyToken())
	for _, c := range v.cells[CellVoucher] {
		if _, ok := c.redeemer.(voucher.Burn); !ok {
			return fmt.Errorf("%w: voucher cannot be spent with %T", domain.ErrMismatch, c.redeemer)
		}
		id, err := v.voucherID(c.out)
		if err != nil {
			return err
		}
		vc, err := datum[voucher.Voucher](c)
		if err != nil {
			return err
		}
		if v.closedPeriod != nil && *v.closedPeriod == vc.PeriodID {
			return fmt.Errorf("%w: voucher %d cannot be burned while its period closes", domain.ErrMismatch, id)
		}
		if err := voucher.ValidateBurn(v.p, v.tx, id, vc, s.PeriodID(), supplyErr == nil); err != nil {
			return err
		}
		if supplyErr == nil && vc.PeriodID == s.PeriodID() {
			v.openBurns++
		}
		v.expected = v.expected.
			With(v.p.VoucherRefToken(id), -1).
			With(v.p.VoucherUserToken(id), -1)
	}
	if v.openBurns > 0 && !v.filled {
		return fmt.Errorf("%w: burning vouchers of the open period needs a supply fill", domain.ErrMismatch)
	}
	return nil
}

func (v *validator) voucherID(o ledger.Output) (int64, error) {
	for a, q := range o.Value.OfPolicy(v.p.Policy) {
		label, id, err := tokens.ParseVoucher(v.p.Prefix, a.Name)
		if err == nil && q == 1 && label == tokens.RefLabel {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: cell %s holds no voucher reference", domain.ErrIndex, o.Ref)
}

func (v *validator) validateOrders() error {
	for _, o := range v.orders {
		switch o.redeemer.(type) {
		case order.Cancel:
			var addr ledger.Address
			switch d := o.out.Datum.(type) {
			case order.MintOrder:
				addr = d.ReturnAddress
			case order.BurnOrder:
				addr = d.ReturnAddress
			}
			if err := order.ValidateCancel(v.tx, addr); err != nil {
				return fmt.Errorf("order %s: %w", o.out.Ref, err)
			}
		case order.Fulfill:
			if !v.filled {
				return fmt.Errorf("%w: order %s fulfilled without a supply fill", domain.ErrMismatch, o.out.Ref)
			}
		default:
			return fmt.Errorf("%w: order cannot be spent with %T", domain.ErrMismatch, o.redeemer)
		}
	}
	return nil
}

// validateMinting checks that the protocol tokens minted and burned are
// exactly those the accepted transitions account for.
func (v *validator) validateMinting() error {
	got := v.tx.Mint.OfPolicy(v.p.Policy)
	if !got.Equal(v.expected) {
		return fmt.Errorf("%w: transaction mints %v, transitions account for %v", domain.ErrMismatch, got, v.expected)
	}
	v.report.Minted = got
	return nil
}
