// Package engine validates one proposed transition end to end: it recognises
// every protocol cell the transaction spends, runs the matching state machine
// and checks that the protocol tokens minted or burned are exactly those the
// accepted transitions account for.
package engine

import (
	"fmt"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/order"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/supply"
	"github.com/mtlprog/fundcore/internal/tokens"
	"github.com/mtlprog/fundcore/internal/txjson"
)

// Cell kinds.
const (
	CellSupply        = "supply"
	CellPortfolio     = "portfolio"
	CellPrice         = "price"
	CellAssets        = "assets"
	CellReimbursement = "reimbursement"
	CellVoucher       = "voucher"
	CellMintOrder     = "mint_order"
	CellBurnOrder     = "burn_order"
)

// Action is one protocol cell consumed by the transaction.
type Action struct {
	Input    ledger.OutputRef `json:"input"`
	Cell     string           `json:"cell"`
	Redeemer string           `json:"redeemer"`
}

// Report describes an accepted transition.
type Report struct {
	Actions []Action             `json:"actions"`
	Fill    *supply.FillDelta    `json:"fill,omitempty"`
	Orders  []order.Result       `json:"orders,omitempty"`
	Closed  *supply.ClosedPeriod `json:"closed,omitempty"`
	Price   *price.Feed          `json:"price,omitempty"`
	Minted  domain.Value         `json:"minted,omitempty"`
}

// Kind names the transition by its most significant action.
func (r Report) Kind() string {
	for _, cell := range []string{CellSupply, CellPrice, CellPortfolio, CellAssets, CellReimbursement, CellVoucher} {
		for _, a := range r.Actions {
			if a.Cell == cell {
				return a.Redeemer
			}
		}
	}
	if len(r.Actions) > 0 {
		return r.Actions[0].Redeemer
	}
	return "transfer"
}

type spent struct {
	out      ledger.Output
	redeemer any
}

type validator struct {
	p        protocol.Params
	tx       *ledger.Tx
	report   Report
	expected domain.Value
	cells    map[string][]spent
	orders   []spent

	openBurns    int64
	filled       bool
	closedPeriod *int64
}

// Validate accepts or rejects tx under p. Nothing is retained between calls.
func Validate(p protocol.Params, tx *ledger.Tx) (Report, error) {
	v := &validator{
		p:        p,
		tx:       tx,
		expected: domain.Value{},
		cells:    map[string][]spent{},
	}
	if err := v.classify(); err != nil {
		return Report{}, err
	}
	steps := []func() error{
		v.validateSupply,
		v.validatePortfolio,
		v.validatePrice,
		v.validateGroups,
		v.validateReimbursements,
		v.validateVouchers,
		v.validateOrders,
		v.validateMinting,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Report{}, err
		}
	}
	return v.report, nil
}

func (v *validator) classify() error {
	for _, o := range v.tx.Inputs {
		cell := v.cellOf(o)
		if cell == "" {
			continue
		}
		r, ok := v.tx.Redeemer(o.Ref)
		if !ok {
			return fmt.Errorf("%w: %s cell %s spent without redeemer", domain.ErrMismatch, cell, o.Ref)
		}
		v.report.Actions = append(v.report.Actions, Action{Input: o.Ref, Cell: cell, Redeemer: txjson.RedeemerName(r)})
		s := spent{out: o, redeemer: r}
		if cell == CellMintOrder || cell == CellBurnOrder {
			v.orders = append(v.orders, s)
			continue
		}
		v.cells[cell] = append(v.cells[cell], s)
	}
	for _, cell := range []string{CellSupply, CellPortfolio, CellPrice} {
		if n := len(v.cells[cell]); n > 1 {
			return fmt.Errorf("%w: %d %s cells spent", domain.ErrMismatch, n, cell)
		}
	}
	return nil
}

func (v *validator) cellOf(o ledger.Output) string {
	switch {
	case o.Value.Get(v.p.SupplyToken()) == 1:
		return CellSupply
	case o.Value.Get(v.p.PortfolioToken()) == 1:
		return CellPortfolio
	case o.Value.Get(v.p.PriceToken()) == 1:
		return CellPrice
	}
	for a, q := range o.Value.OfPolicy(v.p.Policy) {
		if q != 1 {
			continue
		}
		if _, err := tokens.ParseSeries(v.p.Prefix, tokens.KindAssets, a.Name); err == nil {
			return CellAssets
		}
		if _, err := tokens.ParseSeries(v.p.Prefix, tokens.KindReimbursement, a.Name); err == nil {
			return CellReimbursement
		}
		if label, _, err := tokens.ParseVoucher(v.p.Prefix, a.Name); err == nil && label == tokens.RefLabel {
			return CellVoucher
		}
	}
	switch o.Datum.(type) {
	case order.MintOrder:
		return CellMintOrder
	case order.BurnOrder:
		return CellBurnOrder
	}
	return ""
}

func (v *validator) agentSigned(what string) error {
	if !v.tx.IsSignedBy(v.p.Agent) {
		return fmt.Errorf("%w: %s needs the agent signature", domain.ErrAuthorization, what)
	}
	return nil
}

// continuing returns the output that carries token forward from cell, with its datum.
func continuing[T any](tx *ledger.Tx, from ledger.Output, token domain.AssetClass) (T, ledger.Output, error) {
	var zero T
	o, _, ok := ledger.FindToken(tx.Outputs, token)
	if !ok {
		return zero, ledger.Output{}, fmt.Errorf("%w: no output continues %s", domain.ErrIndex, token)
	}
	if o.Address != from.Address {
		return zero, ledger.Output{}, fmt.Errorf("%w: %s moved to another address", domain.ErrMismatch, token)
	}
	d, ok := o.Datum.(T)
	if !ok {
		return zero, ledger.Output{}, fmt.Errorf("%w: %s continues with %T", domain.ErrMismatch, token, o.Datum)
	}
	return d, o, nil
}

func datum[T any](s spent) (T, error) {
	d, ok := s.out.Datum.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: cell %s carries %T", domain.ErrMismatch, s.out.Ref, s.out.Datum)
	}
	return d, nil
}

// find returns the datum of the cell marked by token among spent inputs, then reference inputs.
func find[T any](tx *ledger.Tx, token domain.AssetClass) (T, error) {
	var zero T
	for _, outputs := range [][]ledger.Output{tx.Inputs, tx.RefInputs} {
		o, _, ok := ledger.FindToken(outputs, token)
		if !ok {
			continue
		}
		d, ok := o.Datum.(T)
		if !ok {
			return zero, fmt.Errorf("%w: %s cell carries %T", domain.ErrMismatch, token, o.Datum)
		}
		return d, nil
	}
	return zero, fmt.Errorf("%w: %s cell not found", domain.ErrIndex, token)
}

// seriesID returns the id of the first protocol token of kind held by o.
func (v *validator) seriesID(o ledger.Output, kind string) (int64, error) {
	for a, q := range o.Value.OfPolicy(v.p.Policy) {
		if q != 1 {
			continue
		}
		if id, err := tokens.ParseSeries(v.p.Prefix, kind, a.Name); err == nil {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: cell %s holds no %s token", domain.ErrIndex, o.Ref, kind)
}

func (v *validator) feed() (price.Feed, domain.Ratio, error) {
	f, err := price.Lookup(v.tx, v.p.PriceToken())
	if err != nil {
		return price.Feed{}, domain.Ratio{}, err
	}
	bench, err := price.Benchmark(v.tx, v.p.Benchmark)
	if err != nil {
		return price.Feed{}, domain.Ratio{}, err
	}
	rel, err := f.RelativeToBenchmark(bench)
	if err != nil {
		return price.Feed{}, domain.Ratio{}, err
	}
	return f, rel, nil
}
