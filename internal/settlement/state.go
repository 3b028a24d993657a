package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/config"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/portfolio"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/store"
	"github.com/mtlprog/fundcore/internal/supply"
	"github.com/mtlprog/fundcore/internal/voucher"
)

// GenesisTxID is the id of the transition that creates the initial cells.
const GenesisTxID = "genesis"

// Bootstrap creates the supply, portfolio, price and first reimbursement
// cells. It does nothing when the supply cell already exists.
func (s *Service) Bootstrap(ctx context.Context, g config.Genesis) error {
	_, err := s.store.FindByToken(ctx, s.params.SupplyToken())
	if err == nil {
		slog.Info("genesis cells already present, skipping bootstrap")
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking for supply cell: %w", err)
	}

	outputs := GenesisOutputs(s.params.SupplyToken(), s.params.PortfolioToken(), s.params.PriceToken(), s.params.ReimbursementToken(0), g)
	err = s.store.Apply(ctx, store.Changeset{
		Created: outputs,
		Transition: store.Transition{
			ID:        uuid.New(),
			TxID:      GenesisTxID,
			Kind:      "genesis",
			Accepted:  true,
			CreatedAt: s.now(),
		},
	})
	if err != nil {
		return fmt.Errorf("creating genesis cells: %w", err)
	}
	slog.Info("genesis cells created", "script", g.Script, "start_price", g.StartPrice, "start_time", g.StartTime)
	return nil
}

// GenesisOutputs builds the initial cells locked by the genesis script.
func GenesisOutputs(supplyToken, portfolioToken, priceToken, reimbursementToken domain.AssetClass, g config.Genesis) []ledger.Output {
	addr := ledger.Address{Payment: ledger.Credential{Script: true, Hash: g.Script}}
	startPrice := domain.RatioFromDecimal(g.StartPrice)
	cells := []struct {
		token domain.AssetClass
		datum any
	}{
		{supplyToken, supply.Supply{
			ManagementFeeTimestamp: g.StartTime,
			SuccessFee: supply.SuccessFee{
				StartTime:  g.StartTime,
				Period:     g.Period,
				StartPrice: startPrice,
			},
		}},
		{portfolioToken, portfolio.Portfolio{}},
		{priceToken, price.Feed{Value: startPrice, Timestamp: g.StartTime}},
		{reimbursementToken, voucher.Reimbursement{StartPrice: startPrice}},
	}

	outputs := make([]ledger.Output, 0, len(cells))
	for i, c := range cells {
		outputs = append(outputs, ledger.Output{
			Ref:     ledger.OutputRef{TxID: GenesisTxID, Index: i},
			Address: addr,
			Value:   domain.LovelaceValue(g.CellLovelace).With(c.token, 1),
			Datum:   c.datum,
		})
	}
	return outputs
}

// Supply returns the live supply cell.
func (s *Service) Supply(ctx context.Context) (supply.Supply, ledger.Output, error) {
	return cellDatum[supply.Supply](ctx, s.store, s.params.SupplyToken())
}

// Portfolio returns the live portfolio cell.
func (s *Service) Portfolio(ctx context.Context) (portfolio.Portfolio, ledger.Output, error) {
	return cellDatum[portfolio.Portfolio](ctx, s.store, s.params.PortfolioToken())
}

// Feed returns the live price cell.
func (s *Service) Feed(ctx context.Context) (price.Feed, ledger.Output, error) {
	return cellDatum[price.Feed](ctx, s.store, s.params.PriceToken())
}

// Group returns the live asset group cell with the given id.
func (s *Service) Group(ctx context.Context, id int64) (assets.Group, ledger.Output, error) {
	return cellDatum[assets.Group](ctx, s.store, s.params.AssetsToken(id))
}

// Groups returns every asset group the portfolio has registered, in id order.
func (s *Service) Groups(ctx context.Context) ([]assets.Group, error) {
	p, _, err := s.Portfolio(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]assets.Group, 0, p.NGroups)
	for id := range p.NGroups {
		g, _, err := s.Group(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", id, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Reimbursement returns the live reimbursement cell of a period.
func (s *Service) Reimbursement(ctx context.Context, periodID int64) (voucher.Reimbursement, ledger.Output, error) {
	return cellDatum[voucher.Reimbursement](ctx, s.store, s.params.ReimbursementToken(periodID))
}

func cellDatum[T any](ctx context.Context, st store.Store, token domain.AssetClass) (T, ledger.Output, error) {
	var zero T
	o, err := st.FindByToken(ctx, token)
	if err != nil {
		return zero, ledger.Output{}, err
	}
	d, ok := o.Datum.(T)
	if !ok {
		return zero, ledger.Output{}, fmt.Errorf("%w: cell %s carries %T", domain.ErrMismatch, o.Ref, o.Datum)
	}
	return d, o, nil
}
