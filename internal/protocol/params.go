// Package protocol holds the per-deployment parameters every validator reads.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/successfee"
	"github.com/mtlprog/fundcore/internal/tokens"
)

// ManagementFee is charged as Relative of the token supply per Period.
type ManagementFee struct {
	Relative decimal.Decimal `json:"relative" yaml:"relative"`
	Period   time.Duration   `json:"period" yaml:"period"`
}

// Params are the fixed protocol constants of one deployment stage.
type Params struct {
	Policy        string              `json:"policy" yaml:"policy"`
	Prefix        string              `json:"prefix" yaml:"prefix"`
	Agent         string              `json:"agent" yaml:"agent"`
	Oracle        string              `json:"oracle" yaml:"oracle"`
	Benchmark     string              `json:"benchmark" yaml:"benchmark"`
	MintFee       decimal.Decimal     `json:"mintFee" yaml:"mint_fee"`
	BurnFee       decimal.Decimal     `json:"burnFee" yaml:"burn_fee"`
	ManagementFee ManagementFee       `json:"managementFee" yaml:"management_fee"`
	SuccessFee    successfee.Schedule `json:"successFee" yaml:"success_fee"`
}

// Validate checks that the parameters describe a usable deployment.
func (p Params) Validate() error {
	var errs []error
	if p.Policy == "" {
		errs = append(errs, errors.New("policy is required"))
	}
	if p.Prefix == "" {
		errs = append(errs, errors.New("prefix is required"))
	}
	if p.Agent == "" {
		errs = append(errs, errors.New("agent is required"))
	}
	if p.Oracle == "" {
		errs = append(errs, errors.New("oracle is required"))
	}
	for name, fee := range map[string]decimal.Decimal{"mint_fee": p.MintFee, "burn_fee": p.BurnFee, "management_fee.relative": p.ManagementFee.Relative} {
		if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1), got %s", name, fee))
		}
	}
	if p.ManagementFee.Period <= 0 {
		errs = append(errs, errors.New("management_fee.period must be positive"))
	}
	if err := p.SuccessFee.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Token returns the protocol asset class with the given token name.
func (p Params) Token(name string) domain.AssetClass {
	return domain.NewAssetClass(p.Policy, name)
}

// FundToken is the fungible token users mint and burn.
func (p Params) FundToken() domain.AssetClass { return p.Token(tokens.Fund(p.Prefix)) }

// SupplyToken marks the supply cell.
func (p Params) SupplyToken() domain.AssetClass { return p.Token(tokens.Supply(p.Prefix)) }

// PortfolioToken marks the portfolio cell.
func (p Params) PortfolioToken() domain.AssetClass { return p.Token(tokens.Portfolio(p.Prefix)) }

// PriceToken marks the price feed cell.
func (p Params) PriceToken() domain.AssetClass { return p.Token(tokens.Price(p.Prefix)) }

// AssetsToken marks the asset group cell with the given id.
func (p Params) AssetsToken(id int64) domain.AssetClass { return p.Token(tokens.Assets(p.Prefix, id)) }

// ReimbursementToken marks the reimbursement cell of a period.
func (p Params) ReimbursementToken(periodID int64) domain.AssetClass {
	return p.Token(tokens.Reimbursement(p.Prefix, periodID))
}

// VoucherRefToken is the datum-carrying half of a voucher.
func (p Params) VoucherRefToken(id int64) domain.AssetClass {
	return p.Token(tokens.VoucherRef(p.Prefix, id))
}

// VoucherUserToken is the transferable half of a voucher.
func (p Params) VoucherUserToken(id int64) domain.AssetClass {
	return p.Token(tokens.VoucherUser(p.Prefix, id))
}

// MintFeeRatio returns the mint fee as an exact ratio.
func (p Params) MintFeeRatio() domain.Ratio { return domain.RatioFromDecimal(p.MintFee) }

// BurnFeeRatio returns the burn fee as an exact ratio.
func (p Params) BurnFeeRatio() domain.Ratio { return domain.RatioFromDecimal(p.BurnFee) }
