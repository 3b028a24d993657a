// Package successfee evaluates the piecewise-linear success fee schedule.
package successfee

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundcore/internal/domain"
)

// MaxSteps is the largest number of steps a schedule may carry.
const MaxSteps = 10

var (
	minSigma = decimal.NewFromInt(1)
	maxSigma = decimal.NewFromInt(10)
	maxRate  = decimal.NewFromInt(1)
)

// Step starts a tier at performance ratio Sigma charged at marginal rate C.
type Step struct {
	Sigma decimal.Decimal `json:"sigma" yaml:"sigma"`
	C     decimal.Decimal `json:"c" yaml:"c"`
}

// Schedule is the fee curve: rate C0 from sigma=1 up to the first step, then each step's rate.
type Schedule struct {
	C0    decimal.Decimal `json:"c0" yaml:"c0"`
	Steps []Step          `json:"steps" yaml:"steps"`
}

type tier struct {
	sigma domain.Ratio
	c     domain.Ratio
}

func (s Schedule) tiers() []tier {
	out := make([]tier, 0, len(s.Steps)+1)
	out = append(out, tier{sigma: domain.One(), c: domain.RatioFromDecimal(s.C0)})
	for _, st := range s.Steps {
		out = append(out, tier{sigma: domain.RatioFromDecimal(st.Sigma), c: domain.RatioFromDecimal(st.C)})
	}
	return out
}

// Apply returns the fee fraction charged at performance ratio alpha.
func (s Schedule) Apply(alpha domain.Ratio) domain.Ratio {
	return applyTiers(alpha, s.tiers())
}

// Rate returns Apply(alpha)/alpha, the share of the end value taken as fee.
func (s Schedule) Rate(alpha domain.Ratio) domain.Ratio {
	fee := s.Apply(alpha)
	if fee.IsZero() {
		return domain.RatioFromInt(0)
	}
	// fee is non-zero only when alpha > 1.
	rate, _ := fee.Div(alpha)
	return rate
}

// Quote is the fee charged at one performance ratio, rounded for display.
type Quote struct {
	Alpha decimal.Decimal `json:"alpha"`
	Fee   decimal.Decimal `json:"fee"`
	Rate  decimal.Decimal `json:"rate"`
}

// Quote evaluates the schedule at alpha.
func (s Schedule) Quote(alpha decimal.Decimal) Quote {
	a := domain.RatioFromDecimal(alpha)
	return Quote{
		Alpha: alpha,
		Fee:   s.Apply(a).Decimal(quotePlaces),
		Rate:  s.Rate(a).Decimal(quotePlaces),
	}
}

const quotePlaces = 12

// applyInternal evaluates the curve starting at tier (sigma, c) followed by next.
func applyInternal(alpha, sigma, c domain.Ratio, next []tier) domain.Ratio {
	return applyTiers(alpha, append([]tier{{sigma: sigma, c: c}}, next...))
}

// applyTiers charges every tier reached by alpha on the part of alpha inside that tier.
func applyTiers(alpha domain.Ratio, tiers []tier) domain.Ratio {
	fee := domain.RatioFromInt(0)
	for i, t := range tiers {
		if alpha.Cmp(t.sigma) < 0 {
			break
		}
		upper := alpha
		if i+1 < len(tiers) {
			upper = domain.MinRatio(alpha, tiers[i+1].sigma)
		}
		fee = fee.Add(t.c.Mul(upper.Sub(t.sigma))).Reduce()
	}
	return fee
}

// Validate checks step count, bounds and strictly increasing sigmas.
func (s Schedule) Validate() error {
	if len(s.Steps) > MaxSteps {
		return fmt.Errorf("%w: %d steps exceed maximum of %d", domain.ErrScheduleInvalid, len(s.Steps), MaxSteps)
	}
	return validateInternal(minSigma, s.C0, s.Steps)
}

// IsValid reports whether Validate succeeds.
func (s Schedule) IsValid() bool {
	return s.Validate() == nil
}

func validateInternal(sigma, c decimal.Decimal, next []Step) error {
	for i := 0; ; i++ {
		if sigma.LessThan(minSigma) || sigma.GreaterThan(maxSigma) {
			return fmt.Errorf("%w: sigma %s outside [1, 10]", domain.ErrScheduleInvalid, sigma)
		}
		if c.IsNegative() || c.GreaterThan(maxRate) {
			return fmt.Errorf("%w: rate %s outside [0, 1]", domain.ErrScheduleInvalid, c)
		}
		if i == len(next) {
			return nil
		}
		if !next[i].Sigma.GreaterThan(sigma) {
			return fmt.Errorf("%w: sigma %s does not increase over %s", domain.ErrScheduleInvalid, next[i].Sigma, sigma)
		}
		sigma, c = next[i].Sigma, next[i].C
	}
}
