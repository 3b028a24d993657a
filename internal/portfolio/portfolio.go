// Package portfolio coordinates multi-step reductions over every asset group
// and publishes the resulting fund price.
package portfolio

import (
	"fmt"
	"time"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
)

// Portfolio is the datum of the portfolio cell. A nil Reduction means Idle.
type Portfolio struct {
	NGroups   int64     `json:"nGroups"`
	Reduction *Reducing `json:"reduction,omitempty"`
}

// Reducing is an in-flight fold over groups [0, NGroups).
type Reducing struct {
	GroupIter int64 `json:"groupIter"`
	StartTick int64 `json:"startTick"`
	Mode      Mode  `json:"mode"`
}

// Mode selects what a reduction accumulates. Exactly one field is set.
type Mode struct {
	TotalAssetValue *TotalAssetValue `json:"totalAssetValue,omitempty"`
	AssetExists     *AssetExists     `json:"assetExists,omitempty"`
}

// TotalAssetValue sums count*price and tracks the oldest price timestamp seen.
type TotalAssetValue struct {
	Total           domain.Ratio `json:"total"`
	OldestTimestamp time.Time    `json:"oldestTimestamp"`
}

// AssetExists looks for one asset class in every group.
type AssetExists struct {
	AssetClass domain.AssetClass `json:"assetClass"`
	Found      bool              `json:"found"`
}

// TotalValueMode returns a fresh total value accumulator.
func TotalValueMode() Mode {
	return Mode{TotalAssetValue: &TotalAssetValue{Total: domain.RatioFromInt(0)}}
}

// AssetExistsMode returns a fresh search for a.
func AssetExistsMode(a domain.AssetClass) Mode {
	return Mode{AssetExists: &AssetExists{AssetClass: a}}
}

// IsIdle reports whether no reduction is in flight.
func (p Portfolio) IsIdle() bool { return p.Reduction == nil }

// IsTerminal reports whether the reduction has visited every group.
func (p Portfolio) IsTerminal() bool {
	return p.Reduction != nil && p.Reduction.GroupIter == p.NGroups
}

func (m Mode) valid() bool {
	return (m.TotalAssetValue == nil) != (m.AssetExists == nil)
}

func (m Mode) fold(g assets.Group) Mode {
	switch {
	case m.TotalAssetValue != nil:
		acc := *m.TotalAssetValue
		for _, r := range g {
			acc.Total = acc.Total.Add(r.Value()).Reduce()
			if acc.OldestTimestamp.IsZero() || r.PriceTimestamp.Before(acc.OldestTimestamp) {
				acc.OldestTimestamp = r.PriceTimestamp
			}
		}
		return Mode{TotalAssetValue: &acc}
	default:
		acc := *m.AssetExists
		if _, ok := g.Find(acc.AssetClass); ok {
			acc.Found = true
		}
		return Mode{AssetExists: &acc}
	}
}

func (m Mode) equal(o Mode) bool {
	switch {
	case m.TotalAssetValue != nil && o.TotalAssetValue != nil:
		return m.TotalAssetValue.Total.Equal(o.TotalAssetValue.Total) &&
			m.TotalAssetValue.OldestTimestamp.Equal(o.TotalAssetValue.OldestTimestamp)
	case m.AssetExists != nil && o.AssetExists != nil:
		return *m.AssetExists == *o.AssetExists
	default:
		return false
	}
}

func equal(a, b Portfolio) error {
	if a.NGroups != b.NGroups {
		return fmt.Errorf("%w: portfolio has %d groups, want %d", domain.ErrMismatch, b.NGroups, a.NGroups)
	}
	if (a.Reduction == nil) != (b.Reduction == nil) {
		return fmt.Errorf("%w: portfolio reduction state is wrong", domain.ErrMismatch)
	}
	if a.Reduction == nil {
		return nil
	}
	ra, rb := a.Reduction, b.Reduction
	if ra.GroupIter != rb.GroupIter || ra.StartTick != rb.StartTick {
		return fmt.Errorf("%w: reduction at group %d tick %d, want group %d tick %d",
			domain.ErrMismatch, rb.GroupIter, rb.StartTick, ra.GroupIter, ra.StartTick)
	}
	if !ra.Mode.equal(rb.Mode) {
		return fmt.Errorf("%w: reduction accumulator is wrong", domain.ErrMismatch)
	}
	return nil
}
