package portfolio

import (
	"fmt"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/supply"
)

// Redeemers accepted by the portfolio cell.
type (
	// Start begins a reduction in the given mode.
	Start struct {
		Mode Mode `json:"mode"`
	}
	// Continue folds the asset groups passed as reference inputs.
	Continue struct{}
	// Reset abandons any reduction.
	Reset struct{}
	// AddGroup creates the next empty asset group.
	AddGroup struct{}
)

// IndexedGroup is an asset group together with its id.
type IndexedGroup struct {
	ID    int64
	Group assets.Group
}

// ValidateStart checks that an idle portfolio starts a fresh reduction pinned to supplyTick.
func ValidateStart(old, updated Portfolio, mode Mode, supplyTick int64) error {
	if !old.IsIdle() {
		return fmt.Errorf("%w: a reduction is already in flight", domain.ErrMismatch)
	}
	if !mode.valid() {
		return fmt.Errorf("%w: reduction mode must select exactly one accumulator", domain.ErrMismatch)
	}
	fresh := TotalValueMode()
	if mode.AssetExists != nil {
		fresh = AssetExistsMode(mode.AssetExists.AssetClass)
	}
	want := Portfolio{NGroups: old.NGroups, Reduction: &Reducing{StartTick: supplyTick, Mode: fresh}}
	return equal(want, updated)
}

// ValidateContinue folds groups, which must be the next consecutive groups of the
// reduction, and checks the accumulator stored in updated.
func ValidateContinue(old, updated Portfolio, groups []IndexedGroup, supplyTick int64) error {
	r := old.Reduction
	if r == nil {
		return fmt.Errorf("%w: no reduction in flight", domain.ErrMismatch)
	}
	if r.StartTick != supplyTick {
		return fmt.Errorf("%w: reduction started at tick %d, supply is at %d", domain.ErrExpired, r.StartTick, supplyTick)
	}
	if len(groups) == 0 {
		return fmt.Errorf("%w: no groups to fold", domain.ErrIndex)
	}
	next := *r
	for _, g := range groups {
		if g.ID != next.GroupIter {
			return fmt.Errorf("%w: got group %d, want group %d", domain.ErrIndex, g.ID, next.GroupIter)
		}
		if next.GroupIter >= old.NGroups {
			return fmt.Errorf("%w: group %d beyond %d groups", domain.ErrIndex, g.ID, old.NGroups)
		}
		next.Mode = next.Mode.fold(g.Group)
		next.GroupIter++
	}
	return equal(Portfolio{NGroups: old.NGroups, Reduction: &next}, updated)
}

// ValidateReset checks that the portfolio returned to Idle.
func ValidateReset(old, updated Portfolio) error {
	return equal(Portfolio{NGroups: old.NGroups}, updated)
}

// ValidateAddGroup checks that an idle portfolio grew by one group and returns the new group id.
func ValidateAddGroup(old, updated Portfolio) (int64, error) {
	if !old.IsIdle() {
		return 0, fmt.Errorf("%w: cannot add a group during a reduction", domain.ErrMismatch)
	}
	if err := equal(Portfolio{NGroups: old.NGroups + 1}, updated); err != nil {
		return 0, err
	}
	return old.NGroups, nil
}

// ValidatePricePublish checks that feed is the result of a finished total value
// reduction pinned to the current supply tick.
func ValidatePricePublish(p Portfolio, s supply.Supply, feed price.Feed) error {
	if !p.IsTerminal() {
		return fmt.Errorf("%w: reduction has not visited every group", domain.ErrIndex)
	}
	acc := p.Reduction.Mode.TotalAssetValue
	if acc == nil {
		return fmt.Errorf("%w: reduction does not compute total value", domain.ErrMismatch)
	}
	if p.Reduction.StartTick != s.Tick {
		return fmt.Errorf("%w: reduction started at tick %d, supply is at %d", domain.ErrExpired, p.Reduction.StartTick, s.Tick)
	}
	if !feed.Timestamp.Equal(acc.OldestTimestamp) {
		return fmt.Errorf("%w: price timestamp must equal oldest asset price timestamp", domain.ErrMismatch)
	}
	want, err := acc.Total.Div(domain.RatioFromInt(s.NTokens))
	if err != nil {
		return fmt.Errorf("computing price: %w", err)
	}
	if !feed.Value.Equal(want) {
		return fmt.Errorf("%w: published price %s, want %s", domain.ErrMismatch, feed.Value, want.Reduce())
	}
	return nil
}

// ProvesAbsent checks that p holds a finished search which did not find a.
func ProvesAbsent(p Portfolio, a domain.AssetClass) error {
	if !p.IsTerminal() || p.Reduction.Mode.AssetExists == nil {
		return fmt.Errorf("%w: no finished asset search", domain.ErrIndex)
	}
	acc := p.Reduction.Mode.AssetExists
	if acc.AssetClass != a {
		return fmt.Errorf("%w: search was for %s, not %s", domain.ErrMismatch, acc.AssetClass, a)
	}
	if acc.Found {
		return fmt.Errorf("%w: %s is already managed", domain.ErrMismatch, a)
	}
	return nil
}
