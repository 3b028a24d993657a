package assets

import (
	"fmt"
	"time"

	"github.com/mtlprog/fundcore/internal/domain"
)

// Redeemers accepted by an asset group cell.
type (
	// UpdateCounts records custody changes signed by the agent.
	UpdateCounts struct{}
	// UpdatePrices publishes oracle prices.
	UpdatePrices struct{}
	// AddAsset appends a fresh record for a class proven absent from every group.
	AddAsset struct{}
)

// ValidateCountUpdate checks that only counts changed and that the tick of
// every changed count advanced by exactly one.
func ValidateCountUpdate(old, updated Group) error {
	if err := sameShape(old, updated); err != nil {
		return err
	}
	for i := range old {
		o, n := old[i], updated[i]
		if !o.Price.Equal(n.Price) || !o.PriceTimestamp.Equal(n.PriceTimestamp) {
			return fmt.Errorf("%w: price of %s changed during count update", domain.ErrMismatch, o.AssetClass)
		}
		if n.Count < 0 {
			return fmt.Errorf("%w: negative count for %s", domain.ErrArithmetic, o.AssetClass)
		}
		wantTick := o.CountTick
		if n.Count != o.Count {
			wantTick++
		}
		if n.CountTick != wantTick {
			return fmt.Errorf("%w: count tick of %s is %d, want %d", domain.ErrMismatch, o.AssetClass, n.CountTick, wantTick)
		}
	}
	return nil
}

// ValidatePriceUpdate checks that only prices changed, that every price is
// positive and that timestamps move forward without passing validFrom.
func ValidatePriceUpdate(old, updated Group, validFrom time.Time) error {
	if err := sameShape(old, updated); err != nil {
		return err
	}
	for i := range old {
		o, n := old[i], updated[i]
		if o.Count != n.Count || o.CountTick != n.CountTick {
			return fmt.Errorf("%w: count of %s changed during price update", domain.ErrMismatch, o.AssetClass)
		}
		if n.Price.Sign() <= 0 {
			return fmt.Errorf("%w: price of %s is not positive", domain.ErrArithmetic, o.AssetClass)
		}
		if n.PriceTimestamp.Before(o.PriceTimestamp) {
			return fmt.Errorf("%w: price timestamp of %s moved backwards", domain.ErrMismatch, o.AssetClass)
		}
		if n.PriceTimestamp.After(validFrom) {
			return fmt.Errorf("%w: price timestamp of %s is in the future", domain.ErrMismatch, o.AssetClass)
		}
	}
	return nil
}

// ValidateAddAsset checks that updated is old plus one fresh record and returns its class.
func ValidateAddAsset(old, updated Group) (domain.AssetClass, error) {
	if len(updated) != len(old)+1 {
		return domain.AssetClass{}, fmt.Errorf("%w: group grew from %d to %d records", domain.ErrMismatch, len(old), len(updated))
	}
	if len(updated) > MaxGroupSize {
		return domain.AssetClass{}, fmt.Errorf("%w: group exceeds %d records", domain.ErrIndex, MaxGroupSize)
	}
	for i := range old {
		if !sameRecord(old[i], updated[i]) {
			return domain.AssetClass{}, fmt.Errorf("%w: existing record %d changed", domain.ErrMismatch, i)
		}
	}
	added := updated[len(old)]
	if added.AssetClass.IsLovelace() {
		return domain.AssetClass{}, fmt.Errorf("%w: lovelace cannot be managed as an asset", domain.ErrMismatch)
	}
	if !sameRecord(added, NewRecord(added.AssetClass)) {
		return domain.AssetClass{}, fmt.Errorf("%w: added record for %s is not fresh", domain.ErrMismatch, added.AssetClass)
	}
	return added.AssetClass, nil
}

func sameShape(old, updated Group) error {
	if len(old) != len(updated) {
		return fmt.Errorf("%w: group size changed from %d to %d", domain.ErrMismatch, len(old), len(updated))
	}
	for i := range old {
		if old[i].AssetClass != updated[i].AssetClass {
			return fmt.Errorf("%w: record %d changed class", domain.ErrMismatch, i)
		}
	}
	return nil
}

func sameRecord(a, b Record) bool {
	return a.AssetClass == b.AssetClass &&
		a.Count == b.Count &&
		a.CountTick == b.CountTick &&
		a.Price.Equal(b.Price) &&
		a.PriceTimestamp.Equal(b.PriceTimestamp)
}
