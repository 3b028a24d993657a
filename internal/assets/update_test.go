package assets

import (
	"errors"
	"testing"
	"time"

	"github.com/mtlprog/fundcore/internal/domain"
)

func baseGroup() Group {
	return Group{
		{AssetClass: btc, Count: 2, CountTick: 4, Price: domain.MustRatio(7, 2), PriceTimestamp: t0},
		{AssetClass: eth, Count: 10, CountTick: 1, Price: domain.MustRatio(1, 3), PriceTimestamp: t0},
	}
}

func TestValidateCountUpdate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(g Group)
		wantErr error
	}{
		{"no change", func(g Group) {}, nil},
		{"count with tick", func(g Group) { g[0].Count = 3; g[0].CountTick = 5 }, nil},
		{"count without tick", func(g Group) { g[0].Count = 3 }, domain.ErrMismatch},
		{"tick without count", func(g Group) { g[1].CountTick = 2 }, domain.ErrMismatch},
		{"tick jumps by two", func(g Group) { g[0].Count = 1; g[0].CountTick = 6 }, domain.ErrMismatch},
		{"price touched", func(g Group) { g[0].Price = domain.MustRatio(1, 1) }, domain.ErrMismatch},
		{"negative count", func(g Group) { g[0].Count = -1; g[0].CountTick = 5 }, domain.ErrArithmetic},
		{"class swapped", func(g Group) { g[0].AssetClass = usd }, domain.ErrMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated := baseGroup()
			tt.mutate(updated)
			err := ValidateCountUpdate(baseGroup(), updated)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateCountUpdate() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCountUpdate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePriceUpdate(t *testing.T) {
	validFrom := t0.Add(time.Hour)
	tests := []struct {
		name    string
		mutate  func(g Group)
		wantErr error
	}{
		{"new price", func(g Group) { g[0].Price = domain.MustRatio(4, 1); g[0].PriceTimestamp = validFrom }, nil},
		{"zero price", func(g Group) { g[0].Price = domain.RatioFromInt(0) }, domain.ErrArithmetic},
		{"future timestamp", func(g Group) { g[0].PriceTimestamp = validFrom.Add(time.Second) }, domain.ErrMismatch},
		{"older timestamp", func(g Group) { g[1].PriceTimestamp = t0.Add(-time.Second) }, domain.ErrMismatch},
		{"count touched", func(g Group) { g[1].Count = 11 }, domain.ErrMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated := baseGroup()
			tt.mutate(updated)
			err := ValidatePriceUpdate(baseGroup(), updated, validFrom)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidatePriceUpdate() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePriceUpdate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAddAsset(t *testing.T) {
	got, err := ValidateAddAsset(baseGroup(), append(baseGroup(), NewRecord(usd)))
	if err != nil {
		t.Fatalf("ValidateAddAsset() error = %v", err)
	}
	if got != usd {
		t.Errorf("ValidateAddAsset() = %s, want %s", got, usd)
	}

	stale := NewRecord(usd)
	stale.Count = 1
	if _, err := ValidateAddAsset(baseGroup(), append(baseGroup(), stale)); !errors.Is(err, domain.ErrMismatch) {
		t.Errorf("ValidateAddAsset(non-fresh) error = %v, want ErrMismatch", err)
	}

	if _, err := ValidateAddAsset(baseGroup(), baseGroup()); !errors.Is(err, domain.ErrMismatch) {
		t.Errorf("ValidateAddAsset(no growth) error = %v, want ErrMismatch", err)
	}

	full := make(Group, MaxGroupSize)
	for i := range full {
		full[i] = NewRecord(domain.NewAssetClass("dd", string(rune('a'+i))))
	}
	if _, err := ValidateAddAsset(full, append(full, NewRecord(usd))); !errors.Is(err, domain.ErrIndex) {
		t.Errorf("ValidateAddAsset(full) error = %v, want ErrIndex", err)
	}
}
