// Package assets stores managed asset records sharded across asset group cells
// and resolves index pointers into them.
package assets

import (
	"fmt"
	"strings"
	"time"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/tokens"
)

// MaxGroupSize bounds the number of records stored in one group cell.
const MaxGroupSize = 10

// Record is the state of one managed asset.
type Record struct {
	AssetClass     domain.AssetClass `json:"assetClass"`
	Count          int64             `json:"count"`
	CountTick      int64             `json:"countTick"`
	Price          domain.Ratio      `json:"price"`
	PriceTimestamp time.Time         `json:"priceTimestamp"`
}

// NewRecord returns the record of a freshly added asset class.
func NewRecord(a domain.AssetClass) Record {
	return Record{AssetClass: a, Price: domain.One()}
}

// Value returns count * price in lovelace.
func (r Record) Value() domain.Ratio {
	return r.Price.MulInt(r.Count)
}

// Group is the datum of an asset group cell.
type Group []Record

// Find returns the index of class a in the group.
func (g Group) Find(a domain.AssetClass) (int, bool) {
	for i, r := range g {
		if r.AssetClass == a {
			return i, true
		}
	}
	return -1, false
}

// Ptr addresses one record: a cell index in the pointer source and a record index inside it.
type Ptr struct {
	GroupIndex      int `json:"groupIndex"`
	AssetClassIndex int `json:"assetClassIndex"`
}

// Source is the list of cells pointers index into. Only cells carrying a
// protocol assets token and a Group datum count as groups.
type Source struct {
	Outputs []ledger.Output
	Policy  string
	Prefix  string
}

// NewSource binds outputs to the deployment's token naming.
func NewSource(outputs []ledger.Output, p protocol.Params) Source {
	return Source{Outputs: outputs, Policy: p.Policy, Prefix: p.Prefix}
}

// GroupAt returns the group id and records stored at cell i.
func (s Source) GroupAt(i int) (int64, Group, error) {
	if i < 0 || i >= len(s.Outputs) {
		return 0, nil, fmt.Errorf("%w: group index %d out of range [0, %d)", domain.ErrIndex, i, len(s.Outputs))
	}
	return GroupID(s.Outputs[i], s.Policy, s.Prefix)
}

// GroupID identifies an asset group cell by its token and returns its records.
func GroupID(o ledger.Output, policy, prefix string) (int64, Group, error) {
	g, ok := o.Datum.(Group)
	if !ok {
		return 0, nil, fmt.Errorf("%w: cell %s is not an asset group", domain.ErrIndex, o.Ref)
	}
	head := tokens.Name(prefix, tokens.KindAssets) + " "
	for a, q := range o.Value {
		if a.Policy != policy || q != 1 || !strings.HasPrefix(a.Name, head) {
			continue
		}
		id, err := tokens.ParseSeries(prefix, tokens.KindAssets, a.Name)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: cell %s: %w", domain.ErrIndex, o.Ref, err)
		}
		return id, g, nil
	}
	return 0, nil, fmt.Errorf("%w: cell %s holds no assets token", domain.ErrIndex, o.Ref)
}

// Resolve returns the record ptr points at, failing when it is absent or holds
// a class other than expected. There is no fallback scan.
func Resolve(source Source, ptr Ptr, expected domain.AssetClass) (Record, error) {
	_, g, err := source.GroupAt(ptr.GroupIndex)
	if err != nil {
		return Record{}, err
	}
	if ptr.AssetClassIndex < 0 || ptr.AssetClassIndex >= len(g) {
		return Record{}, fmt.Errorf("%w: asset index %d out of range [0, %d)", domain.ErrIndex, ptr.AssetClassIndex, len(g))
	}
	rec := g[ptr.AssetClassIndex]
	if rec.AssetClass != expected {
		return Record{}, fmt.Errorf("%w: pointer resolves to %s, expected %s", domain.ErrMismatch, rec.AssetClass, expected)
	}
	return rec, nil
}

// ValueLovelace converts v into lovelace. Every non-lovelace class, in sorted
// order, is priced through the pointer at the same position and rounded down.
func ValueLovelace(v domain.Value, ptrs []Ptr, source Source) (int64, error) {
	assets := v.Assets()
	if len(ptrs) > len(assets) {
		return 0, fmt.Errorf("%w: %d pointers for %d assets", domain.ErrMismatch, len(ptrs), len(assets))
	}
	total := v.Lovelace()
	for i, a := range assets {
		if i >= len(ptrs) {
			return 0, fmt.Errorf("%w: not enough value returned, no price for %s", domain.ErrInsufficientValue, a)
		}
		rec, err := Resolve(source, ptrs[i], a)
		if err != nil {
			return 0, err
		}
		worth, err := rec.Price.MulInt(v.Get(a)).FloorInt64()
		if err != nil {
			return 0, err
		}
		if total, err = domain.AddInt64(total, worth); err != nil {
			return 0, err
		}
	}
	return total, nil
}
