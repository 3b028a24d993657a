package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/txjson"
)

// CachedStore wraps a primary Store with a Redis read-through cache of
// token lookups. Writes go to the primary store and invalidate the keys of
// every token the changeset moves; reads check Redis first then fall back
// to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) FindByToken(ctx context.Context, a domain.AssetClass) (ledger.Output, error) {
	data, err := s.rdb.Get(ctx, tokenKey(a.Canonical())).Bytes()
	if err == nil {
		var w txjson.Output
		if json.Unmarshal(data, &w) == nil && w.Ref != nil {
			if o, err := txjson.DecodeOutput(w, *w.Ref); err == nil {
				return o, nil
			}
		}
	}

	o, err := s.primary.FindByToken(ctx, a)
	if err != nil {
		return ledger.Output{}, err
	}

	s.cacheCell(ctx, a, o)
	return o, nil
}

func (s *CachedStore) Apply(ctx context.Context, c Changeset) error {
	if err := s.primary.Apply(ctx, c); err != nil {
		return err
	}

	var keys []string
	for _, o := range slices.Concat(c.Spent, c.Created) {
		for _, name := range tokenKeys(o) {
			keys = append(keys, tokenKey(name))
		}
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			slog.Warn("failed to invalidate cell cache", "tx", c.Transition.TxID, "error", err)
		}
	}
	return nil
}

// Outputs is not cached: validation must see the primary's live set.
func (s *CachedStore) Outputs(ctx context.Context, refs []ledger.OutputRef) ([]ledger.Output, error) {
	return s.primary.Outputs(ctx, refs)
}

func (s *CachedStore) Record(ctx context.Context, t Transition) error {
	return s.primary.Record(ctx, t)
}

func (s *CachedStore) Transitions(ctx context.Context, limit int) ([]Transition, error) {
	return s.primary.Transitions(ctx, limit)
}

func (s *CachedStore) cacheCell(ctx context.Context, a domain.AssetClass, o ledger.Output) {
	w, err := txjson.EncodeOutput(o)
	if err != nil {
		return
	}
	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, tokenKey(a.Canonical()), data, s.ttl)
	}
}

func tokenKey(canonical string) string { return fmt.Sprintf("fundcore:cell:%s", canonical) }
