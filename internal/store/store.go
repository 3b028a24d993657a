// Package store persists the live protocol cells and the transition history.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache) and in-memory (tests and development).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
)

var (
	// ErrNotFound indicates that no live cell matches the request.
	ErrNotFound = errors.New("store: cell not found")
	// ErrStale indicates that a cell the changeset spends is already gone,
	// or that a cell it creates already exists.
	ErrStale = errors.New("store: cell already spent")
)

// Transition is one history record.
type Transition struct {
	ID        uuid.UUID       `json:"id"`
	TxID      string          `json:"txId"`
	Kind      string          `json:"kind"`
	Accepted  bool            `json:"accepted"`
	Reason    string          `json:"reason,omitempty"`
	Report    json.RawMessage `json:"report,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Changeset is the effect of one accepted transition.
type Changeset struct {
	Spent      []ledger.Output
	Created    []ledger.Output
	Transition Transition
}

// Store is the persistence interface.
type Store interface {
	// Outputs resolves refs to live cells, in order.
	Outputs(ctx context.Context, refs []ledger.OutputRef) ([]ledger.Output, error)

	// FindByToken returns the live cell holding a.
	FindByToken(ctx context.Context, a domain.AssetClass) (ledger.Output, error)

	// Apply atomically removes the spent cells, adds the created ones and
	// appends the history record. It fails with ErrStale when another
	// transition got there first.
	Apply(ctx context.Context, c Changeset) error

	// Record appends a history record without touching cells.
	Record(ctx context.Context, t Transition) error

	// Transitions returns the newest history records first.
	Transitions(ctx context.Context, limit int) ([]Transition, error)
}

// tokenKeys lists the canonical names of the non-lovelace assets o holds.
func tokenKeys(o ledger.Output) []string {
	return lo.FilterMap(o.Value.Assets(), func(a domain.AssetClass, _ int) (string, bool) {
		return a.Canonical(), o.Value.Get(a) > 0
	})
}
