package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/txjson"
)

// PgStore implements Store with PostgreSQL. Spent cells are deleted, so
// the cells table is always the live set; a delete that finds no row means
// a concurrent transition spent the cell first.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const cellColumns = `tx_id, idx, address, value, datum`

func (s *PgStore) Outputs(ctx context.Context, refs []ledger.OutputRef) ([]ledger.Output, error) {
	out := make([]ledger.Output, 0, len(refs))
	for _, ref := range refs {
		row := s.pool.QueryRow(ctx,
			`SELECT `+cellColumns+` FROM cells WHERE tx_id = $1 AND idx = $2`, ref.TxID, ref.Index)
		o, err := scanCell(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
			}
			return nil, fmt.Errorf("getting cell %s: %w", ref, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *PgStore) FindByToken(ctx context.Context, a domain.AssetClass) (ledger.Output, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cellColumns+` FROM cells
		 WHERE tokens @> ARRAY[$1]::text[]
		 ORDER BY seq
		 LIMIT 1`, a.Canonical())
	o, err := scanCell(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Output{}, fmt.Errorf("%w: holding %s", ErrNotFound, a)
		}
		return ledger.Output{}, fmt.Errorf("finding cell holding %s: %w", a, err)
	}
	return o, nil
}

func (s *PgStore) Apply(ctx context.Context, c Changeset) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, o := range c.Spent {
			tag, err := tx.Exec(ctx, `DELETE FROM cells WHERE tx_id = $1 AND idx = $2`, o.Ref.TxID, o.Ref.Index)
			if err != nil {
				return fmt.Errorf("spending cell %s: %w", o.Ref, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s", ErrStale, o.Ref)
			}
		}
		for _, o := range c.Created {
			w, err := txjson.EncodeOutput(o)
			if err != nil {
				return fmt.Errorf("encoding cell %s: %w", o.Ref, err)
			}
			address, err := json.Marshal(w.Address)
			if err != nil {
				return fmt.Errorf("encoding address of %s: %w", o.Ref, err)
			}
			value, err := json.Marshal(w.Value)
			if err != nil {
				return fmt.Errorf("encoding value of %s: %w", o.Ref, err)
			}
			var datum []byte
			if w.Datum != nil {
				if datum, err = json.Marshal(w.Datum); err != nil {
					return fmt.Errorf("encoding datum of %s: %w", o.Ref, err)
				}
			}
			tag, err := tx.Exec(ctx,
				`INSERT INTO cells (tx_id, idx, address, value, datum, tokens)
				 VALUES ($1, $2, $3::jsonb, $4::jsonb, $5::jsonb, $6)
				 ON CONFLICT (tx_id, idx) DO NOTHING`,
				o.Ref.TxID, o.Ref.Index, address, value, datum, tokenKeys(o))
			if err != nil {
				return fmt.Errorf("creating cell %s: %w", o.Ref, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s exists", ErrStale, o.Ref)
			}
		}
		return insertTransition(ctx, tx, c.Transition)
	})
}

func (s *PgStore) Record(ctx context.Context, t Transition) error {
	return insertTransition(ctx, s.pool, t)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertTransition(ctx context.Context, db execer, t Transition) error {
	_, err := db.Exec(ctx,
		`INSERT INTO transitions (id, tx_id, kind, accepted, reason, report, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		t.ID, t.TxID, t.Kind, t.Accepted, t.Reason, t.Report, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording transition %s: %w", t.TxID, err)
	}
	return nil
}

func (s *PgStore) Transitions(ctx context.Context, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tx_id, kind, accepted, reason, report, created_at
		 FROM transitions
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.TxID, &t.Kind, &t.Accepted, &t.Reason, &t.Report, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return transitions, nil
}

func scanCell(row pgx.Row) (ledger.Output, error) {
	var (
		ref            ledger.OutputRef
		address, value []byte
		datum          []byte
	)
	if err := row.Scan(&ref.TxID, &ref.Index, &address, &value, &datum); err != nil {
		return ledger.Output{}, err
	}
	var w txjson.Output
	if err := json.Unmarshal(address, &w.Address); err != nil {
		return ledger.Output{}, fmt.Errorf("decoding address of %s: %w", ref, err)
	}
	if err := json.Unmarshal(value, &w.Value); err != nil {
		return ledger.Output{}, fmt.Errorf("decoding value of %s: %w", ref, err)
	}
	if datum != nil {
		w.Datum = &txjson.Envelope{}
		if err := json.Unmarshal(datum, w.Datum); err != nil {
			return ledger.Output{}, fmt.Errorf("decoding datum of %s: %w", ref, err)
		}
	}
	return txjson.DecodeOutput(w, ref)
}
