// Package settlement accepts proposed transitions: it resolves the cells they
// spend from the store, runs the validation engine and commits the accepted
// ones atomically.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/engine"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/metrics"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/store"
	"github.com/mtlprog/fundcore/internal/supply"
	"github.com/mtlprog/fundcore/internal/txjson"
)

// ErrMalformed indicates a submission that cannot be interpreted at all.
var ErrMalformed = errors.New("malformed transition")

// Result is the outcome of an accepted submission.
type Result struct {
	Transition store.Transition `json:"transition"`
	Report     engine.Report    `json:"report"`
}

// Service validates and commits transitions for one deployment stage.
type Service struct {
	params protocol.Params
	store  store.Store
	now    func() time.Time
}

// NewService creates a new settlement Service.
func NewService(p protocol.Params, st store.Store) *Service {
	if st == nil {
		panic("settlement.NewService: store must not be nil")
	}
	return &Service{params: p, store: st, now: time.Now}
}

// Params returns the protocol parameters the service validates against.
func (s *Service) Params() protocol.Params { return s.params }

// Submit validates w against the live cells and commits it when accepted.
// Rejections are recorded in the history and returned as errors wrapping the
// domain sentinel that caused them.
func (s *Service) Submit(ctx context.Context, w txjson.Tx) (Result, error) {
	start := s.now()
	kind := wireKind(w)

	report, tx, err := s.validate(ctx, w)
	metrics.ValidationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, s.reject(ctx, w, kind, err)
	}
	kind = report.Kind()

	raw, err := json.Marshal(report)
	if err != nil {
		return Result{}, fmt.Errorf("encoding report: %w", err)
	}
	t := store.Transition{
		ID:        uuid.New(),
		TxID:      w.ID,
		Kind:      kind,
		Accepted:  true,
		Report:    raw,
		CreatedAt: s.now(),
	}
	err = s.store.Apply(ctx, store.Changeset{Spent: tx.Inputs, Created: tx.Outputs, Transition: t})
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			return Result{}, s.reject(ctx, w, kind, err)
		}
		return Result{}, fmt.Errorf("committing %s: %w", w.ID, err)
	}

	metrics.TransitionsTotal.WithLabelValues(kind, "accepted").Inc()
	if o, _, ok := ledger.FindToken(tx.Outputs, s.params.SupplyToken()); ok {
		if sup, ok := o.Datum.(supply.Supply); ok {
			metrics.ObserveSupply(sup, s.params.ManagementFee, s.now())
		}
	}
	if report.Price != nil {
		metrics.ObserveFeed(*report.Price)
	}
	slog.Info("transition accepted", "tx", w.ID, "kind", kind, "inputs", len(tx.Inputs), "outputs", len(tx.Outputs))
	return Result{Transition: t, Report: report}, nil
}

// Validate runs a submission against the live cells without committing it.
func (s *Service) Validate(ctx context.Context, w txjson.Tx) (engine.Report, error) {
	report, _, err := s.validate(ctx, w)
	return report, err
}

func (s *Service) validate(ctx context.Context, w txjson.Tx) (engine.Report, *ledger.Tx, error) {
	if w.ID == "" {
		return engine.Report{}, nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if dups := lo.FindDuplicates(w.Inputs); len(dups) > 0 {
		return engine.Report{}, nil, fmt.Errorf("%w: input %s spent twice", ErrMalformed, dups[0])
	}
	now := s.now()
	if !w.ValidFrom.IsZero() && now.Before(w.ValidFrom) {
		return engine.Report{}, nil, fmt.Errorf("%w: valid from %s", domain.ErrExpired, w.ValidFrom.Format(time.RFC3339))
	}
	if !w.ValidTo.IsZero() && now.After(w.ValidTo) {
		return engine.Report{}, nil, fmt.Errorf("%w: valid until %s", domain.ErrExpired, w.ValidTo.Format(time.RFC3339))
	}
	inputs, err := s.store.Outputs(ctx, w.Inputs)
	if err != nil {
		return engine.Report{}, nil, fmt.Errorf("resolving inputs: %w", err)
	}
	refInputs, err := s.store.Outputs(ctx, w.RefInputs)
	if err != nil {
		return engine.Report{}, nil, fmt.Errorf("resolving reference inputs: %w", err)
	}
	tx, err := w.Ledger(inputs, refInputs)
	if err != nil {
		return engine.Report{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := s.preservesValue(tx); err != nil {
		return engine.Report{}, nil, err
	}

	report, err := engine.Validate(s.params, tx)
	if err != nil {
		return engine.Report{}, nil, err
	}
	if err := authorizeInputs(tx, report); err != nil {
		return engine.Report{}, nil, err
	}
	return report, tx, nil
}

// preservesValue checks that every output holds strictly positive
// quantities, that outputs hold exactly the inputs plus the mint, and that
// nothing outside the protocol policy is minted.
func (s *Service) preservesValue(tx *ledger.Tx) error {
	if !tx.Mint.WithoutPolicy(s.params.Policy).IsZero() {
		return fmt.Errorf("%w: only protocol tokens can be minted", domain.ErrMismatch)
	}
	for _, o := range tx.Outputs {
		if !o.Value.IsPositive() {
			return fmt.Errorf("%w: output %s holds a zero or negative quantity", domain.ErrMismatch, o.Ref)
		}
	}
	values := func(outputs []ledger.Output) []domain.Value {
		return lo.Map(outputs, func(o ledger.Output, _ int) domain.Value { return o.Value })
	}
	in, err := domain.SumValues(append(values(tx.Inputs), tx.Mint)...)
	if err != nil {
		return fmt.Errorf("summing inputs: %w", err)
	}
	out, err := domain.SumValues(values(tx.Outputs)...)
	if err != nil {
		return fmt.Errorf("summing outputs: %w", err)
	}
	if !in.Equal(out) {
		return fmt.Errorf("%w: outputs do not balance inputs plus mint", domain.ErrMismatch)
	}
	return nil
}

// authorizeInputs requires a signature for every key-locked input and a
// recognised protocol cell for every script-locked one.
func authorizeInputs(tx *ledger.Tx, report engine.Report) error {
	claimed := lo.SliceToMap(report.Actions, func(a engine.Action) (ledger.OutputRef, bool) {
		return a.Input, true
	})
	for _, in := range tx.Inputs {
		cred := in.Address.Payment
		if cred.Script {
			if !claimed[in.Ref] {
				return fmt.Errorf("%w: script cell %s is not a protocol cell", domain.ErrAuthorization, in.Ref)
			}
			continue
		}
		if !tx.IsSignedBy(cred.Hash) {
			return fmt.Errorf("%w: input %s needs the signature of %s", domain.ErrAuthorization, in.Ref, cred.Hash)
		}
	}
	return nil
}

func (s *Service) reject(ctx context.Context, w txjson.Tx, kind string, cause error) error {
	metrics.TransitionsTotal.WithLabelValues(kind, "rejected").Inc()
	slog.Warn("transition rejected", "tx", w.ID, "kind", kind, "reason", cause)

	t := store.Transition{
		ID:        uuid.New(),
		TxID:      w.ID,
		Kind:      kind,
		Reason:    cause.Error(),
		CreatedAt: s.now(),
	}
	if err := s.store.Record(ctx, t); err != nil {
		slog.Error("failed to record rejected transition", "tx", w.ID, "error", err)
	}
	return cause
}

// wireKind names a submission before validation, from its first redeemer.
func wireKind(w txjson.Tx) string {
	if len(w.Redeemers) == 0 {
		return "transfer"
	}
	r, err := txjson.DecodeRedeemer(w.Redeemers[0].Redeemer)
	if err != nil {
		return "unknown"
	}
	return txjson.RedeemerName(r)
}

// Transitions returns the newest history records first.
func (s *Service) Transitions(ctx context.Context, limit int) ([]store.Transition, error) {
	return s.store.Transitions(ctx, limit)
}
