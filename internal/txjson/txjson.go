// Package txjson is the JSON wire format of transitions, cells, datums and
// redeemers. Datums and redeemers travel as {"type": ..., "value": ...}
// envelopes so the typed values the validators switch on survive a round trip.
package txjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/order"
	"github.com/mtlprog/fundcore/internal/portfolio"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/supply"
	"github.com/mtlprog/fundcore/internal/voucher"
)

// ErrUnknownType indicates an envelope type that is not registered.
var ErrUnknownType = errors.New("unknown envelope type")

// Envelope is a tagged datum or redeemer.
type Envelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

type registry struct {
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

func newRegistry(entries map[string]any) registry {
	r := registry{byName: map[string]reflect.Type{}, byType: map[reflect.Type]string{}}
	for name, v := range entries {
		t := reflect.TypeOf(v)
		r.byName[name] = t
		r.byType[t] = name
	}
	return r
}

func (r registry) name(v any) (string, bool) {
	name, ok := r.byType[reflect.TypeOf(v)]
	return name, ok
}

func (r registry) encode(v any) (Envelope, error) {
	name, ok := r.name(v)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownType, v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s: %w", name, err)
	}
	return Envelope{Type: name, Value: raw}, nil
}

func (r registry) decode(e Envelope) (any, error) {
	t, ok := r.byName[e.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	ptr := reflect.New(t)
	if len(e.Value) > 0 {
		if err := json.Unmarshal(e.Value, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", e.Type, err)
		}
	}
	return ptr.Elem().Interface(), nil
}

var datums = newRegistry(map[string]any{
	"supply":        supply.Supply{},
	"portfolio":     portfolio.Portfolio{},
	"price":         price.Feed{},
	"assets":        assets.Group{},
	"reimbursement": voucher.Reimbursement{},
	"voucher":       voucher.Voucher{},
	"mint_order":    order.MintOrder{},
	"burn_order":    order.BurnOrder{},
	"raw":           ledger.RawDatum(""),
})

var redeemers = newRegistry(map[string]any{
	"fill":                   supply.Fill{},
	"collect_management_fee": supply.CollectManagementFee{},
	"close_period":           supply.ClosePeriod{},
	"start_reduction":        portfolio.Start{},
	"continue_reduction":     portfolio.Continue{},
	"reset_reduction":        portfolio.Reset{},
	"add_group":              portfolio.AddGroup{},
	"publish_price":          price.Publish{},
	"update_counts":          assets.UpdateCounts{},
	"update_prices":          assets.UpdatePrices{},
	"add_asset":              assets.AddAsset{},
	"close_reimbursement":    voucher.Close{},
	"reimburse":              voucher.Reimburse{},
	"burn_voucher":           voucher.Burn{},
	"cancel":                 order.Cancel{},
	"fulfill":                order.Fulfill{},
	"benchmark":              domain.Ratio{},
})

// EncodeDatum wraps a datum. A nil datum encodes as nil.
func EncodeDatum(d any) (*Envelope, error) {
	if d == nil {
		return nil, nil
	}
	e, err := datums.encode(d)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodeDatum unwraps a datum. A nil envelope decodes as no datum.
func DecodeDatum(e *Envelope) (any, error) {
	if e == nil {
		return nil, nil
	}
	return datums.decode(*e)
}

// DatumName returns the wire name of a datum type.
func DatumName(d any) string {
	if name, ok := datums.name(d); ok {
		return name
	}
	return fmt.Sprintf("%T", d)
}

// EncodeRedeemer wraps a redeemer.
func EncodeRedeemer(r any) (Envelope, error) { return redeemers.encode(r) }

// DecodeRedeemer unwraps a redeemer.
func DecodeRedeemer(e Envelope) (any, error) { return redeemers.decode(e) }

// RedeemerName returns the wire name of a redeemer type.
func RedeemerName(r any) string {
	if name, ok := redeemers.name(r); ok {
		return name
	}
	return fmt.Sprintf("%T", r)
}

// Output is a cell on the wire.
type Output struct {
	Ref     *ledger.OutputRef `json:"ref,omitempty"`
	Address ledger.Address    `json:"address"`
	Value   domain.Value      `json:"value"`
	Datum   *Envelope         `json:"datum,omitempty"`
}

// EncodeOutput converts a cell to its wire form.
func EncodeOutput(o ledger.Output) (Output, error) {
	d, err := EncodeDatum(o.Datum)
	if err != nil {
		return Output{}, err
	}
	ref := o.Ref
	return Output{Ref: &ref, Address: o.Address, Value: o.Value, Datum: d}, nil
}

// DecodeOutput converts a wire cell back. ref is used when the wire form carries none.
func DecodeOutput(w Output, ref ledger.OutputRef) (ledger.Output, error) {
	d, err := DecodeDatum(w.Datum)
	if err != nil {
		return ledger.Output{}, err
	}
	if w.Ref != nil {
		ref = *w.Ref
	}
	return ledger.Output{Ref: ref, Address: w.Address, Value: w.Value, Datum: d}, nil
}

// Redeemer attaches a redeemer to a spent input.
type Redeemer struct {
	Input    ledger.OutputRef `json:"input"`
	Redeemer Envelope         `json:"redeemer"`
}

// Withdrawal is a staking observation on the wire.
type Withdrawal struct {
	Credential ledger.Credential `json:"credential"`
	Redeemer   Envelope          `json:"redeemer"`
}

// Tx is a proposed transition as submitted by clients. Inputs and reference
// inputs name existing cells; outputs are created with refs id#index.
type Tx struct {
	ID          string             `json:"id"`
	Inputs      []ledger.OutputRef `json:"inputs"`
	RefInputs   []ledger.OutputRef `json:"refInputs,omitempty"`
	Outputs     []Output           `json:"outputs"`
	Signatories []string           `json:"signatories,omitempty"`
	ValidFrom   time.Time          `json:"validFrom,omitzero"`
	ValidTo     time.Time          `json:"validTo,omitzero"`
	Mint        domain.Value       `json:"mint,omitempty"`
	Redeemers   []Redeemer         `json:"redeemers,omitempty"`
	Withdrawals []Withdrawal       `json:"withdrawals,omitempty"`
}

// Ledger builds the validator view of t from the resolved inputs.
func (t Tx) Ledger(inputs, refInputs []ledger.Output) (*ledger.Tx, error) {
	tx := &ledger.Tx{
		ID:          t.ID,
		Inputs:      inputs,
		RefInputs:   refInputs,
		Signatories: t.Signatories,
		ValidFrom:   t.ValidFrom,
		ValidTo:     t.ValidTo,
		Mint:        t.Mint,
		Redeemers:   make(map[ledger.OutputRef]any, len(t.Redeemers)),
	}
	if tx.Mint == nil {
		tx.Mint = domain.Value{}
	}
	for i, w := range t.Outputs {
		o, err := DecodeOutput(w, ledger.OutputRef{TxID: t.ID, Index: i})
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		o.Ref = ledger.OutputRef{TxID: t.ID, Index: i}
		tx.Outputs = append(tx.Outputs, o)
	}
	for _, r := range t.Redeemers {
		v, err := DecodeRedeemer(r.Redeemer)
		if err != nil {
			return nil, fmt.Errorf("redeemer for %s: %w", r.Input, err)
		}
		tx.Redeemers[r.Input] = v
	}
	for _, w := range t.Withdrawals {
		v, err := DecodeRedeemer(w.Redeemer)
		if err != nil {
			return nil, fmt.Errorf("withdrawal %s: %w", w.Credential.Hash, err)
		}
		tx.Withdrawals = append(tx.Withdrawals, ledger.Withdrawal{Credential: w.Credential, Redeemer: v})
	}
	return tx, nil
}
