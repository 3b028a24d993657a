// Package ledger models the read-only transaction snapshot the validators
// inspect: spent and referenced outputs, produced outputs, signers, the
// validity window, minted quantities and withdrawal observations.
package ledger

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/fundcore/internal/domain"
)

// OutputRef points at an output of a previous transaction.
type OutputRef struct {
	TxID  string `json:"txId"`
	Index int    `json:"index"`
}

func (r OutputRef) String() string { return fmt.Sprintf("%s#%d", r.TxID, r.Index) }

// Credential is a key or script hash.
type Credential struct {
	Script bool   `json:"script,omitempty"`
	Hash   string `json:"hash"`
}

// Address is a payment credential with an optional staking part.
type Address struct {
	Payment Credential `json:"payment"`
	Staking string     `json:"staking,omitempty"`
}

// RawDatum is an opaque user datum. The empty string matches an output without datum.
type RawDatum string

// Output is a ledger cell. Datum holds a decoded protocol datum or a RawDatum.
type Output struct {
	Ref     OutputRef    `json:"ref"`
	Address Address      `json:"address"`
	Value   domain.Value `json:"value"`
	Datum   any          `json:"-"`
}

// Withdrawal is a staking-withdrawal observation carrying a redeemer.
type Withdrawal struct {
	Credential Credential `json:"credential"`
	Redeemer   any        `json:"-"`
}

// Tx is one proposed state transition.
type Tx struct {
	ID          string
	Inputs      []Output
	RefInputs   []Output
	Outputs     []Output
	Signatories []string
	ValidFrom   time.Time
	ValidTo     time.Time
	Mint        domain.Value
	Redeemers   map[OutputRef]any
	Withdrawals []Withdrawal
}

// IsSignedBy reports whether keyHash signed the transaction.
func (tx *Tx) IsSignedBy(keyHash string) bool {
	return keyHash != "" && lo.Contains(tx.Signatories, keyHash)
}

// SpendsFrom reports whether any input is spent from addr.
func (tx *Tx) SpendsFrom(addr Address) bool {
	return lo.ContainsBy(tx.Inputs, func(o Output) bool { return o.Address == addr })
}

// Input returns the spent input at ref.
func (tx *Tx) Input(ref OutputRef) (Output, bool) {
	return lo.Find(tx.Inputs, func(o Output) bool { return o.Ref == ref })
}

// Redeemer returns the redeemer attached to the spent input at ref.
func (tx *Tx) Redeemer(ref OutputRef) (any, bool) {
	r, ok := tx.Redeemers[ref]
	return r, ok
}

// Withdrawal returns the observation made by credential hash.
func (tx *Tx) Withdrawal(hash string) (Withdrawal, bool) {
	return lo.Find(tx.Withdrawals, func(w Withdrawal) bool { return w.Credential.Hash == hash })
}

// Minted returns the minted quantity of a, negative for burns.
func (tx *Tx) Minted(a domain.AssetClass) int64 {
	return tx.Mint.Get(a)
}

// FindToken returns the index of the first output holding exactly one unit of a.
func FindToken(outputs []Output, a domain.AssetClass) (Output, int, bool) {
	return lo.FindIndexOf(outputs, func(o Output) bool { return o.Value.Get(a) == 1 })
}

// FindReturn locates the first output at addr carrying datum whose index is not in used.
// Outputs at the same address are told apart by datum, never by position.
func FindReturn(outputs []Output, addr Address, datum RawDatum, used map[int]bool) (Output, int, error) {
	for i, o := range outputs {
		if used[i] || o.Address != addr {
			continue
		}
		d, raw := o.Datum.(RawDatum)
		if o.Datum != nil && !raw {
			continue
		}
		if d == datum {
			return o, i, nil
		}
	}
	return Output{}, -1, fmt.Errorf("%w: no return output at %s with expected datum", domain.ErrMismatch, addr.Payment.Hash)
}

// ScriptContext is a transaction seen from the spent input being validated.
type ScriptContext struct {
	Tx    *Tx
	Input OutputRef
}

// Own returns the input being validated.
func (c ScriptContext) Own() (Output, bool) {
	return c.Tx.Input(c.Input)
}
