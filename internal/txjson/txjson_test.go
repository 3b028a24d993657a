package txjson

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/order"
	"github.com/mtlprog/fundcore/internal/supply"
)

func TestDatumEnvelope(t *testing.T) {
	s := supply.Supply{
		Tick:       3,
		NTokens:    1000,
		SuccessFee: supply.SuccessFee{PeriodID: 1, StartPrice: domain.MustRatio(3, 2), Period: time.Hour},
	}
	e, err := EncodeDatum(s)
	if err != nil {
		t.Fatalf("EncodeDatum() error = %v", err)
	}
	if e.Type != "supply" {
		t.Errorf("Type = %q, want supply", e.Type)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back Envelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	d, err := DecodeDatum(&back)
	if err != nil {
		t.Fatalf("DecodeDatum() error = %v", err)
	}
	got, ok := d.(supply.Supply)
	if !ok {
		t.Fatalf("DecodeDatum() = %T, want supply.Supply", d)
	}
	if got.NTokens != 1000 || !got.SuccessFee.StartPrice.Equal(s.SuccessFee.StartPrice) {
		t.Errorf("DecodeDatum() = %+v", got)
	}

	if d, err := DecodeDatum(nil); d != nil || err != nil {
		t.Errorf("DecodeDatum(nil) = %v, %v", d, err)
	}
}

func TestUnknownTypes(t *testing.T) {
	if _, err := DecodeDatum(&Envelope{Type: "bogus"}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("DecodeDatum(bogus) error = %v, want ErrUnknownType", err)
	}
	if _, err := EncodeRedeemer(struct{}{}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("EncodeRedeemer(struct{}) error = %v, want ErrUnknownType", err)
	}
	if got := RedeemerName(order.Fulfill{}); got != "fulfill" {
		t.Errorf("RedeemerName() = %q, want fulfill", got)
	}
}

func TestTxLedger(t *testing.T) {
	body := `{
		"id": "tx1",
		"inputs": [{"txId": "genesis", "index": 0}],
		"outputs": [
			{"address": {"payment": {"hash": "holder"}}, "value": {"lovelace": 5}, "datum": {"type": "raw", "value": "m"}},
			{"address": {"payment": {"script": true, "hash": "fund"}}, "value": {"lovelace": 2}, "datum": {"type": "assets", "value": []}}
		],
		"validTo": "2026-04-01T00:10:00Z",
		"redeemers": [{"input": {"txId": "order", "index": 0}, "redeemer": {"type": "fulfill", "value": {"ptrs": [{"groupIndex": 1, "assetClassIndex": 0}]}}}],
		"withdrawals": [{"credential": {"script": true, "hash": "bench"}, "redeemer": {"type": "benchmark", "value": {"top": 3, "bottom": 2}}}]
	}`
	var w Tx
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	tx, err := w.Ledger(nil, nil)
	if err != nil {
		t.Fatalf("Ledger() error = %v", err)
	}

	if got := tx.Outputs[0].Datum; got != ledger.RawDatum("m") {
		t.Errorf("output 0 datum = %#v, want raw m", got)
	}
	if _, ok := tx.Outputs[1].Datum.(assets.Group); !ok {
		t.Errorf("output 1 datum = %T, want assets.Group", tx.Outputs[1].Datum)
	}
	if tx.Outputs[1].Ref != (ledger.OutputRef{TxID: "tx1", Index: 1}) {
		t.Errorf("output 1 ref = %v", tx.Outputs[1].Ref)
	}
	r, ok := tx.Redeemer(ledger.OutputRef{TxID: "order"})
	if f, isFulfill := r.(order.Fulfill); !ok || !isFulfill || len(f.Ptrs) != 1 || f.Ptrs[0].GroupIndex != 1 {
		t.Errorf("redeemer = %#v", r)
	}
	wd, ok := tx.Withdrawal("bench")
	if bench, isRatio := wd.Redeemer.(domain.Ratio); !ok || !isRatio || !bench.Equal(domain.MustRatio(3, 2)) {
		t.Errorf("withdrawal redeemer = %#v", wd.Redeemer)
	}
	if tx.Mint == nil {
		t.Error("Mint is nil, want empty value")
	}
}
