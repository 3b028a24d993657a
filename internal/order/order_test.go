package order

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/successfee"
	"github.com/mtlprog/fundcore/internal/supply"
	"github.com/mtlprog/fundcore/internal/voucher"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	holder = ledger.Address{Payment: ledger.Credential{Hash: "holder"}}
	params = protocol.Params{
		Policy:     "aa",
		Prefix:     "FUND",
		Agent:      "agent",
		MintFee:    decimal.RequireFromString("0.01"),
		BurnFee:    decimal.RequireFromString("0.01"),
		SuccessFee: successfee.Schedule{C0: decimal.RequireFromString("0.2")},
	}
	feed = price.Feed{Value: domain.RatioFromInt(2), Timestamp: t0}
)

func openSupply(start domain.Ratio) supply.Supply {
	return supply.Supply{
		NTokens:       1000,
		LastVoucherID: 4,
		SuccessFee:    supply.SuccessFee{PeriodID: 3, StartTime: t0.Add(-24 * time.Hour), Period: 30 * 24 * time.Hour, StartPrice: start},
	}
}

func fillTx(outputs ...ledger.Output) *ledger.Tx {
	return &ledger.Tx{
		Outputs:     outputs,
		Signatories: []string{"agent"},
		ValidFrom:   t0,
		ValidTo:     t0.Add(10 * time.Minute),
		Mint:        domain.Value{},
	}
}

func returned(datum ledger.RawDatum, v domain.Value) ledger.Output {
	return ledger.Output{Address: holder, Value: v, Datum: datum}
}

func TestDiffLovelaceBurn(t *testing.T) {
	tests := []struct {
		name     string
		returned int64
		want     int64
	}{
		{"exact return", 10_000_000, 0},
		{"over return", 11_000_000, -1_000_000},
		{"under return", 9_000_000, 1_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := Diff(params.Policy, domain.LovelaceValue(10_000_000), domain.LovelaceValue(tt.returned))
			if got := diff.Lovelace(); got != tt.want {
				t.Errorf("Diff().Lovelace() = %d, want %d", got, tt.want)
			}
			worth, err := assets.ValueLovelace(diff, nil, assets.Source{})
			if err != nil || worth != tt.want {
				t.Errorf("ValueLovelace() = %d, %v, want %d", worth, err, tt.want)
			}
		})
	}
}

func TestDiffIgnoresProtocolTokens(t *testing.T) {
	orderValue := domain.LovelaceValue(5).With(params.FundToken(), 100).With(params.VoucherUserToken(1), 1)
	diff := Diff(params.Policy, orderValue, domain.LovelaceValue(5))
	if !diff.IsZero() {
		t.Errorf("Diff() = %v, want zero", diff)
	}
}

func TestFulfillMint(t *testing.T) {
	order := MintOrder{ReturnAddress: holder, ReturnDatum: "m", MinTokens: 4_000_000, MaxPriceAge: time.Hour}
	paid := domain.LovelaceValue(10_000_000)
	fund := params.FundToken()

	tx := fillTx(returned("m", domain.Value{}.With(fund, 4_950_000)))
	res, err := NewBatch(params, tx, openSupply(domain.RatioFromInt(2)), feed, domain.RatioFromInt(2)).FulfillMint(order, paid, nil)
	if err != nil {
		t.Fatalf("FulfillMint() error = %v", err)
	}
	if res.Tokens != 4_950_000 || res.Lovelace != 10_000_000 || res.VoucherIssued {
		t.Errorf("FulfillMint() = %+v", res)
	}

	tests := []struct {
		name    string
		order   MintOrder
		tx      *ledger.Tx
		wantErr error
		wantMsg string
	}{
		{"short of contract", order, fillTx(returned("m", domain.Value{}.With(fund, 4_949_999))), domain.ErrInsufficientValue, "as required by contract"},
		{"short of request", MintOrder{ReturnAddress: holder, ReturnDatum: "m", MinTokens: 5_000_000, MaxPriceAge: time.Hour}, fillTx(returned("m", domain.Value{}.With(fund, 4_950_000))), domain.ErrInsufficientValue, "as requested"},
		{"wrong datum", order, fillTx(returned("x", domain.Value{}.With(fund, 4_950_000))), domain.ErrMismatch, ""},
		{"stale price", MintOrder{ReturnAddress: holder, ReturnDatum: "m", MaxPriceAge: time.Minute}, fillTx(returned("m", domain.Value{}.With(fund, 4_950_000))), domain.ErrExpired, ""},
		{"not the agent", order, &ledger.Tx{ValidTo: t0}, domain.ErrAuthorization, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBatch(params, tt.tx, openSupply(domain.RatioFromInt(2)), feed, domain.RatioFromInt(2)).FulfillMint(tt.order, paid, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FulfillMint() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("FulfillMint() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestFulfillMintRejectsReverseFlow(t *testing.T) {
	fund := params.FundToken()
	lockedTokens := domain.Value{}.With(fund, 10)

	tests := []struct {
		name       string
		minTokens  int64
		orderValue domain.Value
		returned   domain.Value
	}{
		{"negative request", -10, lockedTokens, domain.LovelaceValue(1_000_000)},
		{"tokens taken out", 0, lockedTokens, domain.LovelaceValue(1_000_000)},
		{"value paid out", 0, domain.LovelaceValue(10), domain.LovelaceValue(1_000_000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := MintOrder{ReturnAddress: holder, ReturnDatum: "m", MinTokens: tt.minTokens, MaxPriceAge: time.Hour}
			tx := fillTx(returned("m", tt.returned))
			res, err := NewBatch(params, tx, openSupply(domain.RatioFromInt(2)), feed, domain.RatioFromInt(2)).FulfillMint(o, tt.orderValue, nil)
			if !errors.Is(err, domain.ErrMismatch) {
				t.Errorf("FulfillMint() = %+v, %v, want ErrMismatch", res, err)
			}
		})
	}
}

func TestFulfillMintIssuesVoucher(t *testing.T) {
	order := MintOrder{ReturnAddress: holder, ReturnDatum: "m", MaxPriceAge: time.Hour}
	fund := params.FundToken()
	ref, user := params.VoucherRefToken(5), params.VoucherUserToken(5)
	cell := ledger.Output{
		Value: domain.Value{}.With(ref, 1),
		Datum: voucher.Voucher{ReturnAddress: holder, ReturnDatum: "m", Tokens: 4_950_000, Price: domain.RatioFromInt(2), PeriodID: 3},
	}
	start := domain.MustRatio(3, 2)

	tx := fillTx(returned("m", domain.Value{}.With(fund, 4_950_000).With(user, 1)), cell)
	tx.Mint = domain.Value{}.With(ref, 1).With(user, 1)
	res, err := NewBatch(params, tx, openSupply(start), feed, domain.RatioFromInt(2)).FulfillMint(order, domain.LovelaceValue(10_000_000), nil)
	if err != nil {
		t.Fatalf("FulfillMint() error = %v", err)
	}
	if !res.VoucherIssued || res.VoucherID != 5 {
		t.Errorf("FulfillMint() voucher = %v %d, want 5", res.VoucherIssued, res.VoucherID)
	}

	missing := fillTx(returned("m", domain.Value{}.With(fund, 4_950_000)))
	if _, err := NewBatch(params, missing, openSupply(start), feed, domain.RatioFromInt(2)).FulfillMint(order, domain.LovelaceValue(10_000_000), nil); !errors.Is(err, domain.ErrMismatch) {
		t.Errorf("FulfillMint(no voucher) error = %v, want ErrMismatch", err)
	}

	wrong := cell
	wrong.Datum = voucher.Voucher{ReturnAddress: holder, ReturnDatum: "m", Tokens: 4_950_000, Price: start, PeriodID: 3}
	tx = fillTx(returned("m", domain.Value{}.With(fund, 4_950_000).With(user, 1)), wrong)
	tx.Mint = domain.Value{}.With(ref, 1).With(user, 1)
	if _, err := NewBatch(params, tx, openSupply(start), feed, domain.RatioFromInt(2)).FulfillMint(order, domain.LovelaceValue(10_000_000), nil); !errors.Is(err, domain.ErrMismatch) {
		t.Errorf("FulfillMint(wrong voucher price) error = %v, want ErrMismatch", err)
	}
}

func TestFulfillBurn(t *testing.T) {
	fund := params.FundToken()
	locked := domain.LovelaceValue(2_000_000).With(fund, 1000)
	order := BurnOrder{ReturnAddress: holder, ReturnDatum: "b", MinReturn: MinReturnLovelace(2_000_000), MaxPriceAge: time.Hour}

	tests := []struct {
		name    string
		start   domain.Ratio
		order   BurnOrder
		back    int64
		wantErr error
		wantMsg string
	}{
		{"full payout without gain", domain.RatioFromInt(2), order, 2_001_980, nil, ""},
		{"over payout", domain.RatioFromInt(2), order, 2_001_981, domain.ErrInsufficientValue, "as required by contract"},
		{"requested more", domain.RatioFromInt(2), BurnOrder{ReturnAddress: holder, ReturnDatum: "b", MinReturn: MinReturnLovelace(2_100_000), MaxPriceAge: time.Hour}, 2_001_980, domain.ErrInsufficientValue, "as requested"},
		{"provisional fee withheld", domain.RatioFromInt(1), order, 2_001_780, nil, ""},
		{"provisional fee ignored", domain.RatioFromInt(1), order, 2_001_980, domain.ErrInsufficientValue, "as required by contract"},
		{"value floor", domain.RatioFromInt(2), BurnOrder{ReturnAddress: holder, ReturnDatum: "b", MinReturn: MinReturnValue(domain.LovelaceValue(2_001_000)), MaxPriceAge: time.Hour}, 2_001_980, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := fillTx(returned("b", domain.LovelaceValue(tt.back)))
			res, err := NewBatch(params, tx, openSupply(tt.start), feed, domain.RatioFromInt(2)).FulfillBurn(tt.order, locked, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FulfillBurn() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				if !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("FulfillBurn() error = %q, want it to mention %q", err, tt.wantMsg)
				}
				return
			}
			if res.Tokens != -1000 || res.Lovelace != 2_000_000-tt.back {
				t.Errorf("FulfillBurn() = %+v", res)
			}
		})
	}
}

func TestFulfillBurnRedeemsVoucher(t *testing.T) {
	fund := params.FundToken()
	ref, user := params.VoucherRefToken(7), params.VoucherUserToken(7)
	locked := domain.LovelaceValue(2_000_000).With(fund, 1000).With(user, 1)
	order := BurnOrder{ReturnAddress: holder, ReturnDatum: "b", MaxPriceAge: time.Hour}

	build := func(period int64, back int64) *ledger.Tx {
		tx := fillTx(returned("b", domain.LovelaceValue(back)))
		tx.Inputs = []ledger.Output{{
			Value: domain.Value{}.With(ref, 1),
			Datum: voucher.Voucher{ReturnAddress: holder, Tokens: 600, Price: domain.RatioFromInt(2), PeriodID: period},
		}}
		tx.Mint = domain.Value{}.With(ref, -1).With(user, -1)
		return tx
	}

	res, err := NewBatch(params, build(3, 2_001_900), openSupply(domain.RatioFromInt(1)), feed, domain.RatioFromInt(2)).FulfillBurn(order, locked, nil)
	if err != nil {
		t.Fatalf("FulfillBurn() error = %v", err)
	}
	if len(res.Vouchers) != 1 || res.Vouchers[0] != 7 {
		t.Errorf("FulfillBurn() vouchers = %v, want [7]", res.Vouchers)
	}

	if _, err := NewBatch(params, build(3, 2_001_901), openSupply(domain.RatioFromInt(1)), feed, domain.RatioFromInt(2)).FulfillBurn(order, locked, nil); !errors.Is(err, domain.ErrInsufficientValue) {
		t.Errorf("FulfillBurn(over payout) error = %v, want ErrInsufficientValue", err)
	}
	if _, err := NewBatch(params, build(2, 2_001_900), openSupply(domain.RatioFromInt(1)), feed, domain.RatioFromInt(2)).FulfillBurn(order, locked, nil); !errors.Is(err, domain.ErrMismatch) {
		t.Errorf("FulfillBurn(closed period voucher) error = %v, want ErrMismatch", err)
	}

	unburned := build(3, 2_001_900)
	unburned.Mint = domain.Value{}
	if _, err := NewBatch(params, unburned, openSupply(domain.RatioFromInt(1)), feed, domain.RatioFromInt(2)).FulfillBurn(order, locked, nil); !errors.Is(err, domain.ErrMismatch) {
		t.Errorf("FulfillBurn(voucher not burned) error = %v, want ErrMismatch", err)
	}
}

func TestProvisionalSuccessFee(t *testing.T) {
	schedule := params.SuccessFee
	start, lovelacePrice, rel := domain.RatioFromInt(1), domain.RatioFromInt(2), domain.RatioFromInt(2)
	atPeak := voucher.Voucher{Tokens: 600, Price: domain.RatioFromInt(2)}

	tests := []struct {
		name     string
		nBurn    int64
		vouchers []voucher.Voucher
		want     int64
	}{
		{"no vouchers", 1000, nil, 200},
		{"partly covered", 1000, []voucher.Voucher{atPeak}, 80},
		{"fully covered", 500, []voucher.Voucher{atPeak}, 0},
		{"nothing burned", 0, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProvisionalSuccessFee(schedule, start, lovelacePrice, rel, tt.nBurn, tt.vouchers)
			if err != nil {
				t.Fatalf("ProvisionalSuccessFee() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ProvisionalSuccessFee() = %d, want %d", got, tt.want)
			}
		})
	}

	below, err := ProvisionalSuccessFee(schedule, domain.RatioFromInt(3), lovelacePrice, rel, 1000, nil)
	if err != nil || below != 0 {
		t.Errorf("ProvisionalSuccessFee(below start) = %d, %v, want 0", below, err)
	}
}

func TestValidateCancel(t *testing.T) {
	script := ledger.Address{Payment: ledger.Credential{Script: true, Hash: "holder"}}
	tests := []struct {
		name    string
		tx      *ledger.Tx
		addr    ledger.Address
		wantErr error
	}{
		{"owner signs", &ledger.Tx{Signatories: []string{"holder"}}, holder, nil},
		{"input from return address", &ledger.Tx{Inputs: []ledger.Output{{Address: script}}}, script, nil},
		{"script hash as signer", &ledger.Tx{Signatories: []string{"holder"}}, script, domain.ErrAuthorization},
		{"stranger", &ledger.Tx{Signatories: []string{"agent"}}, holder, domain.ErrAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateCancel(tt.tx, tt.addr); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCancel() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTotal(t *testing.T) {
	got := Total([]Result{
		{Tokens: 100, Lovelace: 250, VoucherIssued: true, VoucherID: 5},
		{Tokens: -40, Lovelace: -80, Vouchers: []int64{2, 3}},
	})
	want := supply.FillDelta{Tokens: 60, Lovelace: 170, VouchersIssued: 1, VouchersBurned: 2}
	if got != want {
		t.Errorf("Total() = %+v, want %+v", got, want)
	}
}
