package price

import (
	"errors"
	"testing"
	"time"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestIsNotExpired(t *testing.T) {
	f := Feed{Value: domain.MustRatio(1, 1), Timestamp: t0}
	tests := []struct {
		name   string
		now    time.Time
		maxAge time.Duration
		want   bool
	}{
		{"same instant", t0, 0, true},
		{"exactly max age", t0.Add(time.Hour), time.Hour, true},
		{"one ms too late", t0.Add(time.Hour + time.Millisecond), time.Hour, false},
		{"published in future", t0.Add(-time.Minute), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.IsNotExpired(tt.now, tt.maxAge); got != tt.want {
				t.Errorf("IsNotExpired() = %v, want %v", got, tt.want)
			}
		})
	}

	if !f.IsNotExpiredAt(t0) || f.IsNotExpiredAt(t0.Add(time.Second)) {
		t.Error("IsNotExpiredAt() gave a wrong answer")
	}
}

func TestCheckFresh(t *testing.T) {
	f := Feed{Value: domain.MustRatio(1, 1), Timestamp: t0}

	if err := f.CheckFresh(&ledger.Tx{ValidTo: t0.Add(time.Minute)}, time.Hour); err != nil {
		t.Errorf("CheckFresh() error = %v", err)
	}
	if err := f.CheckFresh(&ledger.Tx{ValidTo: t0.Add(2 * time.Hour)}, time.Hour); !errors.Is(err, domain.ErrExpired) {
		t.Errorf("CheckFresh() error = %v, want ErrExpired", err)
	}
	if err := f.CheckFresh(&ledger.Tx{}, time.Hour); !errors.Is(err, domain.ErrExpired) {
		t.Errorf("CheckFresh(unbounded) error = %v, want ErrExpired", err)
	}
}

func TestRelativeToBenchmark(t *testing.T) {
	f := Feed{Value: domain.MustRatio(3, 2)}

	got, err := f.RelativeToBenchmark(domain.One())
	if err != nil || !got.Equal(f.Value) {
		t.Errorf("RelativeToBenchmark(1/1) = %s, %v, want %s", got, err, f.Value)
	}

	got, err = f.RelativeToBenchmark(domain.MustRatio(2, 5))
	if err != nil {
		t.Fatalf("RelativeToBenchmark() error = %v", err)
	}
	if got.String() != "6/10" {
		t.Errorf("RelativeToBenchmark() = %s, want 6/10", got)
	}
}

func TestBenchmark(t *testing.T) {
	tx := &ledger.Tx{Withdrawals: []ledger.Withdrawal{
		{Credential: ledger.Credential{Script: true, Hash: "usd"}, Redeemer: domain.MustRatio(1, 3)},
		{Credential: ledger.Credential{Script: true, Hash: "bad"}, Redeemer: "oops"},
	}}

	if got, err := Benchmark(tx, ""); err != nil || !got.Equal(domain.One()) {
		t.Errorf("Benchmark(\"\") = %s, %v", got, err)
	}
	if got, err := Benchmark(tx, "usd"); err != nil || !got.Equal(domain.MustRatio(1, 3)) {
		t.Errorf("Benchmark(usd) = %s, %v", got, err)
	}
	if _, err := Benchmark(tx, "eur"); !errors.Is(err, domain.ErrMismatch) {
		t.Errorf("Benchmark(eur) error = %v, want ErrMismatch", err)
	}
	if _, err := Benchmark(tx, "bad"); !errors.Is(err, domain.ErrMismatch) {
		t.Errorf("Benchmark(bad) error = %v, want ErrMismatch", err)
	}
}

func TestLookup(t *testing.T) {
	token := domain.NewAssetClass("aa", "FUND price")
	feed := Feed{Value: domain.MustRatio(5, 1), Timestamp: t0}
	tx := &ledger.Tx{RefInputs: []ledger.Output{
		{Value: domain.LovelaceValue(2)},
		{Value: domain.Value{token: 1}, Datum: feed},
	}}

	got, err := Lookup(tx, token)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !got.Value.Equal(feed.Value) || !got.Timestamp.Equal(t0) {
		t.Errorf("Lookup() = %+v", got)
	}

	if _, err := Lookup(&ledger.Tx{}, token); !errors.Is(err, domain.ErrIndex) {
		t.Errorf("Lookup(empty) error = %v, want ErrIndex", err)
	}
}
