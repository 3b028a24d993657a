package successfee

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundcore/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func r(s string) domain.Ratio { return domain.RatioFromDecimal(d(s)) }

func TestApplyInternalSingleTier(t *testing.T) {
	sigmas := []string{"1", "1.2", "2.5", "10"}
	rates := []string{"0", "0.3", "0.5", "1"}
	alphas := []string{"0.5", "1", "1.1", "1.5", "3", "10", "12"}

	for _, sigma := range sigmas {
		for _, c := range rates {
			for _, alpha := range alphas {
				got := applyInternal(r(alpha), r(sigma), r(c), nil)
				want := domain.RatioFromInt(0)
				if d(alpha).GreaterThanOrEqual(d(sigma)) {
					want = r(c).Mul(r(alpha).Sub(r(sigma)))
				}
				if !got.Equal(want) {
					t.Errorf("applyInternal(%s, %s, %s, []) = %s, want %s", alpha, sigma, c, got, want)
				}
			}
		}
	}
}

func TestApplyExamples(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		alpha    string
		want     string
	}{
		{
			name:     "flat tier above sigma",
			schedule: Schedule{C0: d("0"), Steps: []Step{{Sigma: d("1.2"), C: d("0.5")}}},
			alpha:    "1.5",
			want:     "0.15",
		},
		{
			name:     "whitepaper example",
			schedule: Schedule{C0: d("0"), Steps: []Step{{Sigma: d("1.05"), C: d("0.3")}}},
			alpha:    "1.5",
			want:     "0.135",
		},
		{
			name:     "below first step",
			schedule: Schedule{C0: d("0.1"), Steps: []Step{{Sigma: d("2"), C: d("0.5")}}},
			alpha:    "1.5",
			want:     "0.05",
		},
		{
			name:     "spans two steps",
			schedule: Schedule{C0: d("0.1"), Steps: []Step{{Sigma: d("1.5"), C: d("0.2")}, {Sigma: d("2"), C: d("0.4")}}},
			alpha:    "3",
			want:     "0.55",
		},
		{
			name:     "partway into a middle tier",
			schedule: Schedule{C0: d("0.2"), Steps: []Step{{Sigma: d("1.5"), C: d("0.3")}, {Sigma: d("2"), C: d("0.5")}}},
			alpha:    "1.75",
			want:     "0.175",
		},
		{
			name:     "exactly at a middle sigma",
			schedule: Schedule{C0: d("0.2"), Steps: []Step{{Sigma: d("1.5"), C: d("0.3")}, {Sigma: d("2"), C: d("0.5")}}},
			alpha:    "1.5",
			want:     "0.1",
		},
		{
			name:     "no gain",
			schedule: Schedule{C0: d("0.5")},
			alpha:    "0.9",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.schedule.Apply(r(tt.alpha))
			if !got.Equal(r(tt.want)) {
				t.Errorf("Apply(%s) = %s, want %s", tt.alpha, got, tt.want)
			}
		})
	}
}

func TestApplyIsMonotonic(t *testing.T) {
	s := Schedule{
		C0: d("0.05"),
		Steps: []Step{
			{Sigma: d("1.1"), C: d("0.2")},
			{Sigma: d("1.5"), C: d("0")},
			{Sigma: d("2"), C: d("0.6")},
			{Sigma: d("4"), C: d("1")},
		},
	}

	prev := s.Apply(domain.RatioFromInt(0))
	for i := int64(1); i <= 600; i++ {
		alpha := domain.MustRatio(i, 100)
		got := s.Apply(alpha)
		if got.Cmp(prev) < 0 {
			t.Fatalf("Apply(%s) = %s decreased from %s", alpha, got, prev)
		}
		prev = got
	}
}

func TestRate(t *testing.T) {
	s := Schedule{C0: d("0"), Steps: []Step{{Sigma: d("1.05"), C: d("0.3")}}}
	if got := s.Rate(r("1.5")); !got.Equal(r("0.09")) {
		t.Errorf("Rate(1.5) = %s, want 0.09", got)
	}
	if got := s.Rate(r("1")); !got.IsZero() {
		t.Errorf("Rate(1) = %s, want 0", got)
	}
}

func TestQuote(t *testing.T) {
	s := Schedule{C0: d("0"), Steps: []Step{{Sigma: d("1.05"), C: d("0.3")}}}
	q := s.Quote(d("1.5"))
	if !q.Fee.Equal(d("0.135")) || !q.Rate.Equal(d("0.09")) {
		t.Errorf("Quote(1.5) = %+v, want fee 0.135 rate 0.09", q)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"empty steps", Schedule{C0: d("0.2")}, false},
		{"valid steps", Schedule{C0: d("0"), Steps: []Step{{Sigma: d("1.05"), C: d("0.3")}, {Sigma: d("10"), C: d("1")}}}, false},
		{"c0 negative", Schedule{C0: d("-0.1")}, true},
		{"c0 above one", Schedule{C0: d("1.01")}, true},
		{"sigma below one", Schedule{Steps: []Step{{Sigma: d("0.9"), C: d("0.1")}}}, true},
		{"sigma equal to implicit one", Schedule{Steps: []Step{{Sigma: d("1"), C: d("0.1")}}}, true},
		{"sigma above ten", Schedule{Steps: []Step{{Sigma: d("10.5"), C: d("0.1")}}}, true},
		{"duplicate sigma", Schedule{Steps: []Step{{Sigma: d("2"), C: d("0.1")}, {Sigma: d("2"), C: d("0.2")}}}, true},
		{"decreasing sigma", Schedule{Steps: []Step{{Sigma: d("3"), C: d("0.1")}, {Sigma: d("2"), C: d("0.2")}}}, true},
		{"step rate above one", Schedule{Steps: []Step{{Sigma: d("2"), C: d("1.5")}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrScheduleInvalid) {
				t.Errorf("Validate() error = %v, want ErrScheduleInvalid", err)
			}
			if tt.schedule.IsValid() == tt.wantErr {
				t.Errorf("IsValid() = %v", tt.schedule.IsValid())
			}
		})
	}
}

func TestValidateTooManySteps(t *testing.T) {
	s := Schedule{}
	for i := 1; i <= MaxSteps+1; i++ {
		s.Steps = append(s.Steps, Step{Sigma: decimal.NewFromFloat(1 + float64(i)*0.5), C: d("0.1")})
	}
	if err := s.Validate(); !errors.Is(err, domain.ErrScheduleInvalid) {
		t.Errorf("Validate() error = %v, want ErrScheduleInvalid", err)
	}
}
