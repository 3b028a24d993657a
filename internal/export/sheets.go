package export

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/store"
	"github.com/mtlprog/fundcore/internal/successfee"
	"github.com/mtlprog/fundcore/internal/supply"
)

const timeLayout = "2006-01-02 15:04:05"

// stateRow describes one line of the STATE sheet.
type stateRow struct {
	label string
	value func(p protocol.Params, s supply.Supply, f price.Feed, now time.Time) any
}

var stateRows = []stateRow{
	{"Tokens outstanding", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any { return s.NTokens }},
	{"Lovelace held", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any { return s.NLovelace }},
	{"Token price", func(_ protocol.Params, _ supply.Supply, f price.Feed, _ time.Time) any { return ratioFloat(f.Value) }},
	{"Price timestamp", func(_ protocol.Params, _ supply.Supply, f price.Feed, _ time.Time) any { return f.Timestamp.UTC().Format(timeLayout) }},
	{"Supply tick", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any { return s.Tick }},
	{"Success fee period", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any { return s.PeriodID() }},
	{"Period start price", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any {
		return ratioFloat(s.SuccessFee.StartPrice)
	}},
	{"Period end", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any { return s.PeriodEnd().UTC().Format(timeLayout) }},
	{"Vouchers outstanding", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any { return s.NVouchers }},
	{"Last voucher id", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any { return s.LastVoucherID }},
	{"Management fee collected until", func(_ protocol.Params, s supply.Supply, _ price.Feed, _ time.Time) any {
		return s.ManagementFeeTimestamp.UTC().Format(timeLayout)
	}},
	{"Management fee due", func(p protocol.Params, s supply.Supply, _ price.Feed, now time.Time) any {
		due, err := s.ManagementFeeDilution(p.ManagementFee, now)
		if err != nil {
			return nil
		}
		return due
	}},
}

// buildState builds the STATE sheet: one labelled value per row.
func buildState(p protocol.Params, s supply.Supply, f price.Feed, now time.Time) [][]any {
	data := [][]any{{"Field", "Value"}}
	for _, row := range stateRows {
		data = append(data, []any{row.label, row.value(p, s, f, now)})
	}
	return data
}

// buildAssets builds the ASSETS sheet.
// Columns: Group | Asset | Count | Price | Value | Price timestamp
func buildAssets(groups []assets.Group) [][]any {
	data := [][]any{{"Group", "Asset", "Count", "Price", "Value", "Price timestamp"}}
	for id, g := range groups {
		for _, r := range g {
			data = append(data, []any{
				id,
				r.AssetClass.Canonical(),
				r.Count,
				ratioFloat(r.Price),
				ratioFloat(r.Value()),
				r.PriceTimestamp.UTC().Format(timeLayout),
			})
		}
	}
	return data
}

// buildHistory builds the HISTORY sheet, newest first.
// Columns: Time | Transaction | Kind | Result | Reason
func buildHistory(history []store.Transition) [][]any {
	return append([][]any{{"Time", "Transaction", "Kind", "Result", "Reason"}},
		lo.Map(history, func(t store.Transition, _ int) []any {
			result := "rejected"
			if t.Accepted {
				result = "accepted"
			}
			return []any{t.CreatedAt.UTC().Format(timeLayout), t.TxID, t.Kind, result, t.Reason}
		})...)
}

// scheduleAlphas are the performance ratios tabulated in the SCHEDULE sheet.
var scheduleAlphas = []string{"1", "1.1", "1.25", "1.5", "2", "3", "5", "10"}

// buildSchedule tabulates the success fee at a range of performance ratios.
// Columns: Alpha | Fee | Rate
func buildSchedule(schedule successfee.Schedule) [][]any {
	data := [][]any{{"Alpha", "Fee", "Rate"}}
	for _, a := range scheduleAlphas {
		alpha := domain.RatioFromDecimal(decimal.RequireFromString(a))
		data = append(data, []any{
			ratioFloat(alpha),
			ratioFloat(schedule.Apply(alpha)),
			ratioFloat(schedule.Rate(alpha)),
		})
	}
	return data
}

func ratioFloat(r domain.Ratio) float64 {
	f, _ := r.Decimal(8).Float64()
	return f
}
