package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/metrics"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/supply"
)

// SupplyReader reads the live supply cell.
type SupplyReader interface {
	Supply(ctx context.Context) (supply.Supply, ledger.Output, error)
	Params() protocol.Params
}

// PeriodStatus tells the agent which supply transitions are due.
type PeriodStatus struct {
	PeriodID         int64     `json:"periodId"`
	PeriodEnd        time.Time `json:"periodEnd"`
	CanClose         bool      `json:"canClose"`
	ManagementFeeDue int64     `json:"managementFeeDue"`
}

// CheckPeriod reports the state of the fee clocks of s at now.
func CheckPeriod(s supply.Supply, fee protocol.ManagementFee, now time.Time) (PeriodStatus, error) {
	due, err := s.ManagementFeeDilution(fee, now)
	if err != nil {
		return PeriodStatus{}, err
	}
	return PeriodStatus{
		PeriodID:         s.PeriodID(),
		PeriodEnd:        s.PeriodEnd(),
		CanClose:         !now.Before(s.PeriodEnd()),
		ManagementFeeDue: due,
	}, nil
}

// PeriodWorker periodically checks whether the success fee period can be
// closed and how much management fee has accrued, publishing both as metrics.
type PeriodWorker struct {
	reader   SupplyReader
	interval time.Duration
	now      func() time.Time
}

// NewPeriodWorker creates a new PeriodWorker.
func NewPeriodWorker(reader SupplyReader, interval time.Duration) *PeriodWorker {
	return &PeriodWorker{
		reader:   reader,
		interval: interval,
		now:      time.Now,
	}
}

func (w *PeriodWorker) check(ctx context.Context) error {
	s, _, err := w.reader.Supply(ctx)
	if err != nil {
		return err
	}
	now := w.now()
	fee := w.reader.Params().ManagementFee
	status, err := CheckPeriod(s, fee, now)
	if err != nil {
		return err
	}
	metrics.ObserveSupply(s, fee, now)

	if status.CanClose {
		slog.Warn("PeriodWorker: success fee period can be closed", "period", status.PeriodID, "ended", status.PeriodEnd)
	}
	slog.Info("PeriodWorker: checked supply",
		"period", status.PeriodID,
		"period_end", status.PeriodEnd,
		"management_fee_due", status.ManagementFeeDue,
		"tokens", s.NTokens)
	return nil
}

// Run starts the period worker loop. It blocks until the context is cancelled.
func (w *PeriodWorker) Run(ctx context.Context) {
	slog.Info("PeriodWorker: starting")

	if err := w.check(ctx); err != nil {
		slog.Error("PeriodWorker: initial check failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("PeriodWorker: shutting down")
			return
		case <-ticker.C:
			if err := w.check(ctx); err != nil {
				slog.Error("PeriodWorker: check failed", "error", err)
			}
		}
	}
}
