package worker

import (
	"context"
	"log/slog"
	"time"
)

// Exporter defines the interface for publishing a fund report.
type Exporter interface {
	Export(ctx context.Context) error
}

// ReportWorker periodically exports the fund report.
type ReportWorker struct {
	exporter Exporter
	interval time.Duration
}

// NewReportWorker creates a new ReportWorker.
func NewReportWorker(exporter Exporter, interval time.Duration) *ReportWorker {
	return &ReportWorker{
		exporter: exporter,
		interval: interval,
	}
}

func (w *ReportWorker) export(ctx context.Context) {
	if err := w.exporter.Export(ctx); err != nil {
		slog.Error("ReportWorker: export failed", "error", err)
		return
	}
	slog.Info("ReportWorker: export completed")
}

// Run starts the report worker loop. It blocks until the context is cancelled.
func (w *ReportWorker) Run(ctx context.Context) {
	slog.Info("ReportWorker: starting", "interval", w.interval)

	// Export immediately on startup
	w.export(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ReportWorker: shutting down")
			return
		case <-ticker.C:
			w.export(ctx)
		}
	}
}
