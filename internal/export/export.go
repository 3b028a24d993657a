package export

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/fundcore/internal/assets"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/price"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/store"
	"github.com/mtlprog/fundcore/internal/supply"
)

// Sheet is one named table of a report.
type Sheet struct {
	Name string
	Rows [][]any
}

// SheetWriter writes report sheets to a destination.
type SheetWriter interface {
	Write(ctx context.Context, sheets []Sheet) error
}

// Source provides the fund state a report is built from.
type Source interface {
	Params() protocol.Params
	Supply(ctx context.Context) (supply.Supply, ledger.Output, error)
	Feed(ctx context.Context) (price.Feed, ledger.Output, error)
	Groups(ctx context.Context) ([]assets.Group, error)
	Transitions(ctx context.Context, limit int) ([]store.Transition, error)
}

// Service builds fund reports and delegates writing to a SheetWriter.
type Service struct {
	source       Source
	writer       SheetWriter
	historyLimit int
	now          func() time.Time
}

// NewService creates a new export Service.
func NewService(source Source, writer SheetWriter, historyLimit int) *Service {
	return &Service{
		source:       source,
		writer:       writer,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Build collects the current state and history into report sheets.
func (s *Service) Build(ctx context.Context) ([]Sheet, error) {
	sup, _, err := s.source.Supply(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading supply: %w", err)
	}
	feed, _, err := s.source.Feed(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading price: %w", err)
	}
	groups, err := s.source.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading asset groups: %w", err)
	}
	history, err := s.source.Transitions(ctx, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	p := s.source.Params()

	return []Sheet{
		{Name: "STATE", Rows: buildState(p, sup, feed, s.now())},
		{Name: "ASSETS", Rows: buildAssets(groups)},
		{Name: "HISTORY", Rows: buildHistory(history)},
		{Name: "SCHEDULE", Rows: buildSchedule(p.SuccessFee)},
	}, nil
}

// Export builds the report and writes it.
// Implements worker.Exporter.
func (s *Service) Export(ctx context.Context) error {
	sheets, err := s.Build(ctx)
	if err != nil {
		return err
	}
	return s.writer.Write(ctx, sheets)
}
