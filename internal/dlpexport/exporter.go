package dlpexport

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/store"
)

// Row is one flattened decision in the export file. Timestamps are epoch
// milliseconds; no content or detector evidence is ever exported.
type Row struct {
	DecisionID    string `parquet:"decision_id" json:"decision_id"`
	EventID       string `parquet:"event_id" json:"event_id"`
	TenantID      string `parquet:"tenant_id" json:"tenant_id"`
	Domain        string `parquet:"domain" json:"domain"`
	EventType     string `parquet:"event_type" json:"event_type"`
	ContentKind   string `parquet:"content_kind" json:"content_kind"`
	ContentLength int32  `parquet:"content_length" json:"content_length"`
	Outcome       string `parquet:"outcome" json:"outcome"`
	RiskScore     int32  `parquet:"risk_score" json:"risk_score"`
	CreatedAtMS   int64  `parquet:"created_at_ms" json:"created_at_ms"`
}

// Source supplies decision rows, oldest first, created after `since`.
type Source interface {
	FetchDecisionEvents(ctx context.Context, tenantID string, since time.Time, limit int) ([]store.DecisionEvent, error)
}

// Config contains export configuration.
type Config struct {
	TenantID  string
	Since     time.Time
	Output    string
	Limit     int
	BatchSize int
}

// Result summarizes one export run.
type Result struct {
	Rows     int
	Output   string
	Duration time.Duration
}

// Exporter streams decision rows into a Parquet file in batches, advancing a
// created_at cursor between fetches.
type Exporter struct {
	source Source
	config Config
	logger *zap.Logger
}

// New creates an exporter.
func New(source Source, config Config, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	return &Exporter{source: source, config: config, logger: logger}
}

// Run exports rows to the configured output file.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	file, err := os.Create(e.config.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file, parquet.SchemaOf(new(Row)))

	total := 0
	cursor := e.config.Since
	for {
		batchLimit := e.config.BatchSize
		if e.config.Limit > 0 && e.config.Limit-total < batchLimit {
			batchLimit = e.config.Limit - total
		}
		if batchLimit <= 0 {
			break
		}

		events, err := e.source.FetchDecisionEvents(ctx, e.config.TenantID, cursor, batchLimit)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}

		for _, ev := range events {
			row := Row{
				DecisionID:    ev.DecisionID,
				EventID:       ev.EventID,
				TenantID:      ev.TenantID,
				Domain:        ev.Domain,
				EventType:     ev.EventType,
				ContentKind:   ev.ContentKind,
				ContentLength: int32(ev.ContentLength),
				Outcome:       ev.Outcome,
				RiskScore:     int32(ev.RiskScore),
				CreatedAtMS:   ev.CreatedAt.UnixMilli(),
			}
			if err := writer.Write(&row); err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}

		total += len(events)
		cursor = events[len(events)-1].CreatedAt

		e.logger.Debug("Export batch written",
			zap.Int("batch", len(events)),
			zap.Int("total", total))

		if len(events) < batchLimit {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize Parquet file: %w", err)
	}

	result := &Result{Rows: total, Output: e.config.Output, Duration: time.Since(start)}
	e.logger.Info("Export complete",
		zap.Int("rows", result.Rows),
		zap.String("output", result.Output),
		zap.Duration("duration", result.Duration))
	return result, nil
}
