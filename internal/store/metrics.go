package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evalgate/evalgate/internal/metrics"
)

// FlushMetrics appends a chunk of metric records. Satisfies
// metrics.Flusher.
func (m *Manager) FlushMetrics(ctx context.Context, records []metrics.Metric) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := m.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO call_metrics (
  recorded_at, endpoint, request_id, input_tokens, output_tokens,
  total_tokens, cached_tokens, cost_usd, duration_ms, status, error_code
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare metrics insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(
			ctx,
			r.Timestamp.UnixMilli(),
			r.Endpoint,
			r.RequestID,
			r.InputTokens,
			r.OutputTokens,
			r.TotalTokens,
			r.CachedTokens,
			r.CostUSD,
			r.Duration.Milliseconds(),
			string(r.Status),
			r.ErrorCode,
		); err != nil {
			return fmt.Errorf("insert metric row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics: %w", err)
	}
	return nil
}

func (m *Manager) MetricCount(ctx context.Context) (int64, error) {
	var count int64
	if err := m.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_metrics`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
