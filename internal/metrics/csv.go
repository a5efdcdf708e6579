package metrics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"timestamp", "endpoint", "request_id", "input_tokens", "output_tokens",
	"total_tokens", "cached_tokens", "cost", "duration", "status", "error_code",
}

// WriteCSV serializes records one per line in the fixed export column
// order. Durations are emitted as integer milliseconds.
func WriteCSV(w io.Writer, records []Metric) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, m := range records {
		row := []string{
			m.Timestamp.UTC().Format(time.RFC3339Nano),
			m.Endpoint,
			m.RequestID,
			strconv.Itoa(m.InputTokens),
			strconv.Itoa(m.OutputTokens),
			strconv.Itoa(m.TotalTokens),
			strconv.Itoa(m.CachedTokens),
			strconv.FormatFloat(m.CostUSD, 'f', -1, 64),
			strconv.FormatInt(m.Duration.Milliseconds(), 10),
			string(m.Status),
			m.ErrorCode,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
