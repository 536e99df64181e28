package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"signal_id", "symbol", "timeframe", "signal_type", "seq",
	"from_state", "to_state", "at", "reason", "filled_weight", "price", "recorded_at",
}

// WriteTransitionsCSV 把迁移日志写成带表头的 CSV。
func WriteTransitionsCSV(w io.Writer, rows []TransitionRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.SignalID,
			r.Symbol,
			r.Timeframe,
			r.SignalType,
			strconv.Itoa(r.Seq),
			r.From,
			r.To,
			r.At.Format(time.RFC3339),
			r.Reason,
			strconv.FormatFloat(r.FilledWeight, 'f', -1, 64),
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			r.RecordedAt.Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
