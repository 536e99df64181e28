// Package report 直接读取结果数据库，导出迁移日志并绘制置信度校准图。
package report

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sigtrack/internal/store"

	_ "modernc.org/sqlite"
)

// TransitionRow 是迁移日志与信号元数据的一行联结结果。
type TransitionRow struct {
	SignalID     string
	Symbol       string
	Timeframe    string
	SignalType   string
	Seq          int
	From         string
	To           string
	At           time.Time
	Reason       string
	FilledWeight float64
	Price        float64
	RecordedAt   time.Time
}

// Filter 作用于迁移发生时间 at。
type Filter struct {
	SignalID  string
	Symbol    string
	Timeframe string
	Since     *time.Time
	Until     *time.Time
}

// Reader 以只读方式访问 signals / outcomes / outcome_transitions。
type Reader struct {
	db *sql.DB
}

func Open(path string) (*Reader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, store.Unavailable("open report db", err)
	}
	db.SetMaxOpenConns(1)
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const transitionsQuery = `SELECT t.signal_id, s.symbol, s.timeframe, s.signal_type, t.seq,
	t.from_state, t.to_state, t.at, t.reason, t.filled_weight, t.price, t.recorded_at
FROM outcome_transitions t JOIN signals s ON s.id = t.signal_id`

// Transitions 按 (at, signal_id, seq) 顺序返回迁移日志。
func (r *Reader) Transitions(ctx context.Context, f Filter) ([]TransitionRow, error) {
	var (
		where []string
		args  []any
	)
	if f.SignalID != "" {
		where = append(where, "t.signal_id = ?")
		args = append(args, f.SignalID)
	}
	if f.Symbol != "" {
		where = append(where, "s.symbol = ?")
		args = append(args, strings.ToUpper(f.Symbol))
	}
	if f.Timeframe != "" {
		where = append(where, "s.timeframe = ?")
		args = append(args, strings.ToLower(f.Timeframe))
	}
	if f.Since != nil {
		where = append(where, "t.at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if f.Until != nil {
		where = append(where, "t.at <= ?")
		args = append(args, f.Until.UnixMilli())
	}
	query := transitionsQuery
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.at ASC, t.signal_id ASC, t.seq ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable("query transitions", err)
	}
	defer rows.Close()

	var out []TransitionRow
	for rows.Next() {
		var (
			row            TransitionRow
			at, recordedAt int64
		)
		if err := rows.Scan(&row.SignalID, &row.Symbol, &row.Timeframe, &row.SignalType, &row.Seq,
			&row.From, &row.To, &at, &row.Reason, &row.FilledWeight, &row.Price, &recordedAt); err != nil {
			return nil, store.Unavailable("scan transition", err)
		}
		row.At = time.UnixMilli(at).UTC()
		row.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("iterate transitions", err)
	}
	return out, nil
}

// StateCounts 返回各结果状态的信号数量。
func (r *Reader) StateCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM outcomes GROUP BY state`)
	if err != nil {
		return nil, store.Unavailable("count states", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, store.Unavailable("scan state count", err)
		}
		out[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("iterate state counts", err)
	}
	return out, nil
}
