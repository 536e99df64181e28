package outcome

import "errors"

var (
	// ErrUnorderedPriceWindow: K 线未按 open_time 严格升序，整次评估放弃。
	ErrUnorderedPriceWindow = errors.New("unordered price window")
	// ErrInvalidPriceBar: high < low 或价格非正。
	ErrInvalidPriceBar = errors.New("invalid price bar")
)
