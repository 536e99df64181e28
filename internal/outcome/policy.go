package outcome

import (
	"fmt"
	"strings"
)

// TieBreak 决定同一根 K 线同时覆盖止损与止盈时谁先触发。
// 仅凭 OHLC 无法还原 K 线内的先后顺序。
type TieBreak string

const (
	// TieBreakStopFirst 悲观口径：止损优先（默认）。
	TieBreakStopFirst TieBreak = "stop_first"
	// TieBreakTargetFirst 乐观口径：止盈优先。
	TieBreakTargetFirst TieBreak = "target_first"
)

// Resolution 决定多止盈信号何时判定为 WON。
type Resolution string

const (
	// ResolutionFirstTarget 触及第一个止盈即 WON（默认）。
	ResolutionFirstTarget Resolution = "first_target"
	// ResolutionAllTargets 触及最后一个止盈才 WON；期间回到混合入场价判 BREAKEVEN。
	ResolutionAllTargets Resolution = "all_targets"
)

func ParseTieBreak(raw string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TieBreakStopFirst:
		return TieBreakStopFirst, nil
	case TieBreakTargetFirst:
		return TieBreakTargetFirst, nil
	default:
		return "", fmt.Errorf("unknown tie-break policy %q (want stop_first|target_first)", raw)
	}
}

func ParseResolution(raw string) (Resolution, error) {
	switch Resolution(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ResolutionFirstTarget:
		return ResolutionFirstTarget, nil
	case ResolutionAllTargets:
		return ResolutionAllTargets, nil
	default:
		return "", fmt.Errorf("unknown resolution policy %q (want first_target|all_targets)", raw)
	}
}

// Policy 是一次评估使用的规则组合。
type Policy struct {
	TieBreak   TieBreak   `json:"tie_break"`
	Resolution Resolution `json:"resolution"`
}

func DefaultPolicy() Policy {
	return Policy{TieBreak: TieBreakStopFirst, Resolution: ResolutionFirstTarget}
}

func (p Policy) normalized() Policy {
	if p.TieBreak == "" {
		p.TieBreak = TieBreakStopFirst
	}
	if p.Resolution == "" {
		p.Resolution = ResolutionFirstTarget
	}
	return p
}

func (p Policy) String() string {
	p = p.normalized()
	return string(p.TieBreak) + "/" + string(p.Resolution)
}
