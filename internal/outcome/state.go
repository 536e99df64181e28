package outcome

import (
	"fmt"
	"strings"
)

// State 是信号结果在状态格上的位置，只能前进不能回退。
type State string

const (
	StatePending       State = "PENDING"
	StateEntryFilled   State = "ENTRY_FILLED"
	StateWon           State = "WON"
	StateLost          State = "LOST"
	StateBreakeven     State = "BREAKEVEN"
	StateExpired       State = "EXPIRED"
	StateNotApplicable State = "NOT_APPLICABLE"
)

// Rank: PENDING(0) < ENTRY_FILLED(1) < 终态(2)。未知状态返回 -1。
func (s State) Rank() int {
	switch s {
	case StatePending:
		return 0
	case StateEntryFilled:
		return 1
	case StateWon, StateLost, StateBreakeven, StateExpired, StateNotApplicable:
		return 2
	default:
		return -1
	}
}

func (s State) Terminal() bool { return s.Rank() == 2 }

// Decisive 表示计入胜率分母的终态。
func (s State) Decisive() bool {
	return s == StateWon || s == StateLost || s == StateBreakeven
}

func (s State) Valid() bool { return s.Rank() >= 0 }

// CanTransition 只允许严格向上的迁移。
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.Rank() > from.Rank()
}

func ParseState(raw string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown outcome state %q", raw)
	}
	return s, nil
}

func NonTerminalStates() []State { return []State{StatePending, StateEntryFilled} }

// Reason 记录一次迁移的触发原因。
type Reason string

const (
	ReasonEntryFill       Reason = "entry_fill"
	ReasonStopLoss        Reason = "stop_loss"
	ReasonTakeProfit      Reason = "take_profit"
	ReasonBreakevenReturn Reason = "breakeven_return"
	ReasonExpiry          Reason = "expiry"
	ReasonInvalidated     Reason = "invalidated"
	ReasonNotApplicable   Reason = "not_applicable"
)
