// Package signal 定义写入后不可变的交易信号记录及其校验。
package signal

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidSignalShape 表示入场/止盈/止损结构不合法，信号不会被持久化。
var ErrInvalidSignalShape = errors.New("invalid signal shape")

type Type string

const (
	TypeBuy  Type = "BUY"
	TypeSell Type = "SELL"
	TypeHold Type = "HOLD"
)

// ParseType 接受 BUY/SELL/HOLD 以及 long/short 等同义词。
func ParseType(raw string) (Type, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG", "OPEN_LONG":
		return TypeBuy, true
	case "SELL", "SHORT", "OPEN_SHORT":
		return TypeSell, true
	case "HOLD", "WAIT", "NEUTRAL":
		return TypeHold, true
	default:
		return "", false
	}
}

func (t Type) IsDirectional() bool { return t == TypeBuy || t == TypeSell }

// Entry 是一个带资金权重的入场价位。
type Entry struct {
	Price  float64 `json:"price"`
	Weight float64 `json:"weight"`
}

// TakeProfit 是止盈价位，按离入场价由近到远排列。
type TakeProfit struct {
	Price       float64 `json:"price"`
	RewardRatio float64 `json:"reward_ratio"`
}

// Draft 是创建信号的输入，尚未分配 id 也未校验。
type Draft struct {
	Symbol      string       `json:"symbol"`
	Timeframe   string       `json:"timeframe"`
	Type        Type         `json:"signal_type"`
	Confidence  float64      `json:"confidence"`
	Entries     []Entry      `json:"entries"`
	TakeProfits []TakeProfit `json:"take_profits"`
	StopLoss    float64      `json:"stop_loss"`
	GeneratedAt time.Time    `json:"generated_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	OwnerID     int64        `json:"owner_id,omitempty"`
	PlanID      string       `json:"plan_id,omitempty"`
	Note        string       `json:"note,omitempty"`
}

// Signal 创建后不再修改；任何更正都应生成新的信号和新的 id。
type Signal struct {
	ID          string       `json:"id"`
	Symbol      string       `json:"symbol"`
	Timeframe   string       `json:"timeframe"`
	Type        Type         `json:"signal_type"`
	Confidence  float64      `json:"confidence"`
	Entries     []Entry      `json:"entries"`
	TakeProfits []TakeProfit `json:"take_profits"`
	StopLoss    float64      `json:"stop_loss"`
	GeneratedAt time.Time    `json:"generated_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	OwnerID     int64        `json:"owner_id,omitempty"`
	PlanID      string       `json:"plan_id,omitempty"`
	Note        string       `json:"note,omitempty"`
}

// Clone 返回深拷贝，调用方修改副本不会影响原信号。
func (s Signal) Clone() Signal {
	out := s
	out.Entries = append([]Entry(nil), s.Entries...)
	out.TakeProfits = append([]TakeProfit(nil), s.TakeProfits...)
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

// Equal 比较两条信号的全部字段，用于判断重复写入是否为同一内容。
func (s Signal) Equal(o Signal) bool {
	if s.ID != o.ID || s.Symbol != o.Symbol || s.Timeframe != o.Timeframe || s.Type != o.Type {
		return false
	}
	if s.Confidence != o.Confidence || s.StopLoss != o.StopLoss || !s.GeneratedAt.Equal(o.GeneratedAt) {
		return false
	}
	if (s.ExpiresAt == nil) != (o.ExpiresAt == nil) {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.Equal(*o.ExpiresAt) {
		return false
	}
	if s.OwnerID != o.OwnerID || s.PlanID != o.PlanID || s.Note != o.Note {
		return false
	}
	if len(s.Entries) != len(o.Entries) || len(s.TakeProfits) != len(o.TakeProfits) {
		return false
	}
	for i := range s.Entries {
		if s.Entries[i] != o.Entries[i] {
			return false
		}
	}
	for i := range s.TakeProfits {
		if s.TakeProfits[i] != o.TakeProfits[i] {
			return false
		}
	}
	return true
}
