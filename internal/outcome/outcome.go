package outcome

import (
	"time"

	"sigtrack/internal/signal"
)

// Outcome 是信号的当前评估结果，由存储层独占修改。
type Outcome struct {
	SignalID        string     `json:"signal_id"`
	State           State      `json:"state"`
	FilledWeight    float64    `json:"filled_weight"`
	FilledEntries   []int      `json:"filled_entries"`
	TargetsHit      int        `json:"targets_hit"`
	RealizedReturn  *float64   `json:"realized_return"`
	ExitPrice       *float64   `json:"exit_price,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	LastClose       float64    `json:"last_close,omitempty"`
	// Policy 在提交时固定，之后的评估不再跟随规则文件的热更新。
	Policy  *Policy `json:"policy,omitempty"`
	Version int64   `json:"version"`
}

// Transition 是追加写入的状态迁移记录，Seq 由存储层分配。
type Transition struct {
	SignalID     string    `json:"signal_id"`
	Seq          int       `json:"seq"`
	From         State     `json:"from_state"`
	To           State     `json:"to_state"`
	At           time.Time `json:"at"`
	Reason       Reason    `json:"reason"`
	FilledWeight float64   `json:"filled_weight"`
	Price        float64   `json:"price"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// View 是对外查询返回的最小结果。
type View struct {
	State          State      `json:"state"`
	FilledWeight   float64    `json:"filled_weight"`
	RealizedReturn *float64   `json:"realized_return"`
	ResolvedAt     *time.Time `json:"resolved_at"`
}

func (o Outcome) View() View {
	return View{
		State:          o.State,
		FilledWeight:   o.FilledWeight,
		RealizedReturn: o.RealizedReturn,
		ResolvedAt:     o.ResolvedAt,
	}
}

// Clone 深拷贝指针与切片字段。
func (o Outcome) Clone() Outcome {
	out := o
	out.FilledEntries = append([]int(nil), o.FilledEntries...)
	out.RealizedReturn = copyFloat(o.RealizedReturn)
	out.ExitPrice = copyFloat(o.ExitPrice)
	out.ResolvedAt = copyTime(o.ResolvedAt)
	out.LastEvaluatedAt = copyTime(o.LastEvaluatedAt)
	if o.Policy != nil {
		p := *o.Policy
		out.Policy = &p
	}
	return out
}

// PolicyOr 返回已固定的规则；尚未固定时返回 fallback。
func (o Outcome) PolicyOr(fallback Policy) Policy {
	if o.Policy != nil {
		return *o.Policy
	}
	return fallback
}

func (o Outcome) Return() float64 {
	if o.RealizedReturn == nil {
		return 0
	}
	return *o.RealizedReturn
}

// Initial 返回新信号的初始结果；HOLD 直接进入 NOT_APPLICABLE 并附带一条迁移。
func Initial(sig signal.Signal) (Outcome, []Transition) {
	out := Outcome{SignalID: sig.ID, State: StatePending}
	if sig.Type.IsDirectional() {
		return out, nil
	}
	at := sig.GeneratedAt
	out.State = StateNotApplicable
	out.ResolvedAt = &at
	return out, []Transition{{
		SignalID: sig.ID,
		From:     StatePending,
		To:       StateNotApplicable,
		At:       at,
		Reason:   ReasonNotApplicable,
	}}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
