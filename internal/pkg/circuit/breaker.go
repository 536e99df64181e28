// Package circuit 提供进程内的简单熔断器，用于保护存储等下游依赖。
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"sigtrack/internal/logger"
)

// ErrOpen 表示熔断器处于打开状态，调用被直接拒绝。
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker 在连续失败 threshold 次后打开，cooldown 之后放行一次探测调用。
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
	nowFn       func() time.Time
	onChange    func(name string, from, to State)
	counts      func(err error) bool
}

// New 创建熔断器；threshold <= 0 时熔断器永远不会打开。
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		nowFn:     time.Now,
		counts:    func(err error) bool { return err != nil },
	}
}

// OnStateChange 设置状态变化回调，回调在独立 goroutine 中执行。
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// CountIf 指定哪些错误计入失败次数，例如只统计存储不可用。
func (b *Breaker) CountIf(fn func(err error) bool) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.counts = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.nowFn().Sub(b.lastFailure) >= b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.nowFn()
	switch b.state {
	case StateClosed:
		if b.threshold > 0 && b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// Do 在熔断器允许时执行 fn，并按 CountIf 的规则记录结果。
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	err := fn()
	b.mu.Lock()
	counts := b.counts
	b.mu.Unlock()
	if counts(err) {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil {
		go b.onChange(b.name, from, to)
		return
	}
	logger.Warnf("Breaker %s: %s -> %s (failures=%d/%d, cooldown=%s)",
		b.name, from, to, b.failures, b.threshold, b.cooldown)
}
