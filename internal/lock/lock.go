// Package lock 保证同一信号在同一时刻最多只有一个评估在进行。
package lock

import (
	"context"
	"fmt"
	"sync"

	"sigtrack/internal/store"
)

// Locker 尝试获取某个信号的评估权；已被占用时返回 store.ErrConcurrentEvaluation，不阻塞等待。
type Locker interface {
	TryLock(ctx context.Context, id string) (release func(), err error)
}

// MemoryLocker 是进程内实现。
type MemoryLocker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{inflight: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(ctx context.Context, id string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inflight[id]; busy {
		return nil, fmt.Errorf("%w: %s in flight", store.ErrConcurrentEvaluation, id)
	}
	l.inflight[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.inflight, id)
			l.mu.Unlock()
		})
	}, nil
}

// InFlight 返回当前持有的锁数量。
func (l *MemoryLocker) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}
