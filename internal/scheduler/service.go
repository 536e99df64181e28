package scheduler

import (
	"context"
)

// Service 把对齐调度器和评估队列组合成后台循环。
type Service struct {
	sched *AlignedScheduler
	queue *EvaluationQueue
}

func NewService(sched *AlignedScheduler, queue *EvaluationQueue) *Service {
	return &Service{sched: sched, queue: queue}
}

func (s *Service) Queue() *EvaluationQueue { return s.queue }

// Run 阻塞直到 ctx 结束；单轮错误已由队列记录，不会终止循环。
func (s *Service) Run(ctx context.Context) {
	s.sched.Run(ctx, func(ctx context.Context) {
		_, _ = s.queue.RunPass(ctx)
	})
}
