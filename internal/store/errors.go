package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("signal not found")
	// ErrConcurrentEvaluation: 同一信号已有评估在进行或版本已被其他评估推进，下个周期重试。
	ErrConcurrentEvaluation = errors.New("concurrent evaluation conflict")
	// ErrStoreUnavailable 包装存储层基础设施错误；没有部分写入，整轮重试即可。
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrSignalImmutable   = errors.New("signal is immutable")
	ErrInvalidTransition = errors.New("invalid outcome transition")
)

// Unavailable 把底层错误包装成 ErrStoreUnavailable，保留原始错误链。
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
