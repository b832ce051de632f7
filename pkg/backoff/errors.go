// Package backoff 定义采集引擎的错误分类：Transient（可在 tick 内重试）与 Fatal（立即终止任务）。
// 引擎的重试策略只依赖 Classify 的结果，而不关心错误来自哪个协作者。
package backoff

import (
	"context"
	"errors"
)

// ErrorCategory 表示一个错误应该如何被重试逻辑处理
type ErrorCategory int

const (
	// CategoryTransient 网络/解析/持久化失败等可恢复错误，tick 内按固定间隔重试
	CategoryTransient ErrorCategory = iota
	// CategoryPermanent 配置错误、运行时故障等不可恢复错误，不重试，任务直接失败
	CategoryPermanent
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Class 是 Classify 的结果
type Class int

const (
	Transient Class = iota
	Fatal
)

func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "transient"
}

// CategorizedError 包装原始错误与其分类
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// IsCategory checks if the CategorizedError has the specified category.
func (ce *CategorizedError) IsCategory(category ErrorCategory) bool {
	return ce.Category == category
}

// NewTransientError wraps err as CategoryTransient.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// NewPermanentError wraps err as CategoryPermanent.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// Classify 返回错误的重试分类。
// 未分类的错误按 Transient 处理；context 取消视为 Fatal（任务已被外部关闭）。
// 多层包装时以最外层的分类为准。
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	var ce *CategorizedError
	if errors.As(err, &ce) {
		if ce.IsCategory(CategoryPermanent) {
			return Fatal
		}
		return Transient
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	return Transient
}

// IsTransient 供 retry.RetryIf 使用
func IsTransient(err error) bool {
	return Classify(err) == Transient
}

// IsPermanent 便捷判断
func IsPermanent(err error) bool {
	return Classify(err) == Fatal
}
