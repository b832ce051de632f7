package task

import (
	"time"

	"github.com/apm-collector/pkg/window"
)

// State 一个采集任务实例的可变状态。
// 只在 tick 自己的 goroutine 中读写；调度器与调用方通过 StateMachine 观察终态。
type State struct {
	CollectionStart      time.Time // 任务创建时间（对齐到分钟）
	LastEnd              time.Time // 上一个成功 tick 的窗口结束时间
	CurrentEnd           time.Time // 当前 tick 使用的非 canary 窗口结束时间
	DataCollectionMinute int
	FirstTickCompleted   bool
	HostStarts           *window.HostStarts
}

// NewState 创建初始状态，LastEnd 从 start 开始
func NewState(start time.Time) *State {
	start = window.MinuteFloor(start)
	return &State{
		CollectionStart: start,
		LastEnd:         start,
		CurrentEnd:      start,
		HostStarts:      window.NewHostStarts(),
	}
}

// Clock 窗口计算所需的只读快照
func (s *State) Clock() window.Clock {
	return window.Clock{
		CollectionStart:      s.CollectionStart,
		LastEnd:              s.LastEnd,
		FirstTickCompleted:   s.FirstTickCompleted,
		DataCollectionMinute: s.DataCollectionMinute,
	}
}

// RetryState 单个 tick 的重试状态，每个 tick 开始时重置
type RetryState struct {
	Attempt    int
	FirstError error
}

func (r *RetryState) record(err error) {
	if r.FirstError == nil {
		r.FirstError = err
	}
}
