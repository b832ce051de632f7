package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
)

// Status 任务终态
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// 对外上报的状态名
func (s Status) Reported() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	default:
		return "RUNNING"
	}
}

const (
	eventSucceed = "succeed"
	eventFail    = "fail"
)

// Result 任务终态结果，只产生一次
type Result struct {
	Status       string `json:"status"`
	StateType    string `json:"state_type"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// StateMachine running -> success | failure，进入终态后不可再变。
// phase 与 done 是跨 goroutine 观察终态的唯一途径。
type StateMachine struct {
	mu        sync.Mutex
	fsm       *fsm.FSM
	phase     atomic.Value // Status
	done      chan struct{}
	result    Result
	stateType string
}

func NewStateMachine(stateType string) *StateMachine {
	sm := &StateMachine{
		done:      make(chan struct{}),
		stateType: stateType,
	}
	sm.phase.Store(StatusRunning)
	sm.fsm = fsm.NewFSM(
		string(StatusRunning),
		fsm.Events{
			{Name: eventSucceed, Src: []string{string(StatusRunning)}, Dst: string(StatusSuccess)},
			{Name: eventFail, Src: []string{string(StatusRunning)}, Dst: string(StatusFailure)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				sm.phase.Store(Status(e.Dst))
			},
		},
	)
	return sm
}

// Phase 当前阶段
func (sm *StateMachine) Phase() Status {
	return sm.phase.Load().(Status)
}

// Terminal 是否已进入终态
func (sm *StateMachine) Terminal() bool {
	return sm.Phase() != StatusRunning
}

// Done 进入终态时关闭
func (sm *StateMachine) Done() <-chan struct{} {
	return sm.done
}

// Succeed 进入 success；已是终态时返回 false
func (sm *StateMachine) Succeed(ctx context.Context) bool {
	return sm.transition(ctx, eventSucceed, "")
}

// Fail 进入 failure 并记录错误信息；已是终态时返回 false
func (sm *StateMachine) Fail(ctx context.Context, msg string) bool {
	return sm.transition(ctx, eventFail, msg)
}

func (sm *StateMachine) transition(ctx context.Context, event, msg string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.fsm.Event(ctx, event); err != nil {
		return false
	}
	sm.result = Result{
		Status:       sm.Phase().Reported(),
		StateType:    sm.stateType,
		ErrorMessage: msg,
	}
	close(sm.done)
	return true
}

// Result 终态结果；未到终态时返回 RUNNING
func (sm *StateMachine) Result() Result {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.Terminal() {
		return Result{Status: StatusRunning.Reported(), StateType: sm.stateType}
	}
	return sm.result
}

// Wait 阻塞直到终态或 ctx 结束
func (sm *StateMachine) Wait(ctx context.Context) (Result, error) {
	select {
	case <-sm.done:
		return sm.Result(), nil
	case <-ctx.Done():
		return sm.Result(), fmt.Errorf("wait for task completion: %w", ctx.Err())
	}
}
