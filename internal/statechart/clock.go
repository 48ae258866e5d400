// internal/statechart/clock.go
package statechart

import "time"

// Timer 是一次定时调度的句柄。
// Cancel 在回调触发前调用可以阻止触发；触发之后调用是 no-op。
type Timer interface {
	Cancel()
}

// Clock 抽象了解释器的计时原语。
// 生产实现必须保证：对同一逻辑操作序列重放时，定时器的触发顺序完全一致
// （见 internal/durable 的 ClockAdapter / LogicalClock）。
type Clock interface {
	ScheduleAfter(d time.Duration, fn func()) Timer
}

// systemClock 是默认实现，直接使用进程墙钟。仅适合非持久化场景。
type systemClock struct{}

type systemTimer struct{ t *time.Timer }

func (s systemClock) ScheduleAfter(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

func (s systemTimer) Cancel() { s.t.Stop() }
