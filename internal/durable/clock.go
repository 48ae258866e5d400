// internal/durable/clock.go
package durable

import (
	"sync"
	"time"

	"fulfil/internal/statechart"
)

// ClockAdapter 把解释器的计时接口（ScheduleAfter/Cancel）桥接到底座的
// 可重放延时原语上。取消与触发的竞争按先到者裁决：如果在观察到取消请求
// 之前延时已经走完，触发生效，回调照常执行；反之回调被抑制，之后的触发
// 不再发生。触发之后的取消是 no-op，不会泄漏挂起的定时器。
type ClockAdapter struct {
	sub Substrate
}

func NewClockAdapter(sub Substrate) *ClockAdapter {
	return &ClockAdapter{sub: sub}
}

var _ statechart.Clock = (*ClockAdapter)(nil)

type adapterTimer struct {
	mu        sync.Mutex
	fired     bool
	cancelled bool
	stop      func()
}

func (a *ClockAdapter) ScheduleAfter(d time.Duration, fn func()) statechart.Timer {
	t := &adapterTimer{}
	t.stop = a.sub.AfterFunc(d, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()
		fn()
	})
	return t
}

func (t *adapterTimer) Cancel() {
	t.mu.Lock()
	if t.fired || t.cancelled {
		// 延时已在取消请求被观察到之前走完：触发优先，取消是 no-op
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.mu.Unlock()
	t.stop()
}
