// internal/durable/logical.go
package durable

import (
	"sort"
	"sync"
	"time"
)

// LogicalClock 是确定性的逻辑时钟底座：时间只在 Advance/AdvanceTo 时前进，
// 到期的定时器在推进的 goroutine 里按 (到期时刻, 创建序号) 顺序同步触发。
// 这保证了对同一事件历史的每次重放都产生相同的触发交织。
type LogicalClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*logicalTimer
}

type logicalTimer struct {
	at        time.Time
	seq       uint64
	fn        func()
	cancelled bool
}

// NewLogicalClock 创建一个从 start 开始计时的逻辑时钟。
func NewLogicalClock(start time.Time) *LogicalClock {
	return &LogicalClock{now: start}
}

func (c *LogicalClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *LogicalClock) AfterFunc(d time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &logicalTimer{at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return func() {
		c.mu.Lock()
		t.cancelled = true
		c.mu.Unlock()
	}
}

// Advance 把逻辑时间向前推 d，途中到期的定时器依次同步触发。
func (c *LogicalClock) Advance(d time.Duration) {
	c.AdvanceTo(c.Now().Add(d))
}

// AdvanceTo 把逻辑时间推进到 t。定时器回调里新注册的定时器
// 如果也在 t 之前到期，同样会在本次推进中触发。
func (c *LogicalClock) AdvanceTo(t time.Time) {
	for {
		c.mu.Lock()
		next := c.earliestLocked(t)
		if next == nil {
			c.now = t
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.removeLocked(next)
		c.mu.Unlock()

		// 回调在锁外执行，允许它注册或取消别的定时器
		next.fn()
	}
}

func (c *LogicalClock) earliestLocked(limit time.Time) *logicalTimer {
	var candidates []*logicalTimer
	for _, t := range c.timers {
		if !t.cancelled && !t.at.After(limit) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].at.Equal(candidates[j].at) {
			return candidates[i].seq < candidates[j].seq
		}
		return candidates[i].at.Before(candidates[j].at)
	})
	return candidates[0]
}

func (c *LogicalClock) removeLocked(target *logicalTimer) {
	for i, t := range c.timers {
		if t == target {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}
