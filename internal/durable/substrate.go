// internal/durable/substrate.go
package durable

import "time"

// Substrate 是执行底座暴露的可重放计时原语。
// 对同一逻辑操作序列，任何实现都必须保证定时器按一致的顺序触发：
// WallClock 直接挂在进程墙钟上；LogicalClock 由 Advance 显式推进，
// 同一时刻的多个定时器按创建顺序触发，重放时顺序完全可复现。
type Substrate interface {
	Now() time.Time
	// AfterFunc 在 d 之后调用 fn，返回取消函数。
	// 取消发生在触发之前则 fn 不会被调用；触发之后取消是 no-op。
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// WallClock 是生产用的墙钟底座。
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

func (WallClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
