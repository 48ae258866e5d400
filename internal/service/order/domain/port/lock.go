// internal/service/order/domain/port/lock.go
package port

// ExecutionLock 保证同一订单在任意时刻只有一个活跃的 saga 解释器
// （跨进程的执行所有权）。实现见 internal/zookeeper。
type ExecutionLock interface {
	Lock() error
	Unlock() error
}

// LockFactory 按资源 ID 创建执行锁。
type LockFactory interface {
	NewLock(resourceID string) ExecutionLock
}
