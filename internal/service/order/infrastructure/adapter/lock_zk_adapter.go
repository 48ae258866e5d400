// internal/service/order/infrastructure/adapter/lock_zk_adapter.go
package adapter

import (
	"fulfil/internal/service/order/domain/port"
	"fulfil/internal/zookeeper"
)

// ZkLockFactory 是 port.LockFactory 的 ZooKeeper 实现，
// 保证同一订单跨进程只有一个活跃的 saga 解释器。
type ZkLockFactory struct {
	conn *zookeeper.Conn
}

func NewZkLockFactory(conn *zookeeper.Conn) *ZkLockFactory {
	return &ZkLockFactory{conn: conn}
}

func (f *ZkLockFactory) NewLock(resourceID string) port.ExecutionLock {
	return &zkLock{conn: f.conn, resourceID: resourceID}
}

// zkLock 延迟到 Lock 调用时才创建锁目录，工厂方法保持不会失败。
type zkLock struct {
	conn       *zookeeper.Conn
	resourceID string
	inner      *zookeeper.DistributedLock
}

func (l *zkLock) Lock() error {
	inner, err := zookeeper.NewDistributedLock(l.conn, l.resourceID)
	if err != nil {
		return err
	}
	if err := inner.Lock(); err != nil {
		return err
	}
	l.inner = inner
	return nil
}

func (l *zkLock) Unlock() error {
	if l.inner == nil {
		return nil
	}
	err := l.inner.Unlock()
	l.inner = nil
	return err
}
