// internal/zookeeper/lock.go
package zookeeper

import (
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	lockRoot        = "/fulfil/execution_locks"
	lockWaitTimeout = 30 * time.Second
)

// DistributedLock 用临时顺序节点实现跨进程互斥。
// 持有者进程崩溃后节点随会话消失，锁自动释放。
type DistributedLock struct {
	conn     *Conn
	path     string // 锁目录，例如 /fulfil/execution_locks/order-123
	lockNode string // 拿到锁后自己创建的节点
}

// NewDistributedLock 为一个资源 ID 创建锁实例。
// 目录节点不存在时按需补建（幂等）。
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID

	if err := ensurePath(conn, lockRoot); err != nil {
		return nil, err
	}
	if err := ensurePath(conn, lockPath); err != nil {
		return nil, err
	}

	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensurePath(conn *Conn, path string) error {
	// 逐级补建，父节点可能也不存在
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		exists, _, err := conn.Exists(cur)
		if err != nil {
			return errors.Wrapf(err, "check node %s", cur)
		}
		if exists {
			continue
		}
		if _, err := conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
			return errors.Wrapf(err, "create node %s", cur)
		}
	}
	return nil
}

// Lock 阻塞获取锁：创建临时顺序节点，自己是最小节点即持锁，
// 否则监听前一个节点的删除事件后重试。
func (l *DistributedLock) Lock() error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create sequential lock node")
	}
	l.lockNode = nodePath

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return errors.Wrap(err, "list lock children")
		}
		sort.Strings(children)

		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if myNodeName == children[0] {
			return nil
		}

		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			return errors.New("own lock node missing from children")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			if err == zk.ErrNoNode {
				continue
			}
			return errors.Wrap(err, "watch previous lock node")
		}
		if !exists {
			continue
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(lockWaitTimeout):
			// 放弃排队，删掉自己的节点避免占坑
			_ = l.conn.Delete(l.lockNode, -1)
			l.lockNode = ""
			return errors.Errorf("timeout acquiring lock %s", l.path)
		}
	}
}

// Unlock 释放锁。节点已随会话消失时视为成功。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("not holding lock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return errors.Wrap(err, "delete lock node")
	}
	l.lockNode = ""
	return nil
}
