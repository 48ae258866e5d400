// internal/zookeeper/conn.go
package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"fulfil/internal/pkg/logger"
)

// Conn 封装 ZooKeeper 会话，锁实现只依赖这里暴露的方法。
type Conn struct {
	*zk.Conn
}

// Connect 建立会话。sessionTimeout 决定临时节点在会话断开后的存活时间，
// 也就是锁持有者崩溃后其它进程能接管的最大延迟。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}

	go func() {
		for ev := range events {
			if ev.State == zk.StateDisconnected || ev.State == zk.StateExpired {
				logger.Logger.Warn().Str("state", ev.State.String()).Msg("zookeeper session state changed")
			}
		}
	}()

	return &Conn{Conn: c}, nil
}
