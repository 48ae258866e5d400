// internal/service/order/interfaces/ws_handler.go
package interfaces

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fulfil/internal/pkg/logger"
	"fulfil/internal/service/order/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 推送流只读不写，放开同源检查，由网关层做访问控制
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// streamSnapshots 把一个订单的状态快照流推给 websocket 客户端。
// 先推当前快照；已终结的订单推完即正常关闭，不挂在 ping 上。
// 之后 updates 关闭（saga 终结）或客户端断开时结束。
func (h *OrderHandler) streamSnapshots(conn *websocket.Conn, orderID string, first domain.Snapshot, updates <-chan domain.Snapshot, cancel func()) {
	defer cancel()
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(first); err != nil {
		logger.Logger.Debug().Err(err).Str("order_id", orderID).Msg("websocket write failed")
		return
	}
	if domain.Status(first.Status).IsTerminal() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "saga finished"),
			time.Now().Add(wsWriteTimeout))
		return
	}

	// 读泵只为感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				// saga 终结，发一个关闭帧让客户端正常收尾
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "saga finished"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Logger.Debug().Err(err).Str("order_id", orderID).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
