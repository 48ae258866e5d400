// internal/service/order/application/watch.go
package application

import (
	"sync"

	"fulfil/internal/service/order/domain"
)

// watchHub 给每个订单维护一组状态订阅者（websocket 推送）。
// 慢消费者不会阻塞 saga：缓冲满时丢弃中间快照，只保最新。
type watchHub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.Snapshot]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[string]map[chan domain.Snapshot]struct{})}
}

func (h *watchHub) subscribe(orderID string) (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 8)
	h.mu.Lock()
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[chan domain.Snapshot]struct{})
	}
	h.subs[orderID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[orderID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, orderID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *watchHub) publish(orderID string, snap domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[orderID] {
		select {
		case ch <- snap:
		default:
			// 订阅者太慢：丢掉最旧的一条再塞最新的
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (h *watchHub) close(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[orderID] {
		close(ch)
	}
	delete(h.subs, orderID)
}
