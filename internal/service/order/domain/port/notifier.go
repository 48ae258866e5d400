// internal/service/order/domain/port/notifier.go
package port

import (
	"context"

	"fulfil/internal/service/order/domain"
)

// LifecycleNotifier 把状态变化发布给下游（对账、推送、审计）。
// 发布失败不应影响 saga 主流程，实现负责记录错误。
type LifecycleNotifier interface {
	NotifyStatusChanged(ctx context.Context, ev domain.StatusChanged) error
}
