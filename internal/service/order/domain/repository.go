// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 持久化订单状态快照。
// 它不是执行底座的事件日志，只是供查询和终态留存的读模型。
type OrderRepository interface {
	Save(ctx context.Context, state OrderState) error
	FindByID(ctx context.Context, orderID string) (OrderState, error)
}
