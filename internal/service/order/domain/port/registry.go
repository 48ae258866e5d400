// internal/service/order/domain/port/registry.go
package port

import (
	"context"

	"fulfil/internal/service/order/domain"
)

// InstanceRegistry 登记每个 saga 实例的当前状态，供信号路由做
// unknown / terminated 判定，并提供活动调用的幂等键预占。
type InstanceRegistry interface {
	// PutStatus 写入实例当前状态；终态带保留窗口 TTL。
	PutStatus(ctx context.Context, orderID string, status domain.Status) error
	// GetStatus 读取实例状态；实例不存在时返回 domain 包的未知错误。
	GetStatus(ctx context.Context, orderID string) (domain.Status, error)
	// Reserve 预占一个幂等键，第一次预占返回 true，重复预占返回 false。
	Reserve(ctx context.Context, key string) (bool, error)
}
