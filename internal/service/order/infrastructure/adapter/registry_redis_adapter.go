// internal/service/order/infrastructure/adapter/registry_redis_adapter.go
package adapter

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"fulfil/internal/pkg/redis"
	"fulfil/internal/service/order/domain"
)

const (
	statusKeyPrefix  = "order:status:"
	reserveKeyPrefix = "order:reserve:"

	// 终态的保留窗口。窗口内对已终结实例的信号返回 terminated，
	// 窗口过后注册表遗忘实例，信号回退到读模型判定。
	terminalRetention = 24 * time.Hour
	reserveTTL        = 24 * time.Hour
)

// RegistryRedisAdapter 是 port.InstanceRegistry 的 Redis 实现。
type RegistryRedisAdapter struct {
	redisClient *redis.Client
}

func NewRegistryRedisAdapter(redisClient *redis.Client) *RegistryRedisAdapter {
	return &RegistryRedisAdapter{redisClient: redisClient}
}

// PutStatus 写入实例状态。非终态不设 TTL，终态带保留窗口。
func (a *RegistryRedisAdapter) PutStatus(ctx context.Context, orderID string, status domain.Status) error {
	var ttl time.Duration
	if status.IsTerminal() {
		ttl = terminalRetention
	}
	err := a.redisClient.GetClient().Set(ctx, statusKeyPrefix+orderID, string(status), ttl).Err()
	return errors.Wrapf(err, "put status for %s", orderID)
}

// GetStatus 读取实例状态，键不存在时返回 domain.ErrUnknownOrder。
func (a *RegistryRedisAdapter) GetStatus(ctx context.Context, orderID string) (domain.Status, error) {
	val, err := a.redisClient.GetClient().Get(ctx, statusKeyPrefix+orderID).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", domain.ErrUnknownOrder
		}
		return "", errors.Wrapf(err, "get status for %s", orderID)
	}

	status := domain.Status(val)
	if !status.Valid() {
		return "", errors.Errorf("corrupt status %q for %s", val, orderID)
	}
	return status, nil
}

// Reserve 用 SETNX 预占一个幂等键。第一次预占返回 true。
func (a *RegistryRedisAdapter) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := a.redisClient.GetClient().SetNX(ctx, reserveKeyPrefix+key, "1", reserveTTL).Result()
	if err != nil {
		return false, errors.Wrapf(err, "reserve %s", key)
	}
	return ok, nil
}
