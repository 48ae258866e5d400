// internal/service/order/domain/errors.go
package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnknownOrder 表示信号或查询指向一个不存在的 saga 实例。
// 对外表现为 not-found，绝不静默丢弃。
var ErrUnknownOrder = errors.New("order: unknown instance")

// TerminatedError 表示对一个已到达终态的实例投递信号。
// 携带终态以便 API 层放进客户端错误响应。
type TerminatedError struct {
	Status Status
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("order: instance terminated in status %s", e.Status)
}
