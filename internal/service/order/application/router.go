// internal/service/order/application/router.go
package application

import (
	"context"

	"github.com/pkg/errors"

	"fulfil/internal/service/order/domain"
	"fulfil/internal/statechart"
)

// ErrUnknownSignal 表示客户端发来一个路由表里没有的信号名。
var ErrUnknownSignal = errors.New("order: unknown signal name")

// SignalStartOrder 不进状态机：它让路由器启动一个新的 saga 实例，
// 供纯 Kafka 驱动的部署（order-worker）使用。
const SignalStartOrder = "order.start"

// SignalRouter 把外部信号（HTTP/Kafka 载荷）翻译成状态机事件后投递。
// 每种信号名对应一个解码器，载荷非法时在入口处拒绝，不进邮箱。
type SignalRouter struct {
	app *OrderApplicationService
}

func NewSignalRouter(app *OrderApplicationService) *SignalRouter {
	return &SignalRouter{app: app}
}

// Route 解码并投递一个信号。返回的错误可能是载荷错误、
// ErrUnknownSignal、domain.ErrUnknownOrder 或 *domain.TerminatedError。
func (r *SignalRouter) Route(ctx context.Context, orderID, name string, payload map[string]any) error {
	if name == SignalStartOrder {
		// at-least-once 投递下重复的 start 是正常情况
		if _, err := r.app.StartOrder(ctx, orderID); err != nil && !errors.Is(err, ErrAlreadyStarted) {
			return err
		}
		return nil
	}

	ev, err := r.decode(name, payload)
	if err != nil {
		return err
	}
	return r.app.Deliver(ctx, orderID, ev)
}

func (r *SignalRouter) decode(name string, payload map[string]any) (ev statechart.Event, err error) {
	switch name {
	case domain.EventSubmitPayment:
		return domain.DecodeSubmitPayment(payload)
	case domain.EventPaymentResult, domain.EventTransactionResult:
		return domain.DecodeResult(name, payload)
	default:
		return statechart.Event{}, errors.Wrapf(ErrUnknownSignal, "%q", name)
	}
}
