// internal/service/order/domain/port/gateway.go
package port

import "context"

// PaymentStatus 是支付状态轮询的三值结果。
type PaymentStatus int

const (
	PaymentStatusInconclusive PaymentStatus = iota // 尚无结论，继续等待/轮询
	PaymentStatusSucceeded
	PaymentStatusFailed
)

// ActivityGateway 是 saga 调用的六个副作用操作的出站端口。
// 执行底座对每个调用提供 at-least-once 重试，所以实现必须幂等或可安全
// 重试：每次调用携带幂等键（orderID:step），由目标系统去重。
// 短操作应在秒级的 start-to-close 窗口内完成；SubmitAndConfirmTransaction
// 是分钟级的长操作，执行期间必须通过 beat 周期性上报存活。
type ActivityGateway interface {
	CreateOrderIntent(ctx context.Context, orderID string) (bool, error)
	SubmitPayment(ctx context.Context, orderID, paymentInfo string) (paymentID string, err error)
	GetPaymentStatus(ctx context.Context, paymentID string) (PaymentStatus, error)
	CreateTransaction(ctx context.Context, orderID, paymentID string) (transactionID string, err error)
	SubmitAndConfirmTransaction(ctx context.Context, transactionID string, beat func()) (bool, error)
	RefundPayment(ctx context.Context, orderID, paymentID string) (bool, error)
}
