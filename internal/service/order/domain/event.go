// internal/service/order/domain/event.go
package domain

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"fulfil/internal/statechart"
)

// 外部信号与内部事件的名字。信号由 Signal/Query 路由器翻译成状态机事件。
const (
	EventSubmitPayment     = "payment.submit" // 客户端提交支付描述
	EventPaymentResult     = "payment.result" // 支付结果信号（success bool）
	EventTransactionResult = "txn.result"     // 交易结果信号（success bool）
)

// SubmitPaymentSignal 是提交支付信号的载荷。
type SubmitPaymentSignal struct {
	PaymentInfo string `json:"paymentInfo" mapstructure:"paymentInfo"`
}

// ResultSignal 是支付/交易结果信号的载荷。
type ResultSignal struct {
	Success bool `json:"success" mapstructure:"success"`
}

// DecodeSubmitPayment 把路由器收到的原始载荷解码为提交支付事件。
func DecodeSubmitPayment(payload map[string]any) (statechart.Event, error) {
	var sig SubmitPaymentSignal
	if err := mapstructure.Decode(payload, &sig); err != nil {
		return statechart.Event{}, errors.Wrap(err, "invalid submit-payment payload")
	}
	if sig.PaymentInfo == "" {
		return statechart.Event{}, errors.New("submit-payment requires paymentInfo")
	}
	return statechart.Event{
		Name: EventSubmitPayment,
		Data: map[string]any{"paymentInfo": sig.PaymentInfo},
	}, nil
}

// DecodeResult 解码带布尔结果的信号（payment.result / txn.result）。
func DecodeResult(name string, payload map[string]any) (statechart.Event, error) {
	var sig ResultSignal
	if err := mapstructure.Decode(payload, &sig); err != nil {
		return statechart.Event{}, errors.Wrapf(err, "invalid %s payload", name)
	}
	return statechart.Event{
		Name: name,
		Data: map[string]any{"success": sig.Success},
	}, nil
}

// StatusChanged 是每次状态变化时发布的生命周期事件（Kafka）。
type StatusChanged struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	PaymentID     string `json:"paymentId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	RefundFailed  bool   `json:"refundFailed,omitempty"`
}
