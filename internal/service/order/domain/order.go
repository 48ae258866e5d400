// internal/service/order/domain/order.go
package domain

import "time"

// OrderState 是 saga 的持久上下文，也是查询的唯一来源。
// 一个订单号对应一个实例，实例跨进程重启存活（可从事件历史完整重建），
// 到达终态并超过保留窗口后才会被丢弃。外部组件只能通过查询读取快照，
// 绝不直接修改。
type OrderState struct {
	OrderID string
	Status  Status

	// PaymentID 在支付提交成功后写入，之后永不清空（终态后保留以供审计）。
	PaymentID string

	// TransactionID 在交易创建成功后写入，重建交易时允许覆盖。
	TransactionID string

	// PaymentInfo 是客户端随提交支付信号带来的不透明支付描述。
	PaymentInfo string

	// RefundFailed 记录退款活动本身是否失败。基础设计里退款结果不影响
	// 终态（总是 REFUNDED），这里保留痕迹以便对账。
	RefundFailed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrderState 为一个订单号创建初始上下文。
func NewOrderState(orderID string, now time.Time) OrderState {
	return OrderState{
		OrderID:   orderID,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot 是对外暴露的只读视图。
type Snapshot struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	PaymentID     string `json:"paymentId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// Snapshot 导出当前状态的只读视图。
func (s OrderState) Snapshot() Snapshot {
	return Snapshot{
		OrderID:       s.OrderID,
		Status:        string(s.Status),
		PaymentID:     s.PaymentID,
		TransactionID: s.TransactionID,
	}
}
