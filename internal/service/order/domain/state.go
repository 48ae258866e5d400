// internal/service/order/domain/state.go
package domain

// Status 定义了订单 saga 对外暴露的生命周期状态。
// 它是外部查询的唯一事实来源，词表是封闭的（见 Terminal）。
type Status string

const (
	StatusCreated         Status = "CREATED"          // 订单意图创建中
	StatusPending         Status = "PENDING"          // 等待客户端提交支付
	StatusSubmittingOrder Status = "SUBMITTING_ORDER" // 支付提交中
	StatusOrderSubmitted  Status = "ORDER_SUBMITTED"  // 已提交，等待/轮询支付结果
	StatusPaymentSuccess  Status = "PAYMENT_SUCCESS"  // 支付确认成功
	StatusPaymentFailed   Status = "PAYMENT_FAILED"   // 支付确认失败（终态）
	StatusFulfilling      Status = "FULFILLING"       // 交易创建中
	StatusTxnCreated      Status = "TXN_CREATED"      // 交易已创建，提交确认中
	StatusFulfilSuccess   Status = "FULFIL_SUCCESS"   // 履约成功（终态）
	StatusRefunding       Status = "REFUNDING"        // 退款补偿中
	StatusRefunded        Status = "REFUNDED"         // 已退款（终态）
	StatusCreateFailed    Status = "CREATE_FAILED"    // 创建订单意图失败（终态）
	StatusOrderFailed     Status = "ORDER_FAILED"     // 支付提交失败（终态）
	StatusOrderTimeout    Status = "ORDER_TIMEOUT"    // 未在期限内提交支付（终态）
	StatusPaymentTimeout  Status = "PAYMENT_TIMEOUT"  // 未在期限内得到支付结果（终态）
)

// terminal 列出所有终态。终态一旦到达不再发生任何转移。
var terminal = map[Status]struct{}{
	StatusPaymentFailed:  {},
	StatusFulfilSuccess:  {},
	StatusRefunded:       {},
	StatusCreateFailed:   {},
	StatusOrderFailed:    {},
	StatusOrderTimeout:   {},
	StatusPaymentTimeout: {},
}

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	_, ok := terminal[s]
	return ok
}

// Valid 判断字符串是否属于状态词表。
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusSubmittingOrder, StatusOrderSubmitted,
		StatusPaymentSuccess, StatusPaymentFailed, StatusFulfilling, StatusTxnCreated,
		StatusFulfilSuccess, StatusRefunding, StatusRefunded, StatusCreateFailed,
		StatusOrderFailed, StatusOrderTimeout, StatusPaymentTimeout:
		return true
	}
	return false
}
