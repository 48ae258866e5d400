// internal/service/order/application/saga/chart.go
package saga

import (
	"time"

	"fulfil/internal/service/order/domain"
	"fulfil/internal/statechart"
)

// 状态图里的状态 ID。对外标签见各状态的 Label。
const (
	StateCreating       = "CREATING"
	StatePending        = "PENDING"
	StateSubmitting     = "SUBMITTING_ORDER"
	StateOrderSubmitted = "ORDER_SUBMITTED"
	StateWait           = "WAIT"
	StateCheckPayment   = "CHECK_PAYMENT_STATUS"
	StatePaymentSuccess = "PAYMENT_SUCCESS"
	StatePaymentFailed  = "PAYMENT_FAILED"
	StateFulfilling     = "FULFILLING"
	StateCreateTxn      = "CREATE_TRANSACTION"
	StateSendConfirmTxn = "SEND_AND_CONFIRM_TRANSACTION"
	StateFulfilSuccess  = "FULFIL_SUCCESS"
	StateRefunding      = "REFUNDING"
	StateRefunded       = "REFUNDED"
	StateCreateFailed   = "CREATE_FAILED"
	StateOrderFailed    = "ORDER_FAILED"
	StateOrderTimeout   = "ORDER_TIMEOUT"
	StatePaymentTimeout = "PAYMENT_TIMEOUT"
)

// Timeouts 集中了 saga 的所有期限。
type Timeouts struct {
	SubmitPayment time.Duration // PENDING：等待客户端提交支付
	PaymentResult time.Duration // ORDER_SUBMITTED 复合态整体期限
	PollInterval  time.Duration // WAIT → 轮询的间隔
	Fulfil        time.Duration // FULFILLING 复合态整体期限（有效期窗口）
}

// DefaultTimeouts 与原始流程一致：10s 提交、10s 支付结果、2s 轮询。
var DefaultTimeouts = Timeouts{
	SubmitPayment: 10 * time.Second,
	PaymentResult: 10 * time.Second,
	PollInterval:  2 * time.Second,
	Fulfil:        5 * time.Minute,
}

// setStatus 用注入的时钟盖时间戳：重放同一份历史时读模型里的
// 时间戳也要逐字节一致，墙钟在这里会破坏可复现性。
func setStatus(now func() time.Time, status domain.Status) statechart.Action[domain.OrderState] {
	return func(c *domain.OrderState, ev statechart.Event) {
		c.Status = status
		c.UpdatedAt = now()
	}
}

func eventString(ev statechart.Event, key string) string {
	if ev.Data == nil {
		return ""
	}
	s, _ := ev.Data[key].(string)
	return s
}

// NewChart 构造订单 saga 的状态图。图是纯数据，和解释器解耦，
// 可以单独做结构校验和守卫测试。
//
// 生命周期（嵌套以缩进表示）：
//
//	CREATING → PENDING → SUBMITTING_ORDER → ORDER_SUBMITTED → PAYMENT_SUCCESS → FULFILLING → FULFIL_SUCCESS
//	                                          WAIT ⇄ CHECK_PAYMENT_STATUS        CREATE_TRANSACTION ⇄ SEND_AND_CONFIRM_TRANSACTION
//	失败边：CREATE_FAILED / ORDER_FAILED / ORDER_TIMEOUT / PAYMENT_TIMEOUT / PAYMENT_FAILED / REFUNDING → REFUNDED
func NewChart(acts *Activities, t Timeouts, now func() time.Time) *statechart.Chart[domain.OrderState] {
	return &statechart.Chart[domain.OrderState]{
		ID:      "order",
		Initial: StateCreating,
		States: map[string]*statechart.State[domain.OrderState]{
			StateCreating: {
				Label: string(domain.StatusCreated),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusCreated)},
				Invoke: &statechart.Invoke[domain.OrderState]{
					ID:   "createOrderIntent",
					Task: acts.createOrderIntent,
					OnDone: []statechart.Transition[domain.OrderState]{
						{Target: StatePending, Cond: `data.success == true`},
						{Target: StateCreateFailed, Cond: `data.success == false`},
					},
					OnError: []statechart.Transition[domain.OrderState]{
						{Target: StateCreateFailed},
					},
				},
			},

			StatePending: {
				Label: string(domain.StatusPending),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusPending)},
				// 提交支付的期限和信号竞争，先到者胜出，输家的定时器被取消
				After: []statechart.After[domain.OrderState]{
					{Delay: t.SubmitPayment, Target: StateOrderTimeout},
				},
				On: map[string][]statechart.Transition[domain.OrderState]{
					domain.EventSubmitPayment: {
						{
							Target: StateSubmitting,
							Actions: []statechart.Action[domain.OrderState]{
								func(c *domain.OrderState, ev statechart.Event) {
									c.PaymentInfo = eventString(ev, "paymentInfo")
								},
							},
						},
					},
				},
			},

			StateSubmitting: {
				Label: string(domain.StatusSubmittingOrder),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusSubmittingOrder)},
				Invoke: &statechart.Invoke[domain.OrderState]{
					ID:   "submitPayment",
					Task: acts.submitPayment,
					OnDone: []statechart.Transition[domain.OrderState]{
						{
							Target: StateOrderSubmitted,
							Actions: []statechart.Action[domain.OrderState]{
								func(c *domain.OrderState, ev statechart.Event) {
									c.PaymentID = eventString(ev, "paymentId")
								},
							},
						},
					},
					OnError: []statechart.Transition[domain.OrderState]{
						{Target: StateOrderFailed},
					},
				},
			},

			// 等待支付结果：外部信号随时可达，轮询兜底；复合态整体限时。
			// 结论由先被处理的事件决定，绝不双重生效。
			StateOrderSubmitted: {
				Label:   string(domain.StatusOrderSubmitted),
				Entry:   []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusOrderSubmitted)},
				Initial: StateWait,
				After: []statechart.After[domain.OrderState]{
					{Delay: t.PaymentResult, Target: StatePaymentTimeout},
				},
				On: map[string][]statechart.Transition[domain.OrderState]{
					domain.EventPaymentResult: {
						{Target: StatePaymentSuccess, Cond: `data.success == true`},
						{Target: StatePaymentFailed, Cond: `data.success == false`},
					},
				},
				States: map[string]*statechart.State[domain.OrderState]{
					StateWait: {
						After: []statechart.After[domain.OrderState]{
							{Delay: t.PollInterval, Target: StateCheckPayment},
						},
					},
					StateCheckPayment: {
						Invoke: &statechart.Invoke[domain.OrderState]{
							ID:   "getPaymentStatus",
							Task: acts.getPaymentStatus,
							OnDone: []statechart.Transition[domain.OrderState]{
								{Target: StatePaymentSuccess, Cond: `data.conclusive == true && data.success == true`},
								{Target: StatePaymentFailed, Cond: `data.conclusive == true && data.success == false`},
								// 未决：回到 WAIT 重新计时
								{Target: StateWait, Cond: `data.conclusive == false`},
							},
							// 轮询本身失败视为未决，底座已做过重试
							OnError: []statechart.Transition[domain.OrderState]{
								{Target: StateWait},
							},
						},
					},
				},
			},

			StatePaymentSuccess: {
				Label: string(domain.StatusPaymentSuccess),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusPaymentSuccess)},
				// 无需外部事件，直通进入履约
				Always: []statechart.Transition[domain.OrderState]{
					{Target: StateFulfilling},
				},
			},

			// 履约：创建交易并提交确认；提交失败回到重建交易
			// （外部有效期窗口可能已过），整体受复合态期限约束。
			// 结论性的交易结果信号随时可达并决定走向。
			StateFulfilling: {
				Label:   string(domain.StatusFulfilling),
				Entry:   []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusFulfilling)},
				Initial: StateCreateTxn,
				After: []statechart.After[domain.OrderState]{
					{Delay: t.Fulfil, Target: StateRefunding},
				},
				On: map[string][]statechart.Transition[domain.OrderState]{
					domain.EventTransactionResult: {
						{Target: StateFulfilSuccess, Cond: `data.success == true`},
						{Target: StateRefunding, Cond: `data.success == false`},
					},
				},
				States: map[string]*statechart.State[domain.OrderState]{
					StateCreateTxn: {
						// 首次进入时复合态入场已写过 FULFILLING，这里是幂等的；
						// 提交失败回跳重建交易时必须把 TXN_CREATED 撤回来，
						// 否则查询读到的状态和当前配置的标签对不上
						Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusFulfilling)},
						Invoke: &statechart.Invoke[domain.OrderState]{
							ID:   "createTransaction",
							Task: acts.createTransaction,
							OnDone: []statechart.Transition[domain.OrderState]{
								{
									Target: StateSendConfirmTxn,
									Actions: []statechart.Action[domain.OrderState]{
										func(c *domain.OrderState, ev statechart.Event) {
											// 重建交易时允许覆盖旧的交易号
											c.TransactionID = eventString(ev, "transactionId")
										},
									},
								},
							},
							// 支付已捕获，创建交易失败走补偿而不是终态失败
							OnError: []statechart.Transition[domain.OrderState]{
								{Target: StateRefunding},
							},
						},
					},
					StateSendConfirmTxn: {
						Label: string(domain.StatusTxnCreated),
						Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusTxnCreated)},
						Invoke: &statechart.Invoke[domain.OrderState]{
							ID:   "submitAndConfirmTransaction",
							Task: acts.submitAndConfirm,
							OnDone: []statechart.Transition[domain.OrderState]{
								{Target: StateFulfilSuccess, Cond: `data.success == true`},
								{Target: StateRefunding, Cond: `data.success == false`},
							},
							// 提交失败（含心跳超时）：回去重建交易
							OnError: []statechart.Transition[domain.OrderState]{
								{Target: StateCreateTxn},
							},
						},
					},
				},
			},

			// 补偿路径：退款结果不改变终态（基础设计如此），
			// 但失败痕迹记录在上下文里，供对账与告警。
			StateRefunding: {
				Label: string(domain.StatusRefunding),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusRefunding)},
				Invoke: &statechart.Invoke[domain.OrderState]{
					ID:   "refundPayment",
					Task: acts.refundPayment,
					OnDone: []statechart.Transition[domain.OrderState]{
						{
							Target: StateRefunded,
							Actions: []statechart.Action[domain.OrderState]{
								func(c *domain.OrderState, ev statechart.Event) {
									if ok, _ := ev.Data["success"].(bool); !ok {
										c.RefundFailed = true
									}
								},
							},
						},
					},
					OnError: []statechart.Transition[domain.OrderState]{
						{
							Target: StateRefunded,
							Actions: []statechart.Action[domain.OrderState]{
								func(c *domain.OrderState, ev statechart.Event) {
									c.RefundFailed = true
								},
							},
						},
					},
				},
			},

			StateFulfilSuccess: {
				Label: string(domain.StatusFulfilSuccess),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusFulfilSuccess)},
				Final: true,
			},
			StateRefunded: {
				Label: string(domain.StatusRefunded),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusRefunded)},
				Final: true,
			},
			StatePaymentFailed: {
				Label: string(domain.StatusPaymentFailed),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusPaymentFailed)},
				Final: true,
			},
			StateCreateFailed: {
				Label: string(domain.StatusCreateFailed),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusCreateFailed)},
				Final: true,
			},
			StateOrderFailed: {
				Label: string(domain.StatusOrderFailed),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusOrderFailed)},
				Final: true,
			},
			StateOrderTimeout: {
				Label: string(domain.StatusOrderTimeout),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusOrderTimeout)},
				Final: true,
			},
			StatePaymentTimeout: {
				Label: string(domain.StatusPaymentTimeout),
				Entry: []statechart.Action[domain.OrderState]{setStatus(now, domain.StatusPaymentTimeout)},
				Final: true,
			},
		},
	}
}
