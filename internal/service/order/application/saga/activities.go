// internal/service/order/application/saga/activities.go
package saga

import (
	"context"
	"time"

	"fulfil/internal/durable"
	"fulfil/internal/service/order/domain"
	"fulfil/internal/service/order/domain/port"
)

// Activities 把 ActivityGateway 的六个操作包装成状态图可 Invoke 的任务。
// 重试由执行底座的 Executor 负责；任务只把结果翻译成事件数据，
// 让守卫表达式做成功/失败/未决的分流。
type Activities struct {
	gw   port.ActivityGateway
	exec *durable.Executor

	// 长活动的存活窗口与整体上限（分钟级，对应外部有效期窗口）
	heartbeatTimeout time.Duration
	confirmDeadline  time.Duration
}

func NewActivities(gw port.ActivityGateway, exec *durable.Executor, heartbeatTimeout, confirmDeadline time.Duration) *Activities {
	return &Activities{
		gw:               gw,
		exec:             exec,
		heartbeatTimeout: heartbeatTimeout,
		confirmDeadline:  confirmDeadline,
	}
}

func (a *Activities) createOrderIntent(ctx context.Context, c domain.OrderState) (map[string]any, error) {
	var ok bool
	err := a.exec.Execute(ctx, "CreateOrderIntent", durable.DefaultRetryPolicy, func(ctx context.Context) error {
		var err error
		ok, err = a.gw.CreateOrderIntent(ctx, c.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": ok}, nil
}

func (a *Activities) submitPayment(ctx context.Context, c domain.OrderState) (map[string]any, error) {
	var paymentID string
	err := a.exec.Execute(ctx, "SubmitPayment", durable.DefaultRetryPolicy, func(ctx context.Context) error {
		var err error
		paymentID, err = a.gw.SubmitPayment(ctx, c.OrderID, c.PaymentInfo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"paymentId": paymentID}, nil
}

func (a *Activities) getPaymentStatus(ctx context.Context, c domain.OrderState) (map[string]any, error) {
	var status port.PaymentStatus
	err := a.exec.Execute(ctx, "GetPaymentStatus", durable.DefaultRetryPolicy, func(ctx context.Context) error {
		var err error
		status, err = a.gw.GetPaymentStatus(ctx, c.PaymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"conclusive": status != port.PaymentStatusInconclusive,
		"success":    status == port.PaymentStatusSucceeded,
	}, nil
}

func (a *Activities) createTransaction(ctx context.Context, c domain.OrderState) (map[string]any, error) {
	var txnID string
	err := a.exec.Execute(ctx, "CreateTransaction", durable.DefaultRetryPolicy, func(ctx context.Context) error {
		var err error
		txnID, err = a.gw.CreateTransaction(ctx, c.OrderID, c.PaymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"transactionId": txnID}, nil
}

func (a *Activities) submitAndConfirm(ctx context.Context, c domain.OrderState) (map[string]any, error) {
	var ok bool
	err := a.exec.ExecuteWithHeartbeat(ctx, "SubmitAndConfirmTransaction", a.heartbeatTimeout, a.confirmDeadline,
		func(ctx context.Context, beat func()) error {
			var err error
			ok, err = a.gw.SubmitAndConfirmTransaction(ctx, c.TransactionID, beat)
			return err
		})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": ok}, nil
}

func (a *Activities) refundPayment(ctx context.Context, c domain.OrderState) (map[string]any, error) {
	var ok bool
	err := a.exec.Execute(ctx, "RefundPayment", durable.DefaultRetryPolicy, func(ctx context.Context) error {
		var err error
		ok, err = a.gw.RefundPayment(ctx, c.OrderID, c.PaymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": ok}, nil
}
