// internal/service/order/infrastructure/adapter/payment_http_adapter.go
package adapter

import (
	"context"

	"github.com/pkg/errors"

	"fulfil/internal/pkg/httpclient"
	"fulfil/internal/service/order/domain/port"
)

// ActivityHTTPAdapter 是 port.ActivityGateway 的 HTTP 实现。
// 支付侧操作在本文件，链上交易侧操作在 chain_http_adapter.go。
// 每个请求携带 idempotencyKey（orderID:step），由下游服务去重，
// 所以上游的 at-least-once 重试是安全的。
type ActivityHTTPAdapter struct {
	client     *httpclient.Client
	paymentURL string
	chainURL   string
}

// NewActivityHTTPAdapter 创建活动网关适配器。
func NewActivityHTTPAdapter(client *httpclient.Client, paymentURL, chainURL string) *ActivityHTTPAdapter {
	return &ActivityHTTPAdapter{
		client:     client,
		paymentURL: paymentURL,
		chainURL:   chainURL,
	}
}

// CreateOrderIntent 在支付服务登记订单意图。
func (a *ActivityHTTPAdapter) CreateOrderIntent(ctx context.Context, orderID string) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	err := a.client.PostJSON(ctx, a.paymentURL+"/api/orders", map[string]any{
		"orderId":        orderID,
		"idempotencyKey": orderID + ":create",
	}, &resp)
	if err != nil {
		return false, errors.Wrap(err, "create order intent")
	}
	return resp.Success, nil
}

// SubmitPayment 把客户端的支付描述提交给支付服务，换回支付单号。
func (a *ActivityHTTPAdapter) SubmitPayment(ctx context.Context, orderID, paymentInfo string) (string, error) {
	var resp struct {
		PaymentID string `json:"paymentId"`
	}
	err := a.client.PostJSON(ctx, a.paymentURL+"/api/payments", map[string]any{
		"orderId":        orderID,
		"paymentInfo":    paymentInfo,
		"idempotencyKey": orderID + ":submit",
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "submit payment")
	}
	if resp.PaymentID == "" {
		return "", errors.New("payment service returned empty paymentId")
	}
	return resp.PaymentID, nil
}

// GetPaymentStatus 轮询支付结果，三值：无结论、成功、失败。
func (a *ActivityHTTPAdapter) GetPaymentStatus(ctx context.Context, paymentID string) (port.PaymentStatus, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := a.client.PostJSON(ctx, a.paymentURL+"/api/payments/status", map[string]any{
		"paymentId": paymentID,
	}, &resp)
	if err != nil {
		return port.PaymentStatusInconclusive, errors.Wrap(err, "get payment status")
	}

	switch resp.Status {
	case "SUCCEEDED":
		return port.PaymentStatusSucceeded, nil
	case "FAILED":
		return port.PaymentStatusFailed, nil
	default:
		return port.PaymentStatusInconclusive, nil
	}
}

// RefundPayment 对已确认的支付发起退款补偿。
func (a *ActivityHTTPAdapter) RefundPayment(ctx context.Context, orderID, paymentID string) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	err := a.client.PostJSON(ctx, a.paymentURL+"/api/payments/refund", map[string]any{
		"orderId":        orderID,
		"paymentId":      paymentID,
		"idempotencyKey": orderID + ":refund",
	}, &resp)
	if err != nil {
		return false, errors.Wrap(err, "refund payment")
	}
	return resp.Success, nil
}
