// internal/service/order/infrastructure/adapter/chain_http_adapter.go
package adapter

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"fulfil/internal/pkg/logger"
)

// 链上交易确认的轮询间隔。每轮询一次上报一次心跳。
const confirmPollInterval = 5 * time.Second

// CreateTransaction 用已确认的支付在交易服务构造一笔链上交易。
// 重建（重新进入交易创建）会拿到新的交易号，旧交易由交易服务作废。
func (a *ActivityHTTPAdapter) CreateTransaction(ctx context.Context, orderID, paymentID string) (string, error) {
	var resp struct {
		TransactionID string `json:"transactionId"`
	}
	err := a.client.PostJSON(ctx, a.chainURL+"/api/transactions", map[string]any{
		"orderId":        orderID,
		"paymentId":      paymentID,
		"idempotencyKey": orderID + ":txn",
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "create transaction")
	}
	if resp.TransactionID == "" {
		return "", errors.New("chain service returned empty transactionId")
	}
	return resp.TransactionID, nil
}

// SubmitAndConfirmTransaction 提交交易并等待链上确认。
// 这是分钟级的长操作：先发起提交，然后轮询确认状态直到出结论，
// 每轮上报一次心跳让看门狗知道这里还活着。
func (a *ActivityHTTPAdapter) SubmitAndConfirmTransaction(ctx context.Context, transactionID string, beat func()) (bool, error) {
	err := a.client.PostJSON(ctx, a.chainURL+"/api/transactions/submit", map[string]any{
		"transactionId": transactionID,
	}, nil)
	if err != nil {
		return false, errors.Wrap(err, "submit transaction")
	}
	beat()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
		beat()

		var resp struct {
			Status string `json:"status"` // PENDING / CONFIRMED / FAILED
		}
		err := a.client.PostJSON(ctx, a.chainURL+"/api/transactions/status", map[string]any{
			"transactionId": transactionID,
		}, &resp)
		if err != nil {
			// 单次轮询失败不终止等待，下一轮再试
			logger.Ctx(ctx).Warn().Err(err).Str("transaction_id", transactionID).Msg("poll transaction status failed")
			continue
		}

		switch resp.Status {
		case "CONFIRMED":
			return true, nil
		case "FAILED":
			return false, nil
		}
	}
}
