// internal/service/order/application/router_test.go
package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfil/internal/service/order/domain"
)

func TestRouteStartSignalIsIdempotent(t *testing.T) {
	f := newFixture(t, &stubGateway{})
	r := NewSignalRouter(f.svc)
	ctx := context.Background()

	require.NoError(t, r.Route(ctx, "order-1", SignalStartOrder, nil))
	// at-least-once 投递下重复的 start 不是错误
	require.NoError(t, r.Route(ctx, "order-1", SignalStartOrder, nil))

	snap, err := f.svc.QueryStatus(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusPending), snap.Status)
}

func TestRouteSubmitPaymentSignal(t *testing.T) {
	f := newFixture(t, &stubGateway{})
	r := NewSignalRouter(f.svc)
	ctx := context.Background()

	require.NoError(t, r.Route(ctx, "order-1", SignalStartOrder, nil))
	require.NoError(t, r.Route(ctx, "order-1", domain.EventSubmitPayment,
		map[string]any{"paymentInfo": "card:4242"}))

	snap, err := f.svc.QueryStatus(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusOrderSubmitted), snap.Status)
	assert.Equal(t, "pay-1", snap.PaymentID)
}

func TestRoutePaymentResultSignal(t *testing.T) {
	f := newFixture(t, &stubGateway{})
	r := NewSignalRouter(f.svc)
	ctx := context.Background()

	require.NoError(t, r.Route(ctx, "order-1", SignalStartOrder, nil))
	require.NoError(t, r.Route(ctx, "order-1", domain.EventSubmitPayment,
		map[string]any{"paymentInfo": "card:4242"}))
	require.NoError(t, r.Route(ctx, "order-1", domain.EventPaymentResult,
		map[string]any{"success": false}))

	snap, err := f.svc.QueryStatus(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusPaymentFailed), snap.Status)
}

func TestRouteUnknownSignalName(t *testing.T) {
	f := newFixture(t, &stubGateway{})
	r := NewSignalRouter(f.svc)

	err := r.Route(context.Background(), "order-1", "order.cancel", nil)
	assert.ErrorIs(t, err, ErrUnknownSignal)
}

func TestRouteRejectsInvalidPayloadBeforeDelivery(t *testing.T) {
	f := newFixture(t, &stubGateway{})
	r := NewSignalRouter(f.svc)
	ctx := context.Background()

	require.NoError(t, r.Route(ctx, "order-1", SignalStartOrder, nil))

	// 缺 paymentInfo：入口处拒绝，事件不进邮箱
	err := r.Route(ctx, "order-1", domain.EventSubmitPayment, map[string]any{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownSignal)

	snap,qerr := f.svc.QueryStatus(ctx, "order-1")
	require.NoError(t, qerr)
	assert.Equal(t, string(domain.StatusPending), snap.Status)
}

func TestRouteSignalForUnknownOrder(t *testing.T) {
	f := newFixture(t, &stubGateway{})
	r := NewSignalRouter(f.svc)

	err := r.Route(context.Background(), "nope", domain.EventPaymentResult,
		map[string]any{"success": true})
	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
}
