// internal/service/order/application/saga/chart_test.go
package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfil/internal/durable"
	"fulfil/internal/service/order/domain"
	"fulfil/internal/service/order/domain/port"
	"fulfil/internal/statechart"
)

var sagaStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeGateway 是可编排的活动网关。错误用 NonRetryable 包装，
// 让测试不经过执行器的退避等待。
type fakeGateway struct {
	mu sync.Mutex

	createOK  bool
	createErr error

	paymentID string
	submitErr error

	payStatuses []port.PaymentStatus
	polls       int

	txnID    string
	txnErr   error
	txnCalls int

	confirmOK  bool
	confirmErr error
	// 按次消费的确认错误序列，耗尽后回到 confirmOK/confirmErr
	confirmErrs []error

	refundOK  bool
	refundErr error
	refunds   int

	// 置闸后确认调用在此阻塞，用于在确认进行中投递外部信号
	confirmGate    chan struct{}
	confirmStarted chan struct{}
}

func happyGateway() *fakeGateway {
	return &fakeGateway{
		createOK:  true,
		paymentID: "pay-1",
		txnID:     "txn-1",
		confirmOK: true,
		refundOK:  true,
	}
}

func (g *fakeGateway) CreateOrderIntent(ctx context.Context, orderID string) (bool, error) {
	return g.createOK, g.createErr
}

func (g *fakeGateway) SubmitPayment(ctx context.Context, orderID, paymentInfo string) (string, error) {
	if g.submitErr != nil {
		return "", g.submitErr
	}
	return g.paymentID, nil
}

func (g *fakeGateway) GetPaymentStatus(ctx context.Context, paymentID string) (port.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	if len(g.payStatuses) == 0 {
		return port.PaymentStatusInconclusive, nil
	}
	s := g.payStatuses[0]
	if len(g.payStatuses) > 1 {
		g.payStatuses = g.payStatuses[1:]
	}
	return s, nil
}

func (g *fakeGateway) CreateTransaction(ctx context.Context, orderID, paymentID string) (string, error) {
	g.mu.Lock()
	g.txnCalls++
	g.mu.Unlock()
	if g.txnErr != nil {
		return "", g.txnErr
	}
	return g.txnID, nil
}

func (g *fakeGateway) SubmitAndConfirmTransaction(ctx context.Context, transactionID string, beat func()) (bool, error) {
	beat()
	g.mu.Lock()
	if len(g.confirmErrs) > 0 {
		err := g.confirmErrs[0]
		g.confirmErrs = g.confirmErrs[1:]
		g.mu.Unlock()
		return false, err
	}
	g.mu.Unlock()
	if g.confirmGate != nil {
		select {
		case g.confirmStarted <- struct{}{}:
		default:
		}
		select {
		case <-g.confirmGate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return g.confirmOK, g.confirmErr
}

func (g *fakeGateway) RefundPayment(ctx context.Context, orderID, paymentID string) (bool, error) {
	g.mu.Lock()
	g.refunds++
	g.mu.Unlock()
	return g.refundOK, g.refundErr
}

// harness 把逻辑时钟、解释器和事件历史绑在一起跑确定性场景。
type harness struct {
	clk      *durable.LogicalClock
	interp   *statechart.Interpreter[domain.OrderState]
	journal  *durable.Journal
	labels   []string
	statuses []domain.Status
}

func newHarness(t *testing.T, gw port.ActivityGateway) *harness {
	t.Helper()
	h := &harness{
		clk:     durable.NewLogicalClock(sagaStart),
		journal: durable.NewJournal(),
	}

	exec := durable.NewExecutor(zerolog.Nop())
	acts := NewActivities(gw, exec, time.Second, time.Minute)
	chart := NewChart(acts, DefaultTimeouts, h.clk.Now)

	interp, err := statechart.New(chart, domain.NewOrderState("order-1", h.clk.Now()),
		statechart.WithClock[domain.OrderState](durable.NewClockAdapter(h.clk)),
		statechart.WithRunner[domain.OrderState](statechart.SyncRunner{}),
		statechart.WithObserver[domain.OrderState](func(label string, c domain.OrderState) {
			h.labels = append(h.labels, label)
			h.statuses = append(h.statuses, c.Status)
		}),
	)
	require.NoError(t, err)
	h.interp = interp
	return h
}

func (h *harness) send(ev statechart.Event) {
	h.journal.Append(h.clk.Now(), ev)
	h.interp.Send(ev)
}

func (h *harness) submitPayment() {
	h.send(statechart.Event{
		Name: domain.EventSubmitPayment,
		Data: map[string]any{"paymentInfo": "card:4242"},
	})
}

func (h *harness) status() domain.Status {
	return h.interp.Context().Status
}

func TestSagaHappyPathWithPaymentSignal(t *testing.T) {
	h := newHarness(t, happyGateway())
	h.interp.Start()
	require.Equal(t, domain.StatusPending, h.status())

	h.submitPayment()
	require.Equal(t, domain.StatusOrderSubmitted, h.status())
	require.Equal(t, "ORDER_SUBMITTED", h.interp.CurrentLabel())

	h.send(statechart.Event{Name: domain.EventPaymentResult, Data: map[string]any{"success": true}})

	assert.Equal(t, domain.StatusFulfilSuccess, h.status())
	assert.Equal(t, "pay-1", h.interp.Context().PaymentID)
	assert.Equal(t, "txn-1", h.interp.Context().TransactionID)
	assert.Contains(t, h.labels, "TXN_CREATED")
	select {
	case <-h.interp.Done():
	default:
		t.Fatal("terminal state must close Done")
	}
}

func TestSagaPolledPaymentSuccess(t *testing.T) {
	gw := happyGateway()
	gw.payStatuses = []port.PaymentStatus{port.PaymentStatusInconclusive, port.PaymentStatusSucceeded}
	h := newHarness(t, gw)
	h.interp.Start()
	h.submitPayment()

	// 第一次轮询未决，回到等待再计时
	h.clk.Advance(DefaultTimeouts.PollInterval)
	require.Equal(t, domain.StatusOrderSubmitted, h.status())

	h.clk.Advance(DefaultTimeouts.PollInterval)
	assert.Equal(t, domain.StatusFulfilSuccess, h.status())
	assert.Equal(t, 2, gw.polls)
}

func TestSagaPolledPaymentFailure(t *testing.T) {
	gw := happyGateway()
	gw.payStatuses = []port.PaymentStatus{port.PaymentStatusFailed}
	h := newHarness(t, gw)
	h.interp.Start()
	h.submitPayment()

	h.clk.Advance(DefaultTimeouts.PollInterval)
	assert.Equal(t, domain.StatusPaymentFailed, h.status())
}

func TestSagaOrderTimeoutIsPermanent(t *testing.T) {
	h := newHarness(t, happyGateway())
	h.interp.Start()

	h.clk.Advance(DefaultTimeouts.SubmitPayment)
	require.Equal(t, domain.StatusOrderTimeout, h.status())

	// 迟到的提交对已终结的实例无效
	h.submitPayment()
	assert.Equal(t, domain.StatusOrderTimeout, h.status())
}

func TestSagaPaymentTimeoutWhileInconclusive(t *testing.T) {
	gw := happyGateway()
	gw.payStatuses = []port.PaymentStatus{port.PaymentStatusInconclusive}
	h := newHarness(t, gw)
	h.interp.Start()
	h.submitPayment()

	h.clk.Advance(DefaultTimeouts.PaymentResult)
	assert.Equal(t, domain.StatusPaymentTimeout, h.status())
	assert.Greater(t, gw.polls, 0, "polling should have run before the composite deadline")
}

func TestSagaCreateIntentRejected(t *testing.T) {
	gw := happyGateway()
	gw.createOK = false
	h := newHarness(t, gw)
	h.interp.Start()

	assert.Equal(t, domain.StatusCreateFailed, h.status())
}

func TestSagaCreateIntentError(t *testing.T) {
	gw := happyGateway()
	gw.createErr = durable.NonRetryable(errors.New("downstream gone"))
	h := newHarness(t, gw)
	h.interp.Start()

	assert.Equal(t, domain.StatusCreateFailed, h.status())
}

func TestSagaSubmitPaymentErrorFailsOrder(t *testing.T) {
	gw := happyGateway()
	gw.submitErr = durable.NonRetryable(errors.New("invalid payment info"))
	h := newHarness(t, gw)
	h.interp.Start()
	h.submitPayment()

	assert.Equal(t, domain.StatusOrderFailed, h.status())
}

func TestSagaPaymentFailedSignal(t *testing.T) {
	h := newHarness(t, happyGateway())
	h.interp.Start()
	h.submitPayment()

	h.send(statechart.Event{Name: domain.EventPaymentResult, Data: map[string]any{"success": false}})
	assert.Equal(t, domain.StatusPaymentFailed, h.status())
}

func TestSagaConfirmFailureRefunds(t *testing.T) {
	gw := happyGateway()
	gw.confirmOK = false
	h := newHarness(t, gw)
	h.interp.Start()
	h.submitPayment()
	h.send(statechart.Event{Name: domain.EventPaymentResult, Data: map[string]any{"success": true}})

	assert.Equal(t, domain.StatusRefunded, h.status())
	assert.False(t, h.interp.Context().RefundFailed)
	assert.Equal(t, 1, gw.refunds)
}

// 确认提交失败时回到重建交易。回跳之后查询读到的状态必须重新变成
// FULFILLING，和当前配置的标签保持一致，不能停留在 TXN_CREATED。
func TestSagaConfirmErrorRebuildsTransaction(t *testing.T) {
	gw := happyGateway()
	gw.confirmErrs = []error{durable.NonRetryable(errors.New("nonce expired"))}
	h := newHarness(t, gw)
	h.interp.Start()
	h.submitPayment()
	h.send(statechart.Event{Name: domain.EventPaymentResult, Data: map[string]any{"success": true}})

	assert.Equal(t, domain.StatusFulfilSuccess, h.status())
	assert.Equal(t, 2, gw.txnCalls, "failed confirm must rebuild the transaction")

	// 整条路径上每次转移后，上下文状态都等于状态标签
	require.Equal(t, len(h.labels), len(h.statuses))
	for i := range h.labels {
		assert.Equal(t, h.labels[i], string(h.statuses[i]))
	}

	// 回跳本身可见：TXN_CREATED 之后紧跟着重建中的 FULFILLING
	first := -1
	for i, s := range h.statuses {
		if s == domain.StatusTxnCreated {
			first = i
			break
		}
	}
	require.GreaterOrEqual(t, first, 0)
	require.Less(t, first+1, len(h.statuses))
	assert.Equal(t, domain.StatusFulfilling, h.statuses[first+1])
}

func TestSagaCreateTransactionErrorRefunds(t *testing.T) {
	gw := happyGateway()
	gw.txnErr = durable.NonRetryable(errors.New("chain unavailable"))
	h := newHarness(t, gw)
	h.interp.Start()
	h.submitPayment()
	h.send(statechart.Event{Name: domain.EventPaymentResult, Data: map[string]any{"success": true}})

	// 支付已捕获：创建交易失败必须走补偿而不是直接失败
	assert.Equal(t, domain.StatusRefunded, h.status())
}

func TestSagaRefundFailureStillSettlesRefunded(t *testing.T) {
	gw := happyGateway()
	gw.confirmOK = false
	gw.refundOK = false
	h := newHarness(t, gw)
	h.interp.Start()
	h.submitPayment()
	h.send(statechart.Event{Name: domain.EventPaymentResult, Data: map[string]any{"success": true}})

	assert.Equal(t, domain.StatusRefunded, h.status())
	assert.True(t, h.interp.Context().RefundFailed, "failed refund leaves a reconciliation trace")
}

// 确认进行中收到结论性的交易结果信号：信号立即决定走向，
// 被打断的确认调用结果作废。异步 runner 下验证真实的并发路径。
func TestSagaTransactionResultSignalDuringConfirm(t *testing.T) {
	gw := happyGateway()
	gw.confirmGate = make(chan struct{})
	gw.confirmStarted = make(chan struct{}, 1)
	defer close(gw.confirmGate)

	clk := durable.NewLogicalClock(sagaStart)
	acts := NewActivities(gw, durable.NewExecutor(zerolog.Nop()), time.Minute, time.Minute)
	interp, err := statechart.New(NewChart(acts, DefaultTimeouts, clk.Now), domain.NewOrderState("order-1", clk.Now()),
		statechart.WithClock[domain.OrderState](durable.NewClockAdapter(clk)),
	)
	require.NoError(t, err)
	interp.Start()

	waitStatus := func(want domain.Status) {
		t.Helper()
		require.Eventually(t, func() bool { return interp.Context().Status == want },
			2*time.Second, 5*time.Millisecond)
	}

	waitStatus(domain.StatusPending)
	interp.Send(statechart.Event{
		Name: domain.EventSubmitPayment,
		Data: map[string]any{"paymentInfo": "card:4242"},
	})
	waitStatus(domain.StatusOrderSubmitted)
	interp.Send(statechart.Event{Name: domain.EventPaymentResult, Data: map[string]any{"success": true}})

	select {
	case <-gw.confirmStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("confirm activity did not start")
	}

	interp.Send(statechart.Event{Name: domain.EventTransactionResult, Data: map[string]any{"success": false}})
	waitStatus(domain.StatusRefunded)
	assert.False(t, interp.Context().RefundFailed)
}

func TestSagaSignalOutcomeSurvivesLaterTimers(t *testing.T) {
	h := newHarness(t, happyGateway())
	h.interp.Start()
	h.submitPayment()
	h.send(statechart.Event{Name: domain.EventPaymentResult, Data: map[string]any{"success": true}})
	require.Equal(t, domain.StatusFulfilSuccess, h.status())

	// 所有挂起的期限定时器都已取消，时间继续前进不改变终态
	h.clk.Advance(time.Hour)
	assert.Equal(t, domain.StatusFulfilSuccess, h.status())
}

func TestSagaReplayReproducesOutcome(t *testing.T) {
	run := func() (*harness, *fakeGateway) {
		gw := happyGateway()
		gw.payStatuses = []port.PaymentStatus{port.PaymentStatusInconclusive, port.PaymentStatusSucceeded}
		h := newHarness(t, gw)
		return h, gw
	}

	// 首次执行：提交发生在 t+1s，支付结论靠轮询在 t+5s 得出
	h1, _ := run()
	h1.interp.Start()
	h1.clk.Advance(time.Second)
	h1.submitPayment()
	h1.clk.Advance(2 * DefaultTimeouts.PollInterval)
	require.Equal(t, domain.StatusFulfilSuccess, h1.status())
	final := h1.clk.Now()
	// 时间戳来自逻辑时钟：终态转移发生在第二次轮询的时刻
	require.True(t, h1.interp.Context().UpdatedAt.Equal(final))

	// 重放同一份事件历史：相同的时刻、相同的交织、相同的结局
	h2, _ := run()
	h2.interp.Start()
	durable.Replay(h2.clk, h2.interp.Send, h1.journal.Entries())
	h2.clk.AdvanceTo(final)

	assert.Equal(t, h1.status(), h2.status())
	assert.Equal(t, h1.interp.Context().PaymentID, h2.interp.Context().PaymentID)
	assert.Equal(t, h1.interp.Context().TransactionID, h2.interp.Context().TransactionID)
	assert.True(t, h1.interp.Context().UpdatedAt.Equal(h2.interp.Context().UpdatedAt),
		"replayed history must persist identical timestamps")
	assert.Equal(t, h1.labels, h2.labels)
}

func TestChartDeadlinesRouteToFailureEdges(t *testing.T) {
	chart := NewChart(NewActivities(happyGateway(), durable.NewExecutor(zerolog.Nop()), time.Second, time.Minute), DefaultTimeouts, time.Now)
	require.NoError(t, chart.Compile())

	pending := chart.States[StatePending]
	require.Len(t, pending.After, 1)
	assert.Equal(t, StateOrderTimeout, pending.After[0].Target)
	assert.Equal(t, DefaultTimeouts.SubmitPayment, pending.After[0].Delay)

	submitted := chart.States[StateOrderSubmitted]
	require.Len(t, submitted.After, 1)
	assert.Equal(t, StatePaymentTimeout, submitted.After[0].Target)
	assert.Equal(t, DefaultTimeouts.PaymentResult, submitted.After[0].Delay)

	fulfilling := chart.States[StateFulfilling]
	require.Len(t, fulfilling.After, 1)
	assert.Equal(t, StateRefunding, fulfilling.After[0].Target)
	assert.Equal(t, DefaultTimeouts.Fulfil, fulfilling.After[0].Delay)
}
