// internal/service/order/application/service.go
package application

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fulfil/internal/durable"
	"fulfil/internal/pkg/logger"
	"fulfil/internal/service/order/application/saga"
	"fulfil/internal/service/order/domain"
	"fulfil/internal/service/order/domain/port"
	"fulfil/internal/statechart"
)

// ErrAlreadyStarted 表示同一订单号重复发起 saga。
var ErrAlreadyStarted = errors.New("order: saga already started")

// instance 是一个在跑的 saga 实例：解释器 + 事件日志 + 执行锁。
type instance struct {
	orderID string
	interp  *statechart.Interpreter[domain.OrderState]
	journal *durable.Journal
	lock    port.ExecutionLock
}

// OrderApplicationService 托管 saga 实例：创建、信号投递、状态查询。
// 不同订单的实例完全独立并发运行；单个实例内部由解释器的邮箱纪律
// 保证事件不交叠。
type OrderApplicationService struct {
	sub      durable.Substrate
	runner   statechart.TaskRunner
	acts     *saga.Activities
	timeouts saga.Timeouts

	repo     domain.OrderRepository
	registry port.InstanceRegistry
	notifier port.LifecycleNotifier
	locks    port.LockFactory
	tracer   trace.Tracer

	mu        sync.RWMutex
	instances map[string]*instance

	watch *watchHub
}

func NewOrderApplicationService(
	sub durable.Substrate,
	runner statechart.TaskRunner,
	acts *saga.Activities,
	timeouts saga.Timeouts,
	repo domain.OrderRepository,
	registry port.InstanceRegistry,
	notifier port.LifecycleNotifier,
	locks port.LockFactory,
	tracer trace.Tracer,
) *OrderApplicationService {
	return &OrderApplicationService{
		sub:       sub,
		runner:    runner,
		acts:      acts,
		timeouts:  timeouts,
		repo:      repo,
		registry:  registry,
		notifier:  notifier,
		locks:     locks,
		tracer:    tracer,
		instances: make(map[string]*instance),
		watch:     newWatchHub(),
	}
}

// StartOrder 为一个订单号启动 saga 实例并进入初始状态。
// 执行锁保证跨进程同一订单只有一个活跃解释器。
func (s *OrderApplicationService) StartOrder(ctx context.Context, orderID string) (domain.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "app.StartOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	s.mu.Lock()
	if _, dup := s.instances[orderID]; dup {
		s.mu.Unlock()
		return domain.Snapshot{}, ErrAlreadyStarted
	}
	// 先占位，拿锁失败再回滚，避免并发 StartOrder 竞争同一个订单号
	s.instances[orderID] = nil
	s.mu.Unlock()

	lock := s.locks.NewLock(orderID)
	if err := lock.Lock(); err != nil {
		s.evict(orderID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire execution lock")
		return domain.Snapshot{}, errors.Wrapf(err, "acquire execution lock for %s", orderID)
	}

	chart := saga.NewChart(s.acts, s.timeouts, s.sub.Now)
	initial := domain.NewOrderState(orderID, s.sub.Now())

	interp, err := statechart.New(chart, initial,
		statechart.WithClock[domain.OrderState](durable.NewClockAdapter(s.sub)),
		statechart.WithRunner[domain.OrderState](s.runner),
		statechart.WithLogger[domain.OrderState](logger.Logger.With().Str("order_id", orderID).Logger()),
		statechart.WithObserver[domain.OrderState](func(label string, c domain.OrderState) {
			s.onTransition(orderID, c)
		}),
	)
	if err != nil {
		_ = lock.Unlock()
		s.evict(orderID)
		span.RecordError(err)
		return domain.Snapshot{}, errors.Wrap(err, "build interpreter")
	}

	inst := &instance{
		orderID: orderID,
		interp:  interp,
		journal: durable.NewJournal(),
		lock:    lock,
	}

	s.mu.Lock()
	s.instances[orderID] = inst
	s.mu.Unlock()
	activeSagas.Inc()

	interp.Start()

	// 终态回收：释放锁并从实例表摘除；查询此后走读模型
	go func() {
		<-interp.Done()
		s.finish(inst)
	}()

	span.AddEvent("saga instance started")
	return interp.Context().Snapshot(), nil
}

// Deliver 把一个已解码的事件投递给实例，并记入事件日志。
// 实例不存在时区分 unknown 与 terminated 两种拒绝。
func (s *OrderApplicationService) Deliver(ctx context.Context, orderID string, ev statechart.Event) error {
	s.mu.RLock()
	inst := s.instances[orderID]
	s.mu.RUnlock()

	if inst == nil {
		return s.rejection(ctx, orderID)
	}

	inst.journal.Append(s.sub.Now(), ev)
	inst.interp.Send(ev)
	return nil
}

// QueryStatus 读取实例的当前状态快照。
// 活跃实例直接读解释器上下文；已终结的实例回落到快照仓储。
func (s *OrderApplicationService) QueryStatus(ctx context.Context, orderID string) (domain.Snapshot, error) {
	s.mu.RLock()
	inst := s.instances[orderID]
	s.mu.RUnlock()

	if inst != nil {
		return inst.interp.Context().Snapshot(), nil
	}

	state, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return state.Snapshot(), nil
}

// Journal 暴露实例的事件历史（重放与诊断用）。
func (s *OrderApplicationService) Journal(orderID string) ([]durable.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst := s.instances[orderID]
	if inst == nil {
		return nil, false
	}
	return inst.journal.Entries(), true
}

// Watch 订阅一个订单的状态变化流（websocket 推送用）。
func (s *OrderApplicationService) Watch(orderID string) (<-chan domain.Snapshot, func()) {
	return s.watch.subscribe(orderID)
}

// rejection 把对不存在实例的信号翻译成可区分的拒绝。
func (s *OrderApplicationService) rejection(ctx context.Context, orderID string) error {
	status, err := s.registry.GetStatus(ctx, orderID)
	if err == nil && status.IsTerminal() {
		signalRejections.WithLabelValues("terminated").Inc()
		return &domain.TerminatedError{Status: status}
	}
	// 注册表查不到就再看读模型（终态保留窗口可能比注册表 TTL 长）
	if state, rerr := s.repo.FindByID(ctx, orderID); rerr == nil && state.Status.IsTerminal() {
		signalRejections.WithLabelValues("terminated").Inc()
		return &domain.TerminatedError{Status: state.Status}
	}
	signalRejections.WithLabelValues("unknown").Inc()
	return domain.ErrUnknownOrder
}

// onTransition 在解释器每次转移后执行：推进读模型、实例注册表、
// 生命周期事件和推送流。失败只记录，不打断 saga。
func (s *OrderApplicationService) onTransition(orderID string, c domain.OrderState) {
	ctx := context.Background()
	sagaTransitions.WithLabelValues(string(c.Status)).Inc()

	if err := s.repo.Save(ctx, c); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("save order snapshot failed")
	}
	if err := s.registry.PutStatus(ctx, orderID, c.Status); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("update instance registry failed")
	}
	if err := s.notifier.NotifyStatusChanged(ctx, domain.StatusChanged{
		OrderID:       orderID,
		Status:        string(c.Status),
		PaymentID:     c.PaymentID,
		TransactionID: c.TransactionID,
		RefundFailed:  c.RefundFailed,
	}); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("publish lifecycle event failed")
	}
	if c.Status == domain.StatusRefunded && c.RefundFailed {
		logger.Ctx(ctx).Warn().Str("order_id", orderID).Msg("refund activity failed but saga settled as REFUNDED, needs reconciliation")
	}

	s.watch.publish(orderID, c.Snapshot())
}

func (s *OrderApplicationService) finish(inst *instance) {
	if err := inst.lock.Unlock(); err != nil {
		logger.Logger.Error().Err(err).Str("order_id", inst.orderID).Msg("release execution lock failed")
	}
	s.evict(inst.orderID)
	s.watch.close(inst.orderID)
	activeSagas.Dec()
}

func (s *OrderApplicationService) evict(orderID string) {
	s.mu.Lock()
	delete(s.instances, orderID)
	s.mu.Unlock()
}

// Shutdown 停止所有活跃实例（进程退出前调用）。
func (s *OrderApplicationService) Shutdown() {
	s.mu.Lock()
	insts := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if inst != nil {
			insts = append(insts, inst)
		}
	}
	s.mu.Unlock()

	for _, inst := range insts {
		inst.interp.Stop()
	}
}
