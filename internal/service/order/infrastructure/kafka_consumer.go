// internal/service/order/infrastructure/kafka_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"fulfil/internal/pkg/logger"
	"fulfil/internal/pkg/mq"
	"fulfil/internal/service/order/application"
	"fulfil/internal/service/order/domain/port"
)

// SignalMessage 是信号主题上的消息体。SignalID 由生产方生成，
// 用于消费侧对 at-least-once 投递去重。
type SignalMessage struct {
	SignalID string         `json:"signalId"`
	OrderID  string         `json:"orderId"`
	Name     string         `json:"name"`
	Payload  map[string]any `json:"payload"`
}

// SignalConsumerAdapter 监听信号主题并驱动信号路由器。
// HTTP 之外的第二条信号入口，供内部系统（支付回调网关等）投递。
type SignalConsumerAdapter struct {
	reader   *kafka.Reader
	router   *application.SignalRouter
	registry port.InstanceRegistry
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

func NewSignalConsumerAdapter(reader *kafka.Reader, router *application.SignalRouter, registry port.InstanceRegistry) *SignalConsumerAdapter {
	return &SignalConsumerAdapter{
		reader:   reader,
		router:   router,
		registry: registry,
	}
}

// Start 开始消费。长期运行，直到 Stop 或 ctx 取消。
func (a *SignalConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Logger.Info().Str("topic", a.reader.Config().Topic).Msg("signal consumer started")
		for {
			if a.stopped.Load() {
				return
			}
			// FetchMessage 而不是 ReadMessage，处理成功后才提交 offset
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Logger.Info().Msg("signal consumer shutting down")
					return
				}
				logger.Logger.Error().Err(err).Msg("fetch signal message failed")
				time.Sleep(time.Second)
				continue
			}

			a.processMessage(ctx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Logger.Error().Err(err).Msg("commit signal offset failed")
			}
		}
	}()
}

// Stop 优雅停止消费者。
func (a *SignalConsumerAdapter) Stop() {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
	logger.Logger.Info().Msg("signal consumer stopped")
}

func (a *SignalConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) {
	var sig SignalMessage
	if err := json.Unmarshal(msg.Value, &sig); err != nil {
		logger.Logger.Error().Err(err).Msg("unmarshal signal message failed, skipping")
		return
	}

	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := otel.GetTextMapPropagator().Extract(parentCtx, &carrier)
	log := logger.Ctx(ctx).With().Str("order_id", sig.OrderID).Str("signal", sig.Name).Logger()

	// 重复投递的信号直接丢弃
	if sig.SignalID != "" {
		fresh, err := a.registry.Reserve(ctx, "signal:"+sig.SignalID)
		if err != nil {
			log.Error().Err(err).Msg("reserve signal id failed, delivering anyway")
		} else if !fresh {
			log.Debug().Str("signal_id", sig.SignalID).Msg("duplicate signal dropped")
			return
		}
	}

	if err := a.router.Route(ctx, sig.OrderID, sig.Name, sig.Payload); err != nil {
		log.Warn().Err(err).Msg("signal rejected")
	}
}
