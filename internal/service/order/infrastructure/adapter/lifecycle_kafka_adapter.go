// internal/service/order/infrastructure/adapter/lifecycle_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"fulfil/internal/pkg/mq"
	"fulfil/internal/service/order/domain"
)

// LifecycleKafkaAdapter 是 port.LifecycleNotifier 的 Kafka 实现。
// 以订单号为 key 保证同一订单的事件落在同一分区，消费侧按序可见。
type LifecycleKafkaAdapter struct {
	writer *kafka.Writer
}

func NewLifecycleKafkaAdapter(writer *kafka.Writer) *LifecycleKafkaAdapter {
	return &LifecycleKafkaAdapter{writer: writer}
}

func (a *LifecycleKafkaAdapter) NotifyStatusChanged(ctx context.Context, ev domain.StatusChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal lifecycle event")
	}
	if err := mq.ProduceMessage(ctx, a.writer, []byte(ev.OrderID), payload); err != nil {
		return errors.Wrap(err, "produce lifecycle event")
	}
	return nil
}
