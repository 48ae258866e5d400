// cmd/order-worker/main.go
package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"fulfil/internal/durable"
	"fulfil/internal/pkg/bootstrap"
	"fulfil/internal/pkg/httpclient"
	"fulfil/internal/pkg/logger"
	"fulfil/internal/pkg/mq"
	"fulfil/internal/pkg/redis"
	"fulfil/internal/service/order/application"
	"fulfil/internal/service/order/application/saga"
	"fulfil/internal/service/order/infrastructure"
	"fulfil/internal/service/order/infrastructure/adapter"
	"fulfil/internal/service/order/interfaces"
	"fulfil/internal/statechart"
	"fulfil/internal/zookeeper"
)

const serviceName = "order-worker"

// main 组装纯 Kafka 驱动的 saga 宿主：信号主题按订单号分区，
// 同一订单的 start 和后续信号落在同一个 worker 进程。
// HTTP 面只保留健康检查、指标和只读查询。
func main() {
	cfg := bootstrap.GetCurrentConfig()

	var (
		appSvc   *application.OrderApplicationService
		consumer *infrastructure.SignalConsumerAdapter
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8082,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			tracer := otel.Tracer(serviceName)

			db, err := infrastructure.OpenMysql(cfg.Infra.Mysql.DSN)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("open mysql failed")
			}
			repo := infrastructure.NewGormOrderRepository(db)

			redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("connect redis failed")
			}
			registry := adapter.NewRegistryRedisAdapter(redisClient)

			zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("connect zookeeper failed")
			}
			locks := adapter.NewZkLockFactory(zkConn)

			lifecycleWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.LifecycleTopic)
			notifier := adapter.NewLifecycleKafkaAdapter(lifecycleWriter)

			gateway := adapter.NewActivityHTTPAdapter(
				httpclient.NewClient(tracer),
				cfg.Services.PaymentURL,
				cfg.Services.ChainURL,
			)
			exec := durable.NewExecutor(logger.Logger)
			acts := saga.NewActivities(gateway, exec, 30*time.Second, saga.DefaultTimeouts.Fulfil)

			appSvc = application.NewOrderApplicationService(
				durable.WallClock{},
				statechart.GoRunner(),
				acts,
				saga.DefaultTimeouts,
				repo,
				registry,
				notifier,
				locks,
				tracer,
			)
			router := application.NewSignalRouter(appSvc)

			signalReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.SignalTopic, cfg.Infra.Kafka.SignalGroupID)
			consumer = infrastructure.NewSignalConsumerAdapter(signalReader, router, registry)
			consumer.Start(context.Background())

			// 只读查询沿用 HTTP 处理器，写路径全部走信号主题
			handler := interfaces.NewOrderHandler(appSvc, router)
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			if consumer != nil {
				consumer.Stop()
			}
			if appSvc != nil {
				appSvc.Shutdown()
			}
		},
	})
}
