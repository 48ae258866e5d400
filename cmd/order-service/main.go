// cmd/order-service/main.go
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

const serviceName = "order-service"

// main 是组装根：创建并组装所有依赖项，然后启动应用。
// HTTP 入口的 saga 宿主；纯 Kafka 驱动的宿主见 cmd/order-worker。
func main() {
	cfg := bootstrap.GetCurrentConfig()

	var appSvc *application.OrderApplicationService

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8080,
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

			handler := interfaces.NewOrderHandler(appSvc, router)
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			if appSvc != nil {
				appSvc.Shutdown()
			}
		},
	})
}
