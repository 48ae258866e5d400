// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fulfil/internal/pkg/logger"
	"fulfil/internal/tracing"
)

// AppCtx 传给路由注册回调，服务在这里挂自己的 HTTP 端点。
type AppCtx struct {
	Mux    *http.ServeMux
	Config Config
}

// AppInfo 描述一个服务进程：名字、端口、路由注册和退出清理。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)
	// OnShutdown 在 HTTP 服务器停止后执行，用于释放服务自己的资源。
	OnShutdown func(ctx context.Context)
}

// StartService 封装所有服务进程的通用启动和优雅关停流程：
// 日志、追踪、HTTP 服务器、SIGINT/SIGTERM 处理。阻塞到进程退出。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	logger.Init(info.ServiceName, cfg.App.LogLevel)

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("initialize tracer provider failed")
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error().Err(err).Msg("http server shutdown failed")
		}
		if info.OnShutdown != nil {
			info.OnShutdown(shutdownCtx)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error().Err(err).Msg("tracer provider shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Logger.Fatal().Err(err).Msg("service exited with error")
	}
	logger.Logger.Info().Msg("service gracefully shut down")
}
