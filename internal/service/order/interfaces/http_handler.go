// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"fulfil/internal/pkg/logger"
	"fulfil/internal/service/order/application"
	"fulfil/internal/service/order/domain"
)

const serviceName = "order-service"

// OrderHandler 封装订单 saga 的 HTTP 处理器。
type OrderHandler struct {
	service *application.OrderApplicationService
	router  *application.SignalRouter
}

// NewOrderHandler 创建 HTTP 处理器实例。
func NewOrderHandler(service *application.OrderApplicationService, router *application.SignalRouter) *OrderHandler {
	return &OrderHandler{service: service, router: router}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("POST /api/orders/{id}/signals/{name}", h.deliverSignal)
	mux.HandleFunc("GET /api/orders/{id}/journal", h.getJournal)
	mux.HandleFunc("GET /api/orders/{id}/watch", h.watchOrder)
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.CreateOrder")
	defer span.End()

	var req struct {
		OrderID string `json:"orderId"`
	}
	if r.Body != nil {
		// 请求体可以为空，订单号缺省时由服务端生成
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	snap, err := h.service.StartOrder(ctx, req.OrderID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, application.ErrAlreadyStarted) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(snap)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	snap, err := h.service.QueryStatus(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownOrder) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (h *OrderHandler) deliverSignal(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.DeliverSignal")
	defer span.End()

	orderID := r.PathValue("id")
	name := r.PathValue("name")
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("signal.name", name),
	)

	payload := map[string]any{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
	}

	if err := h.router.Route(ctx, orderID, name, payload); err != nil {
		span.RecordError(err)
		writeSignalError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeSignalError 把路由层错误翻译成 HTTP 状态码。
// terminated 带上终态，客户端据此停止重试。
func writeSignalError(w http.ResponseWriter, err error) {
	var terminated *domain.TerminatedError
	switch {
	case errors.As(err, &terminated):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "instance terminated",
			"status": string(terminated.Status),
		})
	case errors.Is(err, domain.ErrUnknownOrder):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, application.ErrUnknownSignal):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (h *OrderHandler) getJournal(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	entries, ok := h.service.Journal(orderID)
	if !ok {
		http.Error(w, "no live instance for order", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *OrderHandler) watchOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	// 先订阅再查询，避免两步之间终结的实例漏掉关闭通知；
	// 未知订单在升级前就拒绝，不白占 websocket
	updates, cancel := h.service.Watch(orderID)
	snap, err := h.service.QueryStatus(r.Context(), orderID)
	if err != nil {
		cancel()
		if errors.Is(err, domain.ErrUnknownOrder) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	go h.streamSnapshots(conn, orderID, snap, updates, cancel)
}
