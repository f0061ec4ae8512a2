package payment

import (
	"time"

	"storefront_payments/internal/domain/payment/gateway"
	"storefront_payments/internal/domain/payment/handler"
	"storefront_payments/internal/domain/payment/model"
	"storefront_payments/internal/domain/payment/repository"
	"storefront_payments/internal/domain/payment/service"
	"storefront_payments/internal/pkg/config"
	"storefront_payments/internal/pkg/middleware"
	"storefront_payments/internal/pkg/registry"
	"storefront_payments/pkg/logger"
	"storefront_payments/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// 回调去重台账保留 30 天，覆盖网关的重试窗口
const eventLedgerRetention = 30 * 24 * time.Hour

// PaymentModule 支付模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	return 10
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	cfg := config.GlobalConfig

	// 1. 依赖注入
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	orders := repository.NewOrderRepository(ctx.DB)

	var ledger repository.EventLedger
	if ctx.Redis != nil {
		ledger = repository.NewRedisEventLedger(ctx.Redis, eventLedgerRetention)
	} else {
		// 本地联调没有 Redis 时退回进程内台账
		logger.Log.Warn("redis not configured, webhook dedupe ledger will not survive restarts")
		ledger = repository.NewMemoryEventLedger()
	}

	// token 缓存按进程构造一份，注入给需要 Bearer 鉴权的适配器
	tokens := gateway.NewTokenCache()

	hosted := gateway.NewHostedCheckoutAdapter(cfg.HostedGateway, paymentMetrics)
	direct := gateway.NewDirectCaptureAdapter(cfg.DirectGateway, tokens, paymentMetrics)

	reconciler := service.NewReconciler(orders, hosted, paymentMetrics)

	svc := service.NewPaymentService(reconciler, orders, paymentMetrics)
	if cfg.HostedGateway.APIKey != "" {
		svc.RegisterGateway(model.ChannelHosted, hosted)
	} else {
		logger.Log.Warn("hosted gateway not configured, channel disabled")
	}
	if cfg.DirectGateway.ClientID != "" {
		svc.RegisterGateway(model.ChannelDirect, direct)
	} else {
		logger.Log.Warn("direct gateway not configured, channel disabled")
	}

	ingestor := service.NewWebhookIngestor([]byte(cfg.HostedGateway.WebhookSecret), ledger, reconciler, paymentMetrics)

	h := handler.NewPaymentHandler(svc, ingestor)

	// 2. 路由注册
	setupRoutes(ctx.Router, h)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.PaymentHandler) {
	g := r.Group("/payment")

	// 网关回调（无需鉴权，靠验签；不限流，网关重试不能被挡掉）
	g.POST("/webhook/hosted", h.HostedWebhook)

	// 店面侧接口
	auth := g.Group("")
	auth.Use(middleware.RateLimitMiddleware(), middleware.AuthMiddleware())
	{
		auth.POST("/checkout", h.CreateCheckout)
		auth.POST("/capture", h.Capture)
		auth.GET("/orders/:ref", h.GetOrder)
	}

	// 管理端接口
	admin := g.Group("")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.GET("/orders", h.ListOrders)
		admin.POST("/orders/:ref/refund", h.Refund)
	}
}
