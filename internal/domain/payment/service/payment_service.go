package service

import (
	"context"
	"errors"
	"fmt"

	"storefront_payments/internal/domain/payment/gateway"
	"storefront_payments/internal/domain/payment/model"
	"storefront_payments/internal/domain/payment/repository"
	"storefront_payments/pkg/logger"
	"storefront_payments/pkg/metrics"

	"go.uber.org/zap"
)

// PaymentService 支付域对外服务
type PaymentService interface {
	CreateCheckout(ctx context.Context, channel string, req gateway.CheckoutRequest) (*gateway.ProviderSession, error)
	Capture(ctx context.Context, providerOrderID string) (*model.Order, error)
	GetOrder(ctx context.Context, providerReference string) (*model.Order, error)
	ListOrders(ctx context.Context, offset, limit int) ([]model.Order, int64, error)
	Refund(ctx context.Context, providerReference string) (*model.Order, error)
	RegisterGateway(channel string, gw gateway.Gateway)
}

type paymentService struct {
	gateways   map[string]gateway.Gateway
	reconciler *Reconciler
	orders     repository.OrderRepository
	m          *metrics.PaymentMetrics
}

func NewPaymentService(reconciler *Reconciler, orders repository.OrderRepository, m *metrics.PaymentMetrics) PaymentService {
	return &paymentService{
		gateways:   make(map[string]gateway.Gateway),
		reconciler: reconciler,
		orders:     orders,
		m:          m,
	}
}

// RegisterGateway 注册支付渠道
func (s *paymentService) RegisterGateway(channel string, gw gateway.Gateway) {
	s.gateways[channel] = gw
}

// CreateCheckout 创建支付尝试
// 总额在服务端由行金额求和，不信任客户端传入的总额
func (s *paymentService) CreateCheckout(ctx context.Context, channel string, req gateway.CheckoutRequest) (*gateway.ProviderSession, error) {
	gw, ok := s.gateways[channel]
	if !ok {
		return nil, fmt.Errorf("unsupported payment channel %q", channel)
	}

	var total int64
	for _, line := range req.Lines {
		total += line.UnitPrice * line.Quantity
	}
	req.AmountMinorUnits = total

	session, err := gw.CreateCheckout(ctx, req)
	if err != nil {
		s.m.CheckoutsTotal.WithLabelValues(channel, "error").Inc()
		return nil, err
	}

	logger.Log.Info("checkout created",
		zap.String("channel", channel),
		zap.String("provider_session_id", session.ID),
		zap.Int64("amount", total),
		zap.String("currency", req.Currency),
	)
	s.m.CheckoutsTotal.WithLabelValues(channel, "ok").Inc()
	return session, nil
}

// Capture 直连渠道结算：capture 成功的结果直接送进对账
// 客户端同步返回和异步回调都可能先到，对账的幂等 Upsert 保证只建一单
func (s *paymentService) Capture(ctx context.Context, providerOrderID string) (*model.Order, error) {
	gw, ok := s.gateways[model.ChannelDirect].(gateway.CaptureGateway)
	if !ok {
		return nil, fmt.Errorf("direct capture channel not configured")
	}

	result, err := gw.CaptureOrder(ctx, providerOrderID)
	if err != nil {
		if errors.Is(err, model.ErrPaymentDeclined) {
			s.m.CapturesTotal.WithLabelValues("declined").Inc()
		} else {
			s.m.CapturesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	order, err := s.reconciler.ReconcileCapture(ctx, result)
	if err != nil {
		s.m.CapturesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	s.m.CapturesTotal.WithLabelValues("ok").Inc()
	return order, nil
}

func (s *paymentService) GetOrder(ctx context.Context, providerReference string) (*model.Order, error) {
	return s.orders.GetByProviderReference(ctx, providerReference)
}

func (s *paymentService) ListOrders(ctx context.Context, offset, limit int) ([]model.Order, int64, error) {
	return s.orders.List(ctx, offset, limit)
}

// Refund 管理端退款动作：只做 PAID → REFUNDED 状态迁移
// 网关侧退款单独走管理流程，这里不发起
func (s *paymentService) Refund(ctx context.Context, providerReference string) (*model.Order, error) {
	return s.reconciler.Transition(ctx, providerReference, model.StatusRefunded)
}
