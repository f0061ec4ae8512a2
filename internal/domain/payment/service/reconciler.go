package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront_payments/internal/domain/payment/gateway"
	"storefront_payments/internal/domain/payment/model"
	"storefront_payments/internal/domain/payment/repository"
	"storefront_payments/pkg/logger"
	"storefront_payments/pkg/metrics"

	"go.uber.org/zap"
)

// Reconciler 把网关侧已结算的支付工件折算成规范订单
// 同一 providerReference 恰好产出一条订单：同步返回路径和异步回调会竞争，
// 幂等 Upsert 是唯一的安全机制——先到者建单，后到者观察到已存在即 no-op
type Reconciler struct {
	orders repository.OrderRepository
	hosted gateway.HostedGateway
	m      *metrics.PaymentMetrics
}

func NewReconciler(orders repository.OrderRepository, hosted gateway.HostedGateway, m *metrics.PaymentMetrics) *Reconciler {
	return &Reconciler{orders: orders, hosted: hosted, m: m}
}

// ReconcileHostedSession 托管会话 → 订单
// 1. 取回会话及展开行项目（金额以网关为准）
// 2. 行项目按类型标签分桶（无标签退回描述关键字）
// 3. 校验 total = subtotal + shipping + tax，对不上只告警，网关总额永远可信
// 4. 派生短单号，置 PAID，按 providerReference 幂等落库
func (r *Reconciler) ReconcileHostedSession(ctx context.Context, sessionID string) (*model.Order, error) {
	detail, err := r.hosted.GetSession(ctx, sessionID)
	if err != nil {
		r.m.ReconciliationsTotal.WithLabelValues(model.ChannelHosted, "error").Inc()
		return nil, err
	}

	// 只结算已完成的会话
	if detail.Status != gateway.SessionStatusComplete {
		r.m.ReconciliationsTotal.WithLabelValues(model.ChannelHosted, "not_complete").Inc()
		return nil, fmt.Errorf("%w: session status %q", model.ErrPaymentDeclined, detail.Status)
	}

	subtotal, shipping, tax, items, heuristic := classifyLines(detail.Lines)
	if heuristic {
		// 老会话没有行类型标签，关键字分类不可靠，标记出来供运营核对
		logger.Log.Warn("line items classified by description heuristic",
			zap.String("session_id", detail.ID),
		)
		r.m.HeuristicClassifications.Inc()
	}

	total := subtotal + shipping + tax
	if total != detail.AmountTotal {
		logger.Log.Warn("reconciliation mismatch, trusting provider total",
			zap.String("session_id", detail.ID),
			zap.Int64("computed_total", total),
			zap.Int64("provider_total", detail.AmountTotal),
		)
		r.m.ReconciliationMismatches.Inc()
		total = detail.AmountTotal
	}

	var customer *model.Customer
	if detail.CustomerName != "" || detail.CustomerEmail != "" || detail.CustomerPhone != "" {
		customer = &model.Customer{
			Name:  detail.CustomerName,
			Email: detail.CustomerEmail,
			Phone: detail.CustomerPhone,
		}
	}

	now := time.Now()
	order := &model.Order{
		ProviderReference:   detail.ID,
		Provider:            model.ChannelHosted,
		HumanOrderNumber:    model.HumanOrderNumberFrom(detail.ID),
		Status:              model.StatusPaid,
		Currency:            strings.ToUpper(detail.Currency),
		Subtotal:            subtotal,
		ShippingAmount:      shipping,
		TaxAmount:           tax,
		Total:               total,
		LineItems:           items,
		Customer:            customer,
		RawProviderMetadata: detail.Raw,
		PaidAt:              &now,
	}

	return r.persist(ctx, order, model.ChannelHosted)
}

// ReconcileCapture 直连 capture 结果 → 订单
// capture 协议只带单一总额，没有行项目拆分，不需要分类启发
func (r *Reconciler) ReconcileCapture(ctx context.Context, res *gateway.CaptureResult) (*model.Order, error) {
	if res.Status != gateway.CaptureStatusComplete {
		r.m.ReconciliationsTotal.WithLabelValues(model.ChannelDirect, "not_complete").Inc()
		return nil, fmt.Errorf("%w: capture status %q", model.ErrPaymentDeclined, res.Status)
	}

	var customer *model.Customer
	if res.PayerName != "" || res.PayerEmail != "" {
		customer = &model.Customer{Name: res.PayerName, Email: res.PayerEmail}
	}

	now := time.Now()
	order := &model.Order{
		ProviderReference:   res.OrderID,
		Provider:            model.ChannelDirect,
		HumanOrderNumber:    model.HumanOrderNumberFrom(res.OrderID),
		Status:              model.StatusPaid,
		Currency:            strings.ToUpper(res.Currency),
		Subtotal:            res.AmountMinorUnits,
		Total:               res.AmountMinorUnits,
		Customer:            customer,
		RawProviderMetadata: res.Raw,
		PaidAt:              &now,
	}

	return r.persist(ctx, order, model.ChannelDirect)
}

func (r *Reconciler) persist(ctx context.Context, order *model.Order, source string) (*model.Order, error) {
	stored, created, err := r.orders.Upsert(ctx, order)
	if err != nil {
		r.m.ReconciliationsTotal.WithLabelValues(source, "error").Inc()
		return nil, err
	}

	if !created {
		logger.Log.Info("order already reconciled, skipping",
			zap.String("provider_reference", order.ProviderReference),
		)
		r.m.ReconciliationsTotal.WithLabelValues(source, "duplicate").Inc()
		return stored, nil
	}

	logger.Log.Info("order reconciled",
		zap.String("provider_reference", stored.ProviderReference),
		zap.String("order_number", stored.HumanOrderNumber),
		zap.Int64("total", stored.Total),
		zap.String("currency", stored.Currency),
	)
	r.m.ReconciliationsTotal.WithLabelValues(source, "created").Inc()
	return stored, nil
}

// MarkFailed 支付失败回调：AWAITING_PAYMENT → FAILED
// 订单不存在或已结算时是 no-op，不报错
func (r *Reconciler) MarkFailed(ctx context.Context, providerReference string) error {
	applied, err := r.orders.UpdateStatus(ctx, providerReference,
		model.StatusAwaitingPayment, model.StatusFailed, nil)
	if err != nil {
		if err == model.ErrOrderNotFound {
			return nil
		}
		return err
	}
	if !applied {
		logger.Log.Info("payment failed event ignored, order not awaiting payment",
			zap.String("provider_reference", providerReference),
		)
	}
	return nil
}

// Transition 显式状态迁移（退款等管理动作）
// 非法迁移记 error 日志并保持订单不变，绝不破坏状态
func (r *Reconciler) Transition(ctx context.Context, providerReference, to string) (*model.Order, error) {
	order, err := r.orders.GetByProviderReference(ctx, providerReference)
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(order.Status, to) {
		logger.Log.Error("invalid order state transition attempted",
			zap.String("provider_reference", providerReference),
			zap.String("from", order.Status),
			zap.String("to", to),
		)
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, order.Status, to)
	}

	var paidAt *time.Time
	if to == model.StatusPaid {
		now := time.Now()
		paidAt = &now
	}

	applied, err := r.orders.UpdateStatus(ctx, providerReference, order.Status, to, paidAt)
	if err != nil {
		return nil, err
	}
	if !applied {
		// 读到更新之间状态被并发改掉了
		return nil, fmt.Errorf("%w: concurrent update on %s", model.ErrInvalidTransition, providerReference)
	}

	return r.orders.GetByProviderReference(ctx, providerReference)
}

// 描述关键字启发，仅在行没有结构化标签时使用
// 已知局限：名字里恰好带关键字的商品会被误分（如 "Shipping Container Case"）
var (
	shippingKeywords = []string{"shipping", "delivery", "freight"}
	taxKeywords      = []string{"tax", "vat", "gst"}
)

func classifyLines(lines []gateway.SessionLine) (subtotal, shipping, tax int64, items []model.LineItem, heuristic bool) {
	for _, ln := range lines {
		kind := ln.Kind
		if kind == "" {
			kind = gateway.LineKindProduct
			desc := strings.ToLower(ln.Description)
			if containsAny(desc, shippingKeywords) {
				kind = gateway.LineKindShipping
				heuristic = true
			} else if containsAny(desc, taxKeywords) {
				kind = gateway.LineKindTax
				heuristic = true
			}
		}

		switch kind {
		case gateway.LineKindShipping:
			shipping += ln.Amount
		case gateway.LineKindTax:
			tax += ln.Amount
		default:
			subtotal += ln.Amount
			items = append(items, model.LineItem{
				Name:      ln.Description,
				UnitPrice: ln.UnitAmount,
				Quantity:  ln.Quantity,
				LineTotal: ln.Amount,
			})
		}
	}
	return subtotal, shipping, tax, items, heuristic
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
