package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storefront_payments/internal/domain/payment/model"
	"storefront_payments/internal/domain/payment/repository"
	"storefront_payments/pkg/logger"
	"storefront_payments/pkg/metrics"

	"go.uber.org/zap"
)

// 托管网关的回调事件类型
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentFailed     = "checkout.payment_failed"
)

// signatureTolerance 签名头里的时间戳允许的偏差，防重放
const signatureTolerance = 5 * time.Minute

// WebhookIngestor 托管网关回调入口
// 验签 → 解析 → 去重 → 按事件类型派发，任何业务逻辑都在验签之后
type WebhookIngestor struct {
	secret     []byte
	ledger     repository.EventLedger
	reconciler *Reconciler
	m          *metrics.PaymentMetrics
	now        func() time.Time
}

func NewWebhookIngestor(secret []byte, ledger repository.EventLedger, reconciler *Reconciler, m *metrics.PaymentMetrics) *WebhookIngestor {
	return &WebhookIngestor{
		secret:     secret,
		ledger:     ledger,
		reconciler: reconciler,
		m:          m,
		now:        time.Now,
	}
}

// webhookEnvelope 回调报文外壳
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// Handle 处理一条原始回调
// 返回 ErrInvalidSignature / ErrMalformedEvent 时边界层回 400（网关会重试），
// ErrDuplicateEvent 和 nil 都回 200；域操作失败会释放去重占用后仍回 200，
// 避免对非瞬时失败触发重试风暴——失败本身大声记日志
func (w *WebhookIngestor) Handle(ctx context.Context, rawBody []byte, signatureHeader string) error {
	// 1. 验签，失败的事件永远到不了领域逻辑
	if err := w.verifySignature(rawBody, signatureHeader); err != nil {
		w.m.WebhooksTotal.WithLabelValues("invalid_signature").Inc()
		logger.Log.Warn("webhook signature verification failed")
		return err
	}

	// 2. 解析
	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		w.m.WebhooksTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		w.m.WebhooksTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: missing id or type", model.ErrMalformedEvent)
	}

	// 3. 去重抢占：网关 at-least-once 投递，并发重投只有一个能抢到
	claimed, err := w.ledger.Claim(ctx, env.ID)
	if err != nil {
		return err
	}
	if !claimed {
		w.m.WebhooksTotal.WithLabelValues("duplicate").Inc()
		logger.Log.Info("duplicate webhook event, already processed",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
		)
		return model.ErrDuplicateEvent
	}

	// 4. 按事件类型派发
	var domainErr error
	switch env.Type {
	case EventCheckoutCompleted:
		_, domainErr = w.reconciler.ReconcileHostedSession(ctx, env.Data.Object.ID)
	case EventPaymentFailed:
		domainErr = w.reconciler.MarkFailed(ctx, env.Data.Object.ID)
	default:
		// 未识别的类型必须确认掉，否则网关会无限重试
		w.m.WebhooksTotal.WithLabelValues("ignored").Inc()
		logger.Log.Info("ignoring unhandled webhook event type",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
		)
	}

	// 5. 域操作成功才算处理完；失败则归还占用，网关重试还有机会成功
	if domainErr != nil {
		_ = w.ledger.Release(ctx, env.ID)
		w.m.WebhooksTotal.WithLabelValues("failed").Inc()
		logger.Log.Error("webhook domain action failed",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
			zap.Error(domainErr),
		)
		return nil
	}

	if err := w.ledger.MarkProcessed(ctx, env.ID); err != nil {
		logger.Log.Warn("failed to mark webhook event processed",
			zap.String("event_id", env.ID),
			zap.Error(err),
		)
	}

	w.m.WebhooksTotal.WithLabelValues("handled").Inc()
	return nil
}

// verifySignature 校验 "t=<unix>,v1=<hex>" 形式的签名头
// HMAC-SHA256(secret, "<t>.<body>")，常数时间比较，时间戳限制在容差内
func (w *WebhookIngestor) verifySignature(rawBody []byte, header string) error {
	var (
		ts  int64
		sig string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return model.ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			sig = value
		}
	}
	if ts == 0 || sig == "" {
		return model.ErrInvalidSignature
	}

	age := w.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return model.ErrInvalidSignature
	}

	expected := computeSignature(w.secret, ts, rawBody)
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return model.ErrInvalidSignature
	}
	if !hmac.Equal(expected, provided) {
		return model.ErrInvalidSignature
	}
	return nil
}

func computeSignature(secret []byte, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignPayload 按网关的签名方案生成签名头，联调工具和测试用
func SignPayload(secret []byte, ts time.Time, body []byte) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(computeSignature(secret, unix, body)))
}
