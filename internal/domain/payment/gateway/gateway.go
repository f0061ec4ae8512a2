package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"storefront_payments/internal/domain/payment/model"

	"github.com/sethvargo/go-retry"
)

// 网关侧行类型标签：结账创建时给每一行都打上结构化标签，
// 对账读标签而不是靠描述关键字猜（老会话没有标签才退回关键字匹配）
const (
	LineKindProduct  = "product"
	LineKindShipping = "shipping"
	LineKindTax      = "tax"
)

// 网关状态值
const (
	SessionStatusComplete = "complete"
	CaptureStatusComplete = "COMPLETED"
)

// CheckoutLine 结账行（最小货币单位）
type CheckoutLine struct {
	Name      string
	Kind      string // product, shipping, tax
	UnitPrice int64
	Quantity  int64
}

// CheckoutRequest 创建支付尝试的统一入参
// Metadata 必须原样穿透网关，在后续查询/回调中取回——领域上下文靠它
// 在网关往返中存活，不需要本地 pending 订单表
type CheckoutRequest struct {
	AmountMinorUnits int64
	Currency         string
	Lines            []CheckoutLine
	SuccessURL       string
	CancelURL        string
	Metadata         map[string]string
}

// ProviderSession 创建结果
type ProviderSession struct {
	ID          string
	Provider    string
	RedirectURL string // 仅托管渠道有值
}

// SessionLine 托管会话里取回的行项目
type SessionLine struct {
	Description string
	Kind        string // 行类型标签，老会话可能为空
	Amount      int64  // 行总额
	UnitAmount  int64
	Quantity    int64
}

// SessionDetail 支付完成后取回的托管会话，金额以网关为准
type SessionDetail struct {
	ID            string
	Status        string
	Currency      string
	AmountTotal   int64
	Lines         []SessionLine
	Metadata      map[string]string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Raw           json.RawMessage
}

// CaptureResult 直连渠道 capture 响应，单一总额，无行项目拆分
type CaptureResult struct {
	OrderID          string
	Status           string
	Currency         string
	AmountMinorUnits int64
	PayerName        string
	PayerEmail       string
	Metadata         map[string]string
	Raw              json.RawMessage
}

// Gateway 支付网关统一接口
type Gateway interface {
	// CreateCheckout 创建网关侧支付尝试，对同一逻辑请求幂等
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*ProviderSession, error)
}

// HostedGateway 托管收银台：没有显式 capture，完成以回调/会话状态为准
type HostedGateway interface {
	Gateway
	GetSession(ctx context.Context, sessionID string) (*SessionDetail, error)
}

// CaptureGateway 直连扣款：创建后由客户端批准，capture 显式结算
type CaptureGateway interface {
	Gateway
	CaptureOrder(ctx context.Context, providerOrderID string) (*CaptureResult, error)
}

// doWithRetry 瞬时错误指数退避重试，最多 3 次尝试
// 业务拒绝（PaymentDeclined）是终态，直接透传不重试
func doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, model.ErrGatewayUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}
