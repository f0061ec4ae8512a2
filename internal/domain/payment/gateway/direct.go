package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront_payments/internal/domain/payment/model"
	"storefront_payments/internal/pkg/config"
	"storefront_payments/pkg/metrics"
)

// DirectCaptureAdapter 直连扣款适配器
// 两段式协议：同步创建网关订单（返回 id 给客户端做带外批准），再显式 capture 结算。
// 鉴权走 client-credentials 换取的 Bearer Token，token 由 TokenCache 统一管理
type DirectCaptureAdapter struct {
	baseURL      string
	clientID     string
	clientSecret string
	tokens       *TokenCache
	httpClient   *http.Client
	m            *metrics.PaymentMetrics
}

func NewDirectCaptureAdapter(cfg config.DirectGatewayConfig, tokens *TokenCache, m *metrics.PaymentMetrics) *DirectCaptureAdapter {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &DirectCaptureAdapter{
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: timeout},
		m:            m,
	}
	tokens.Register(model.ChannelDirect, a.fetchToken)
	return a
}

type directTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // 秒
}

type directAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"` // 展示单位的十进制字符串
}

type directOrderPayload struct {
	Intent   string       `json:"intent"`
	Amount   directAmount `json:"amount"`
	CustomID string       `json:"custom_id,omitempty"`
}

type directOrderResponse struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Amount   directAmount `json:"amount"`
	CustomID string       `json:"custom_id"`
	Payer    struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"payer"`
}

// fetchToken client-credentials 交换，由 TokenCache 在未命中/过期时调用
func (a *DirectCaptureAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	start := time.Now()
	defer a.m.ObserveGatewayRequest(model.ChannelDirect, "token", start)

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.m.TokenRefreshTotal.WithLabelValues(model.ChannelDirect, "error").Inc()
		return "", 0, fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.m.TokenRefreshTotal.WithLabelValues(model.ChannelDirect, "error").Inc()
		return "", 0, fmt.Errorf("%w: token endpoint status %d", model.ErrGatewayUnavailable, resp.StatusCode)
	}

	var out directTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		a.m.TokenRefreshTotal.WithLabelValues(model.ChannelDirect, "error").Inc()
		return "", 0, fmt.Errorf("%w: decode token: %v", model.ErrGatewayUnavailable, err)
	}

	a.m.TokenRefreshTotal.WithLabelValues(model.ChannelDirect, "ok").Inc()
	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}

// CreateCheckout 同步创建网关订单，返回的 id 交给客户端完成批准
// Metadata 序列化进 custom_id，capture 时原样取回
func (a *DirectCaptureAdapter) CreateCheckout(ctx context.Context, req CheckoutRequest) (*ProviderSession, error) {
	payload := directOrderPayload{
		Intent: "CAPTURE",
		Amount: directAmount{
			CurrencyCode: strings.ToUpper(req.Currency),
			Value:        formatMinorUnits(req.AmountMinorUnits),
		},
	}
	if len(req.Metadata) > 0 {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, err
		}
		payload.CustomID = string(data)
	}

	var session *ProviderSession
	err := doWithRetry(ctx, func(ctx context.Context) error {
		resp, err := a.call(ctx, http.MethodPost, "/v2/checkout/orders", payload, "create_order")
		if err != nil {
			return err
		}

		var out directOrderResponse
		if err := json.Unmarshal(resp, &out); err != nil {
			return fmt.Errorf("direct gateway: decode order: %w", err)
		}
		session = &ProviderSession{
			ID:       out.ID,
			Provider: model.ChannelDirect,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CaptureOrder 显式结算
// HTTP 200 不代表成功：必须检查网关返回的 status 是显式 COMPLETED，
// 其余一律按拒绝处理，不当成功也不当未知态
func (a *DirectCaptureAdapter) CaptureOrder(ctx context.Context, providerOrderID string) (*CaptureResult, error) {
	var result *CaptureResult
	err := doWithRetry(ctx, func(ctx context.Context) error {
		path := fmt.Sprintf("/v2/checkout/orders/%s/capture", providerOrderID)
		resp, err := a.call(ctx, http.MethodPost, path, struct{}{}, "capture_order")
		if err != nil {
			return err
		}

		var out directOrderResponse
		if err := json.Unmarshal(resp, &out); err != nil {
			return fmt.Errorf("direct gateway: decode capture: %w", err)
		}

		if out.Status != CaptureStatusComplete {
			return fmt.Errorf("%w: capture status %q", model.ErrPaymentDeclined, out.Status)
		}

		amount, err := parseMinorUnits(out.Amount.Value)
		if err != nil {
			return fmt.Errorf("direct gateway: amount %q: %w", out.Amount.Value, err)
		}

		var meta map[string]string
		if out.CustomID != "" {
			// custom_id 解析失败不拦截结算，metadata 只是穿透的领域上下文
			_ = json.Unmarshal([]byte(out.CustomID), &meta)
		}

		result = &CaptureResult{
			OrderID:          out.ID,
			Status:           out.Status,
			Currency:         out.Amount.CurrencyCode,
			AmountMinorUnits: amount,
			PayerName:        out.Payer.Name,
			PayerEmail:       out.Payer.Email,
			Metadata:         meta,
			Raw:              json.RawMessage(resp),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// call 带 Bearer Token 的网关调用，错误分级同托管适配器
func (a *DirectCaptureAdapter) call(ctx context.Context, method, path string, payload interface{}, op string) ([]byte, error) {
	start := time.Now()
	defer a.m.ObserveGatewayRequest(model.ChannelDirect, op, start)

	token, err := a.tokens.Token(ctx, model.ChannelDirect)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", model.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", model.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", model.ErrPaymentDeclined, string(data))
	default:
		return nil, fmt.Errorf("direct gateway: status %d: %s", resp.StatusCode, string(data))
	}
}

// formatMinorUnits 最小单位转网关的十进制字符串，如 11500 -> "115.00"
func formatMinorUnits(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// parseMinorUnits 网关十进制字符串转最小单位，如 "115.00" -> 11500
func parseMinorUnits(s string) (int64, error) {
	whole, frac, found := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}

	if !found || frac == "" {
		return units * 100, nil
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("unexpected precision in amount %q", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}

	if units < 0 || strings.HasPrefix(whole, "-") {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}

var _ CaptureGateway = (*DirectCaptureAdapter)(nil)
