package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storefront_payments/internal/domain/payment/model"
	"storefront_payments/internal/pkg/config"
	"storefront_payments/pkg/metrics"
)

// HostedCheckoutAdapter 托管收银台适配器
// 网关托管整个支付页面，客户支付完成后跳转回来并异步推送回调；
// 金额明细只能在完成后通过取回会话获得，行项目不区分商品/运费/税
type HostedCheckoutAdapter struct {
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
	httpClient *http.Client
	m          *metrics.PaymentMetrics
}

func NewHostedCheckoutAdapter(cfg config.HostedGatewayConfig, m *metrics.PaymentMetrics) *HostedCheckoutAdapter {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HostedCheckoutAdapter{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		httpClient: &http.Client{Timeout: timeout},
		m:          m,
	}
}

// 托管网关的请求/响应报文
type hostedLinePayload struct {
	Description string            `json:"description"`
	UnitAmount  int64             `json:"unit_amount"`
	Quantity    int64             `json:"quantity"`
	Metadata    map[string]string `json:"metadata"`
}

type hostedSessionPayload struct {
	Currency   string              `json:"currency"`
	SuccessURL string              `json:"success_url"`
	CancelURL  string              `json:"cancel_url"`
	LineItems  []hostedLinePayload `json:"line_items"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

type hostedSessionResponse struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Status          string            `json:"status"`
	Currency        string            `json:"currency"`
	AmountTotal     int64             `json:"amount_total"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer_details"`
	LineItems []struct {
		Description string            `json:"description"`
		AmountTotal int64             `json:"amount_total"`
		UnitAmount  int64             `json:"unit_amount"`
		Quantity    int64             `json:"quantity"`
		Metadata    map[string]string `json:"metadata"`
	} `json:"line_items"`
}

// CreateCheckout 创建托管收银台会话
// 每一行都带上结构化 type 标签，对账时优先读标签
func (a *HostedCheckoutAdapter) CreateCheckout(ctx context.Context, req CheckoutRequest) (*ProviderSession, error) {
	successURL := req.SuccessURL
	if successURL == "" {
		successURL = a.successURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = a.cancelURL
	}

	payload := hostedSessionPayload{
		Currency:   req.Currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata:   req.Metadata,
	}
	for _, line := range req.Lines {
		kind := line.Kind
		if kind == "" {
			kind = LineKindProduct
		}
		payload.LineItems = append(payload.LineItems, hostedLinePayload{
			Description: line.Name,
			UnitAmount:  line.UnitPrice,
			Quantity:    line.Quantity,
			Metadata:    map[string]string{"type": kind},
		})
	}

	var session *ProviderSession
	err := doWithRetry(ctx, func(ctx context.Context) error {
		resp, err := a.call(ctx, http.MethodPost, "/v1/checkout/sessions", payload, "create_session")
		if err != nil {
			return err
		}

		var out hostedSessionResponse
		if err := json.Unmarshal(resp, &out); err != nil {
			return fmt.Errorf("hosted gateway: decode session: %w", err)
		}
		session = &ProviderSession{
			ID:          out.ID,
			Provider:    model.ChannelHosted,
			RedirectURL: out.URL,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession 取回会话及展开的行项目，金额以这里为准，不用本地购物车重新计算
func (a *HostedCheckoutAdapter) GetSession(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var detail *SessionDetail
	err := doWithRetry(ctx, func(ctx context.Context) error {
		path := fmt.Sprintf("/v1/checkout/sessions/%s?expand=line_items", sessionID)
		resp, err := a.call(ctx, http.MethodGet, path, nil, "get_session")
		if err != nil {
			return err
		}

		var out hostedSessionResponse
		if err := json.Unmarshal(resp, &out); err != nil {
			return fmt.Errorf("hosted gateway: decode session: %w", err)
		}

		d := &SessionDetail{
			ID:            out.ID,
			Status:        out.Status,
			Currency:      out.Currency,
			AmountTotal:   out.AmountTotal,
			Metadata:      out.Metadata,
			CustomerName:  out.CustomerDetails.Name,
			CustomerEmail: out.CustomerDetails.Email,
			CustomerPhone: out.CustomerDetails.Phone,
			Raw:           json.RawMessage(resp),
		}
		for _, ln := range out.LineItems {
			d.Lines = append(d.Lines, SessionLine{
				Description: ln.Description,
				Kind:        ln.Metadata["type"],
				Amount:      ln.AmountTotal,
				UnitAmount:  ln.UnitAmount,
				Quantity:    ln.Quantity,
			})
		}
		detail = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// call 发起一次网关调用并做错误分级：网络错误和 5xx/429 归为瞬时可重试，
// 402 归为支付被拒，其余 4xx 是终态协议错误
func (a *HostedCheckoutAdapter) call(ctx context.Context, method, path string, payload interface{}, op string) ([]byte, error) {
	start := time.Now()
	defer a.m.ObserveGatewayRequest(model.ChannelHosted, op, start)

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
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, fmt.Errorf("%w: %s", model.ErrPaymentDeclined, string(data))
	default:
		return nil, fmt.Errorf("hosted gateway: status %d: %s", resp.StatusCode, string(data))
	}
}

var _ HostedGateway = (*HostedCheckoutAdapter)(nil)
