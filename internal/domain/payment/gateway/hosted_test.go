package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"storefront_payments/internal/domain/payment/model"
	"storefront_payments/internal/pkg/config"
	"storefront_payments/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHostedAdapter(t *testing.T, baseURL string) *HostedCheckoutAdapter {
	t.Helper()
	return NewHostedCheckoutAdapter(config.HostedGatewayConfig{
		BaseURL:    baseURL,
		APIKey:     "sk_test_123",
		SuccessURL: "https://shop.example.com/success",
		CancelURL:  "https://shop.example.com/cancel",
		TimeoutSec: 2,
	}, metrics.NewPaymentMetrics(prometheus.NewRegistry()))
}

func TestHostedCreateCheckout(t *testing.T) {
	t.Run("creates session and tags every line", func(t *testing.T) {
		var got hostedSessionPayload
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
			assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     "cs_test_abc123",
				"url":    "https://pay.example.com/cs_test_abc123",
				"status": "open",
			})
		}))
		defer srv.Close()

		adapter := newHostedAdapter(t, srv.URL)
		session, err := adapter.CreateCheckout(context.Background(), CheckoutRequest{
			Currency: "usd",
			Lines: []CheckoutLine{
				{Name: "Widget", UnitPrice: 10000, Quantity: 1},
				{Name: "Standard Shipping", Kind: LineKindShipping, UnitPrice: 1000, Quantity: 1},
			},
			Metadata: map[string]string{"cart_id": "cart-42"},
		})
		require.NoError(t, err)

		assert.Equal(t, "cs_test_abc123", session.ID)
		assert.Equal(t, "https://pay.example.com/cs_test_abc123", session.RedirectURL)
		assert.Equal(t, model.ChannelHosted, session.Provider)

		require.Len(t, got.LineItems, 2)
		assert.Equal(t, "product", got.LineItems[0].Metadata["type"])
		assert.Equal(t, "shipping", got.LineItems[1].Metadata["type"])
		assert.Equal(t, "cart-42", got.Metadata["cart_id"])
		assert.Equal(t, "https://shop.example.com/success", got.SuccessURL)
	})

	t.Run("retries transient failures then surfaces gateway unavailable", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		adapter := newHostedAdapter(t, srv.URL)
		_, err := adapter.CreateCheckout(context.Background(), CheckoutRequest{Currency: "usd"})

		assert.ErrorIs(t, err, model.ErrGatewayUnavailable)
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})

	t.Run("decline is terminal and not retried", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusPaymentRequired)
		}))
		defer srv.Close()

		adapter := newHostedAdapter(t, srv.URL)
		_, err := adapter.CreateCheckout(context.Background(), CheckoutRequest{Currency: "usd"})

		assert.ErrorIs(t, err, model.ErrPaymentDeclined)
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})
}

func TestHostedGetSession(t *testing.T) {
	t.Run("parses expanded line items with type tags", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/checkout/sessions/cs_test_abc123", r.URL.Path)
			assert.Equal(t, "line_items", r.URL.Query().Get("expand"))

			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":           "cs_test_abc123",
				"status":       "complete",
				"currency":     "usd",
				"amount_total": 11500,
				"metadata":     map[string]string{"cart_id": "cart-42"},
				"customer_details": map[string]string{
					"name":  "Ada Lovelace",
					"email": "ada@example.com",
				},
				"line_items": []map[string]interface{}{
					{"description": "Widget", "amount_total": 10000, "unit_amount": 10000, "quantity": 1,
						"metadata": map[string]string{"type": "product"}},
					{"description": "Standard Shipping", "amount_total": 1000, "unit_amount": 1000, "quantity": 1,
						"metadata": map[string]string{"type": "shipping"}},
					{"description": "VAT", "amount_total": 500, "unit_amount": 500, "quantity": 1,
						"metadata": map[string]string{"type": "tax"}},
				},
			})
		}))
		defer srv.Close()

		adapter := newHostedAdapter(t, srv.URL)
		detail, err := adapter.GetSession(context.Background(), "cs_test_abc123")
		require.NoError(t, err)

		assert.Equal(t, "complete", detail.Status)
		assert.Equal(t, int64(11500), detail.AmountTotal)
		assert.Equal(t, "cart-42", detail.Metadata["cart_id"])
		assert.Equal(t, "Ada Lovelace", detail.CustomerName)
		require.Len(t, detail.Lines, 3)
		assert.Equal(t, LineKindShipping, detail.Lines[1].Kind)
		assert.Equal(t, LineKindTax, detail.Lines[2].Kind)
		assert.NotEmpty(t, detail.Raw)
	})
}
