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

func newDirectTestServer(t *testing.T, tokenCalls *int32, orderHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenCalls != nil {
			atomic.AddInt32(tokenCalls, 1)
		}
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-1", user)
		assert.Equal(t, "secret-1", pass)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v2/checkout/orders", orderHandler)
	mux.HandleFunc("/v2/checkout/orders/", orderHandler)
	return httptest.NewServer(mux)
}

func newDirectAdapter(baseURL string) *DirectCaptureAdapter {
	return NewDirectCaptureAdapter(config.DirectGatewayConfig{
		BaseURL:      baseURL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		TimeoutSec:   2,
	}, NewTokenCache(), metrics.NewPaymentMetrics(prometheus.NewRegistry()))
}

func TestDirectCreateCheckout(t *testing.T) {
	t.Run("creates provider order with bearer token", func(t *testing.T) {
		var tokenCalls int32
		srv := newDirectTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer at-123", r.Header.Get("Authorization"))

			var payload directOrderPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "CAPTURE", payload.Intent)
			assert.Equal(t, "115.00", payload.Amount.Value)
			assert.Equal(t, "USD", payload.Amount.CurrencyCode)

			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     "5O190127TN364715T",
				"status": "CREATED",
			})
		})
		defer srv.Close()

		adapter := newDirectAdapter(srv.URL)
		session, err := adapter.CreateCheckout(context.Background(), CheckoutRequest{
			AmountMinorUnits: 11500,
			Currency:         "usd",
			Metadata:         map[string]string{"cart_id": "cart-42"},
		})
		require.NoError(t, err)

		assert.Equal(t, "5O190127TN364715T", session.ID)
		assert.Equal(t, model.ChannelDirect, session.Provider)
		assert.Empty(t, session.RedirectURL)
		assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	})

	t.Run("token fetched once across calls", func(t *testing.T) {
		var tokenCalls int32
		srv := newDirectTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"id": "ord-1", "status": "CREATED"})
		})
		defer srv.Close()

		adapter := newDirectAdapter(srv.URL)
		for i := 0; i < 3; i++ {
			_, err := adapter.CreateCheckout(context.Background(), CheckoutRequest{AmountMinorUnits: 100, Currency: "usd"})
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	})
}

func TestDirectCaptureOrder(t *testing.T) {
	t.Run("completed capture returns structured result", func(t *testing.T) {
		srv := newDirectTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/checkout/orders/ord-9/capture", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     "ord-9",
				"status": "COMPLETED",
				"amount": map[string]string{"currency_code": "USD", "value": "115.00"},
				"payer":  map[string]string{"name": "Ada Lovelace", "email": "ada@example.com"},
			})
		})
		defer srv.Close()

		adapter := newDirectAdapter(srv.URL)
		result, err := adapter.CaptureOrder(context.Background(), "ord-9")
		require.NoError(t, err)

		assert.Equal(t, "ord-9", result.OrderID)
		assert.Equal(t, int64(11500), result.AmountMinorUnits)
		assert.Equal(t, "USD", result.Currency)
		assert.Equal(t, "Ada Lovelace", result.PayerName)
	})

	t.Run("pending status on HTTP 200 is a decline", func(t *testing.T) {
		srv := newDirectTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     "ord-9",
				"status": "PENDING",
				"amount": map[string]string{"currency_code": "USD", "value": "115.00"},
			})
		})
		defer srv.Close()

		adapter := newDirectAdapter(srv.URL)
		result, err := adapter.CaptureOrder(context.Background(), "ord-9")

		assert.Nil(t, result)
		assert.ErrorIs(t, err, model.ErrPaymentDeclined)
	})
}

func TestMinorUnitConversion(t *testing.T) {
	t.Run("format", func(t *testing.T) {
		assert.Equal(t, "115.00", formatMinorUnits(11500))
		assert.Equal(t, "0.05", formatMinorUnits(5))
		assert.Equal(t, "-1.50", formatMinorUnits(-150))
	})

	t.Run("parse", func(t *testing.T) {
		cases := map[string]int64{
			"115.00": 11500,
			"115":    11500,
			"115.5":  11550,
			"0.05":   5,
			"-1.50":  -150,
		}
		for in, want := range cases {
			got, err := parseMinorUnits(in)
			require.NoError(t, err, in)
			assert.Equal(t, want, got, in)
		}
	})

	t.Run("rejects excess precision", func(t *testing.T) {
		_, err := parseMinorUnits("115.005")
		assert.Error(t, err)
	})
}
