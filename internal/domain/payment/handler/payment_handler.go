package handler

import (
	"errors"
	"io"
	"net/http"

	"storefront_payments/internal/domain/payment/gateway"
	"storefront_payments/internal/domain/payment/model"
	"storefront_payments/internal/domain/payment/service"
	"storefront_payments/pkg/response"
	"storefront_payments/pkg/utils"

	"github.com/gin-gonic/gin"
)

// SignatureHeader 托管网关回调签名头
const SignatureHeader = "X-Gateway-Signature"

// maxWebhookBody 回调报文大小上限
const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	service  service.PaymentService
	ingestor *service.WebhookIngestor
}

func NewPaymentHandler(s service.PaymentService, ingestor *service.WebhookIngestor) *PaymentHandler {
	return &PaymentHandler{service: s, ingestor: ingestor}
}

type CheckoutLineInput struct {
	Name      string `json:"name" binding:"required"`
	Kind      string `json:"kind" binding:"omitempty,oneof=product shipping tax"`
	UnitPrice int64  `json:"unitPrice" binding:"required,gt=0"` // 最小货币单位
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
}

type CreateCheckoutInput struct {
	Channel    string              `json:"channel" binding:"required,oneof=hosted direct"`
	Currency   string              `json:"currency" binding:"required,len=3"`
	LineItems  []CheckoutLineInput `json:"lineItems" binding:"required,min=1,dive"`
	SuccessURL string              `json:"successUrl" binding:"omitempty,url"`
	CancelURL  string              `json:"cancelUrl" binding:"omitempty,url"`
	Metadata   map[string]string   `json:"metadata"`
}

type CaptureInput struct {
	ProviderOrderID string `json:"providerOrderId" binding:"required"`
}

// CreateCheckout 创建结账会话
// @Summary 创建结账会话
// @Tags Payment
// @Accept json
// @Produce json
// @Param input body CreateCheckoutInput true "Checkout Info"
// @Success 200 {object} response.Response
// @Router /payment/checkout [post]
func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	var input CreateCheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	req := gateway.CheckoutRequest{
		Currency:   input.Currency,
		SuccessURL: input.SuccessURL,
		CancelURL:  input.CancelURL,
		Metadata:   input.Metadata,
	}
	for _, line := range input.LineItems {
		req.Lines = append(req.Lines, gateway.CheckoutLine{
			Name:      line.Name,
			Kind:      line.Kind,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}

	session, err := h.service.CreateCheckout(c.Request.Context(), input.Channel, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"session_id":   session.ID,
		"channel":      session.Provider,
		"redirect_url": session.RedirectURL,
	})
}

// Capture 直连渠道结算
// @Summary 结算已批准的直连订单
// @Tags Payment
// @Accept json
// @Produce json
// @Param input body CaptureInput true "Provider Order"
// @Success 200 {object} response.Response
// @Router /payment/capture [post]
func (h *PaymentHandler) Capture(c *gin.Context) {
	var input CaptureInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	order, err := h.service.Capture(c.Request.Context(), input.ProviderOrderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, order)
}

// HostedWebhook 托管网关异步回调
// 200 覆盖"已处理/重复/未识别类型"，400 只给验签失败和报文损坏（网关会重试），
// 5xx 留给真正的故障
// @Summary 托管网关回调
// @Tags Payment
// @Router /payment/webhook/hosted [post]
func (h *PaymentHandler) HostedWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	err = h.ingestor.Handle(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	switch {
	case err == nil, errors.Is(err, model.ErrDuplicateEvent):
		c.String(http.StatusOK, "ok")
	case errors.Is(err, model.ErrInvalidSignature), errors.Is(err, model.ErrMalformedEvent):
		c.String(http.StatusBadRequest, "invalid")
	default:
		c.String(http.StatusInternalServerError, "error")
	}
}

// GetOrder 按网关引用查询订单
// @Summary 查询订单
// @Tags Payment
// @Produce json
// @Param ref path string true "Provider Reference"
// @Success 200 {object} response.Response{data=model.Order}
// @Router /payment/orders/{ref} [get]
func (h *PaymentHandler) GetOrder(c *gin.Context) {
	order, err := h.service.GetOrder(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, order)
}

// ListOrders 管理端订单列表
// @Summary 订单列表
// @Tags Payment
// @Produce json
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /payment/orders [get]
func (h *PaymentHandler) ListOrders(c *gin.Context) {
	var page utils.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	offset, limit := page.GetPageOffset()
	orders, total, err := h.service.ListOrders(c.Request.Context(), offset, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, utils.PageResult{
		List:  orders,
		Total: total,
		Page:  page.Page,
		Limit: page.Limit,
	})
}

// Refund 管理端退款
// @Summary 订单退款
// @Tags Payment
// @Produce json
// @Param ref path string true "Provider Reference"
// @Success 200 {object} response.Response{data=model.Order}
// @Router /payment/orders/{ref}/refund [post]
func (h *PaymentHandler) Refund(c *gin.Context) {
	order, err := h.service.Refund(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, order)
}

// writeError 域错误 → 响应码映射
// 被拒原因给用户看，但不回显网关内部细节
func (h *PaymentHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrPaymentDeclined):
		response.Fail(c, response.ErrPaymentDeclined, "payment was declined")
	case errors.Is(err, model.ErrGatewayUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.ErrGatewayUnavailable, "payment gateway unavailable, please retry")
	case errors.Is(err, model.ErrOrderNotFound):
		response.Error(c, http.StatusNotFound, response.ErrOrderNotFound, "order not found")
	case errors.Is(err, model.ErrInvalidTransition):
		response.Error(c, http.StatusConflict, response.ErrInvalidTransition, "order state does not allow this operation")
	default:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "internal error")
	}
}
