package model

import "errors"

// 支付域错误分级：
// GatewayUnavailable 瞬时可重试；PaymentDeclined 终态不自动重试；
// InvalidSignature 在任何业务逻辑前拒绝；DuplicateEvent 幂等放行不算失败
var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrMalformedEvent     = errors.New("malformed webhook payload")
	ErrInvalidTransition  = errors.New("invalid order state transition")
	ErrDuplicateEvent     = errors.New("webhook event already processed")
	ErrOrderNotFound      = errors.New("order not found")
)
