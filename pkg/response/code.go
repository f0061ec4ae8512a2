package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 鉴权错误 100xx
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 支付模块错误 300xx
	ErrGatewayUnavailable = 30001
	ErrPaymentDeclined    = 30002
	ErrInvalidSignature   = 30003
	ErrInvalidTransition  = 30004
	ErrOrderNotFound      = 30005
	ErrUnsupportedChannel = 30006

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
