package errs

const (
	ServerInternalError = 500

	AuthRejectedError      = 1001 // 握手缺少/无效身份
	NotConnectedError      = 1002 // 连接不存在或已断开
	DeliveryFailureError   = 1003 // 单个接收者投递失败
	SearchUnavailableError = 1004 // 搜索存储不可用
	InvalidPayloadError    = 1005 // 客户端帧格式错误
)

var (
	ErrInternal          = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrAuthRejected      = NewCodeError(AuthRejectedError, "AuthRejected")
	ErrNotConnected      = NewCodeError(NotConnectedError, "NotConnected")
	ErrDeliveryFailure   = NewCodeError(DeliveryFailureError, "DeliveryFailure")
	ErrSearchUnavailable = NewCodeError(SearchUnavailableError, "SearchUnavailable")
	ErrInvalidPayload    = NewCodeError(InvalidPayloadError, "InvalidPayload")
)
