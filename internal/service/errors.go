package service

import "errors"

// 业务层通用错误，handler 按错误类型映射到合适的 HTTP 状态码。
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomOccupied      = errors.New("room occupied")
	ErrInvalidBuyerHash  = errors.New("invalid buyer hash")
	ErrInvalidSecretKey  = errors.New("invalid secret key")
	ErrIllegalTransition = errors.New("action not allowed in current invoice status")
)
