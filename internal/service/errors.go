package service

import "errors"

// 业务层通用错误，handler 和网关根据错误类型映射到 HTTP 状态码或连接内 error 事件。
var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrUsernameTaken       = errors.New("username taken")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidReceiver     = errors.New("invalid receiver id")
	ErrEmptyContent        = errors.New("message content is required")
)
