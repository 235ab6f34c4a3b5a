package igapi

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrNoAPIKey 还没有设置 API key
	ErrNoAPIKey = errors.New("igapi: api key not set")
	// ErrUnauthorized 未登录、凭证错误或会话过期
	ErrUnauthorized = errors.New("igapi: unauthorized")
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("igapi: not found")
	// ErrBadRequest 请求参数被服务端拒绝（例如格式错误的 epic）
	ErrBadRequest = errors.New("igapi: bad request")
	// ErrMarketNotFound GetMarket 找不到 epic
	ErrMarketNotFound = errors.New("igapi: market not found")
	// ErrRateLimited 服务端限流
	ErrRateLimited = errors.New("igapi: rate limited")
)

// APIError 非 2xx 响应
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string // 服务端 errorCode
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("igapi: %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("igapi: %s %s: %d", e.Method, e.Path, e.StatusCode)
}

// Unwrap 按状态码映射到哨兵错误，调用方用 errors.Is 判断
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// IsMarketRejected epic 被服务端拒绝（不存在或格式错误）
func IsMarketRejected(err error) bool {
	return errors.Is(err, ErrMarketNotFound) || errors.Is(err, ErrBadRequest)
}
