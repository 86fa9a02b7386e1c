package request

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 15 * time.Second

// Request 共享客户端，只用于幂等的查询类请求（行情、持有人列表、模型调用）
var Request = New(defaultTimeout)

// New builds a client that honours proxy env vars and retries transport errors, 429 and 5xx.
func New(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment, // 通用适配环境变量
		}).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(4 * time.Second).
		AddRetryCondition(Retryable)
}

// Retryable reports whether a response should be retried.
func Retryable(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
}
