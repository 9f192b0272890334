package http

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransportError 网络失败、非 2xx 响应或 success=false 信封
type TransportError struct {
	Method     string
	Path       string
	StatusCode int    // 0 表示请求未拿到响应
	Message    string // 服务端 message（可读）
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.Path, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError 判断错误链中是否存在 TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsTransportError 取出错误链中的 TransportError
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
