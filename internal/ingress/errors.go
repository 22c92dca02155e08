package ingress

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidRequest 表示上传请求在发送前就不满足契约。
var ErrInvalidRequest = errors.New("invalid upload request")

// StatusError 表示后端返回了非 2xx 状态。Body 保留原始文本以便诊断。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload failed: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// RejectedError 表示后端返回 2xx 但 success=false。
type RejectedError struct {
	Result Result
}

func (e *RejectedError) Error() string {
	reason := e.Result.Error
	if reason == "" {
		reason = "backend reported failure"
	}
	return "upload rejected: " + reason
}
