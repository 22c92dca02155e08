package ingress

import (
	"io"
	"strings"

	"github.com/google/uuid"
)

// 上传接口的固定路径与表单字段名，与前端 FormData 保持一致。
const (
	Path           = "/api/upload/secure"
	FieldFile      = "file"
	FieldContentID = "contentId"
)

// FilePart 是 multipart 中唯一的文件分片。
type FilePart struct {
	Name        string
	ContentType string
	// Size 仅用于日志与诊断；-1 表示未知，实际长度以 Body 为准。
	Size int64
	Body io.Reader
}

// Request 是一次上传尝试。ContentID 由调用方生成，协议不保证全局唯一。
type Request struct {
	File      FilePart
	ContentID string
	// Fields 会作为额外的字符串表单字段追加，不能覆盖 file/contentId。
	Fields map[string]string
}

// StoredFile 描述后端保存后的产物。
type StoredFile struct {
	Name        string `json:"name"`
	Key         string `json:"key,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size"`
	ContentType string `json:"type,omitempty"`
}

// Result 是 2xx 响应体。Success=false 时 Error 携带后端给出的原因。
type Result struct {
	Success   bool        `json:"success"`
	ContentID string      `json:"contentId,omitempty"`
	File      *StoredFile `json:"file,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NewContentID 生成 prefix-<uuid> 形式的关联标识。每次上传尝试都应生成新的值，
// 重试复用旧值时后端可能产生重复记录。
func NewContentID(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "-")
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}
