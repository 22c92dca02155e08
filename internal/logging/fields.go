package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 构建目录等基础字段，便于不同入口复用。
func BaseFields(action, buildDir string) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"build_dir": buildDir,
	}
}

// RequestFields 提供单次请求的访问日志字段。
// outcome 取值 asset / fallback / missing / proxy / stub / diagnostics / error。
func RequestFields(requestID, method, path string, status int, outcome string, elapsed time.Duration) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
		"outcome":    outcome,
		"elapsed_ms": elapsed.Milliseconds(),
	}
}
