package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	s := c.Server
	if s.ListenPort < 0 || s.ListenPort > 65535 {
		return newFieldError("Server.ListenPort", "必须在 0-65535")
	}
	if strings.TrimSpace(s.BuildDir) == "" {
		return newFieldError("Server.BuildDir", "不能为空")
	}
	if s.IndexFile == "" || strings.ContainsAny(s.IndexFile, `/\`) || s.IndexFile == "." || s.IndexFile == ".." {
		return newFieldError("Server.IndexFile", "必须是构建目录下的文件名")
	}
	if s.CacheMaxAge.DurationValue() < 0 {
		return newFieldError("Server.CacheMaxAge", "不能为负数")
	}
	if s.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Server.ShutdownTimeout", "必须大于 0")
	}
	if s.ReadTimeout.DurationValue() <= 0 {
		return newFieldError("Server.ReadTimeout", "必须大于 0")
	}
	if s.IdleTimeout.DurationValue() <= 0 {
		return newFieldError("Server.IdleTimeout", "必须大于 0")
	}
	if s.BodyLimitMB <= 0 || s.BodyLimitMB > 4096 {
		return newFieldError("Server.BodyLimitMB", "必须在 1-4096")
	}

	if _, err := logrus.ParseLevel(c.Log.LogLevel); err != nil {
		return newFieldError("Log.LogLevel", "仅支持 trace/debug/info/warn/error/fatal/panic")
	}
	if c.Log.LogFilePath != "" && c.Log.LogMaxSize <= 0 {
		return newFieldError("Log.LogMaxSize", "必须大于 0")
	}
	if c.Log.LogMaxBackups < 0 {
		return newFieldError("Log.LogMaxBackups", "不能为负数")
	}

	b := c.Backend
	if b.APIBackend != "" {
		if err := validateHTTPURL(b.APIBackend); err != nil {
			return fmt.Errorf("Backend.APIBackend: %w", err)
		}
	}
	if b.APITimeout.DurationValue() <= 0 {
		return newFieldError("Backend.APITimeout", "必须大于 0")
	}
	if b.IdentityURL != "" {
		if err := validateHTTPURL(b.IdentityURL); err != nil {
			return fmt.Errorf("Backend.IdentityURL: %w", err)
		}
	}
	if b.UploadStub && b.APIBackend != "" {
		return newFieldError("Backend.UploadStub", "与 APIBackend 互斥，上传桩只用于本地无后端场景")
	}

	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
