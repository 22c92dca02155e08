package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ServerConfig 描述静态站点宿主的监听与资源行为。
type ServerConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	BuildDir        string   `mapstructure:"BuildDir"`
	IndexFile       string   `mapstructure:"IndexFile"`
	CacheMaxAge     Duration `mapstructure:"CacheMaxAge"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
	ReadTimeout     Duration `mapstructure:"ReadTimeout"`
	IdleTimeout     Duration `mapstructure:"IdleTimeout"`
	// BodyLimitMB 限制单个请求体大小，主要影响经由本进程转发的上传。
	BodyLimitMB     int      `mapstructure:"BodyLimitMB"`
}

// LogConfig 控制日志级别与落盘轮转。
type LogConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// BackendConfig 描述 /api 转发、上传桩与身份服务等外部协作方。
type BackendConfig struct {
	APIBackend  string   `mapstructure:"APIBackend"`
	APITimeout  Duration `mapstructure:"APITimeout"`
	UploadStub  bool     `mapstructure:"UploadStub"`
	IdentityURL string   `mapstructure:"IdentityURL"`
}

// Config 是环境变量 / TOML 文件映射的整体结构。
type Config struct {
	Server  ServerConfig  `mapstructure:",squash"`
	Log     LogConfig     `mapstructure:",squash"`
	Backend BackendConfig `mapstructure:",squash"`

	// Warnings 收集加载阶段被自动纠正的输入（例如非数字 PORT），由调用方记录日志。
	Warnings []string `mapstructure:"-"`
}

// ListenAddr 返回 net.Listen 使用的地址。
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.ListenPort)
}

// BodyLimit 返回以字节计的请求体上限。
func (c *Config) BodyLimit() int {
	return c.Server.BodyLimitMB << 20
}

// ProxyEnabled 表示是否需要把 /api/* 转发到后端。
func (c *Config) ProxyEnabled() bool {
	return strings.TrimSpace(c.Backend.APIBackend) != ""
}

// IdentityMode 输出 `remote` 或 `anonymous`，供日志字段使用。
func (c *Config) IdentityMode() string {
	if strings.TrimSpace(c.Backend.IdentityURL) != "" {
		return "remote"
	}
	return "anonymous"
}
