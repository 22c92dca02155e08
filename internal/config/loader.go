package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultListenPort 是 PORT 未设置或无法解析时使用的端口。
const DefaultListenPort = 3000

// envBindings 把配置键映射到进程环境变量，环境变量优先于配置文件。
var envBindings = map[string]string{
	"ListenPort":      "PORT",
	"BuildDir":        "BUILD_DIR",
	"IndexFile":       "INDEX_FILE",
	"CacheMaxAge":     "CACHE_MAX_AGE",
	"ShutdownTimeout": "SHUTDOWN_TIMEOUT",
	"ReadTimeout":     "READ_TIMEOUT",
	"IdleTimeout":     "IDLE_TIMEOUT",
	"BodyLimitMB":     "BODY_LIMIT_MB",
	"LogLevel":        "LOG_LEVEL",
	"LogFilePath":     "LOG_FILE",
	"LogMaxSize":      "LOG_MAX_SIZE",
	"LogMaxBackups":   "LOG_MAX_BACKUPS",
	"LogCompress":     "LOG_COMPRESS",
	"APIBackend":      "API_BACKEND_URL",
	"APITimeout":      "API_TIMEOUT",
	"UploadStub":      "UPLOAD_STUB",
	"IdentityURL":     "IDENTITY_URL",
}

// Load 读取可选的 TOML 配置文件并叠加环境变量，同时注入默认值与校验逻辑。
// path 为空时只使用环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var warnings []string
	if warn := normalizeListenPort(v); warn != "" {
		warnings = append(warnings, warn)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.Warnings = warnings

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absBuild, err := filepath.Abs(cfg.Server.BuildDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析构建目录: %w", err)
	}
	cfg.Server.BuildDir = absBuild

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", DefaultListenPort)
	v.SetDefault("BuildDir", "./build")
	v.SetDefault("IndexFile", "index.html")
	v.SetDefault("CacheMaxAge", "1h")
	v.SetDefault("ShutdownTimeout", "10s")
	v.SetDefault("ReadTimeout", "30s")
	v.SetDefault("IdleTimeout", "60s")
	v.SetDefault("BodyLimitMB", 100)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("APIBackend", "")
	v.SetDefault("APITimeout", "5m")
	v.SetDefault("UploadStub", false)
	v.SetDefault("IdentityURL", "")
}

// normalizeListenPort 把非数字的 PORT 回退为默认端口，返回需要记录的告警。
// 数值越界交给 Validate 处理，以便启动失败时给出明确原因。
func normalizeListenPort(v *viper.Viper) string {
	raw := strings.TrimSpace(v.GetString("ListenPort"))
	if raw == "" {
		v.Set("ListenPort", DefaultListenPort)
		return ""
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		v.Set("ListenPort", DefaultListenPort)
		return fmt.Sprintf("PORT=%q 不是数字，使用默认端口 %d", raw, DefaultListenPort)
	}
	v.Set("ListenPort", port)
	return ""
}

func applyDefaults(cfg *Config) {
	s := &cfg.Server
	if strings.TrimSpace(s.IndexFile) == "" {
		s.IndexFile = "index.html"
	}
	if s.CacheMaxAge.DurationValue() == 0 {
		s.CacheMaxAge = Duration(time.Hour)
	}
	if s.ShutdownTimeout.DurationValue() == 0 {
		s.ShutdownTimeout = Duration(10 * time.Second)
	}
	if s.ReadTimeout.DurationValue() == 0 {
		s.ReadTimeout = Duration(30 * time.Second)
	}
	if s.IdleTimeout.DurationValue() == 0 {
		s.IdleTimeout = Duration(60 * time.Second)
	}
	if cfg.Backend.APITimeout.DurationValue() == 0 {
		cfg.Backend.APITimeout = Duration(5 * time.Minute)
	}
	cfg.Backend.APIBackend = strings.TrimRight(strings.TrimSpace(cfg.Backend.APIBackend), "/")
	cfg.Backend.IdentityURL = strings.TrimSpace(cfg.Backend.IdentityURL)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
			}
			return d, nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
