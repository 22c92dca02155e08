package config

import (
	"errors"
	"testing"
	"time"
)

func asFieldError(err error, target *FieldError) bool {
	return errors.As(err, target)
}

func TestValidateIndexFileMustBeBareName(t *testing.T) {
	testCases := []struct {
		name      string
		index     string
		shouldErr bool
	}{
		{"plain", "index.html", false},
		{"custom", "app.html", false},
		{"nested", "static/index.html", true},
		{"windows nested", `static\index.html`, true},
		{"parent", "..", true},
		{"empty", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.IndexFile = tc.index
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for index %q", tc.index)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for index %q: %v", tc.index, err)
			}
		})
	}
}

func TestValidateBackendURLs(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.APIBackend = "localhost:3001"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("缺少协议头的后端地址应报错")
	}

	cfg = validConfig()
	cfg.Backend.IdentityURL = "ftp://id.local/session"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http(s) 的身份服务地址应报错")
	}
}

func TestValidateUploadStubExcludesBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.UploadStub = true
	cfg.Backend.APIBackend = "http://localhost:3001"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("上传桩与后端转发同时开启应报错")
	}
}

func TestValidateLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知日志级别应报错")
	}
}

func TestValidateShutdownTimeoutPositive(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ShutdownTimeout = Duration(-time.Second)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负数 ShutdownTimeout 应报错")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("45")); err != nil || d.DurationValue() != 45*time.Second {
		t.Fatalf("纯数字应按秒解析: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("1m30s")); err != nil || d.DurationValue() != 90*time.Second {
		t.Fatalf("Go Duration 字符串应被解析: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("非法值应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenPort:      3000,
			BuildDir:        "./build",
			IndexFile:       "index.html",
			CacheMaxAge:     Duration(time.Hour),
			ShutdownTimeout: Duration(10 * time.Second),
			ReadTimeout:     Duration(30 * time.Second),
			IdleTimeout:     Duration(time.Minute),
			BodyLimitMB:     100,
		},
		Log: LogConfig{LogLevel: "info"},
		Backend: BackendConfig{
			APITimeout: Duration(time.Minute),
		},
	}
}

func TestValidateBodyLimit(t *testing.T) {
	for _, limit := range []int{0, -1, 5000} {
		cfg := validConfig()
		cfg.Server.BodyLimitMB = limit
		var fe FieldError
		if !asFieldError(cfg.Validate(), &fe) || fe.Field != "Server.BodyLimitMB" {
			t.Fatalf("BodyLimitMB=%d 应返回 FieldError", limit)
		}
	}
	cfg := validConfig()
	if cfg.BodyLimit() != 100<<20 {
		t.Fatalf("BodyLimit 应换算为字节，得到 %d", cfg.BodyLimit())
	}
}
