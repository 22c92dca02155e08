package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LookupFunc 与 os.LookupEnv 同签名，测试中可以注入固定的环境。
type LookupFunc func(key string) (string, bool)

// DefaultRegion 在没有任何区域变量时使用。
const DefaultRegion = "us-east-1"

// 凭证来源，按解析优先级排列。
const (
	CredentialSourceEnv       = "env"
	CredentialSourceLegacyEnv = "legacy-env"
	CredentialSourceProfile   = "shared-profile"
	CredentialSourceNone      = "none"
)

// Credentials 是解析后的 AWS 访问凭证。日志里只允许出现 Redacted() 的结果。
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Profile         string
	Source          string
}

// Configured 表示是否拿到了完整的访问密钥对。
func (c Credentials) Configured() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Redacted 返回可写入日志的摘要，例如 env:AKIA****WXYZ@ap-northeast-2。
func (c Credentials) Redacted() string {
	if !c.Configured() {
		return fmt.Sprintf("%s@%s", c.Source, c.Region)
	}
	return fmt.Sprintf("%s:%s@%s", c.Source, maskKey(c.AccessKeyID), c.Region)
}

// ResolveCredentials 以固定优先级解析凭证：标准环境变量 → 旧前端 REACT_APP_* 变量 →
// 共享凭证文件中的 profile。全部缺失时返回 Source=none 而不是错误；
// 只配置了一半的密钥对属于配置错误。
func ResolveCredentials(lookup LookupFunc) (Credentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	region := firstNonEmpty(get("AWS_REGION"), get("AWS_DEFAULT_REGION"), get("REACT_APP_AWS_REGION"), DefaultRegion)

	pairs := []struct {
		source  string
		idKey   string
		keyKey  string
		sessKey string
	}{
		{CredentialSourceEnv, "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN"},
		{CredentialSourceLegacyEnv, "REACT_APP_AWS_ACCESS_KEY_ID", "REACT_APP_AWS_SECRET_ACCESS_KEY", "REACT_APP_AWS_SESSION_TOKEN"},
	}
	for _, p := range pairs {
		id, secret := get(p.idKey), get(p.keyKey)
		if id == "" && secret == "" {
			continue
		}
		if id == "" || secret == "" {
			return Credentials{}, newFieldError(p.idKey+"/"+p.keyKey, "必须同时提供或同时留空")
		}
		return Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    get(p.sessKey),
			Region:          region,
			Source:          p.source,
		}, nil
	}

	profile := firstNonEmpty(get("AWS_PROFILE"), get("REACT_APP_AWS_PROFILE"), "default")
	credPath := get("AWS_SHARED_CREDENTIALS_FILE")
	if credPath == "" {
		if home := get("HOME"); home != "" {
			credPath = filepath.Join(home, ".aws", "credentials")
		}
	}
	if credPath != "" {
		creds, err := loadProfile(credPath, profile)
		switch {
		case err == nil:
			creds.Region = firstNonEmpty(creds.Region, region)
			return creds, nil
		case errors.Is(err, os.ErrNotExist), errors.Is(err, errProfileMissing):
			// 没有共享凭证文件或 profile 时继续回退
		default:
			return Credentials{}, err
		}
	}

	return Credentials{Region: region, Profile: profile, Source: CredentialSourceNone}, nil
}

var errProfileMissing = errors.New("profile not found")

// loadProfile 借助 viper 的 INI 解析读取 ~/.aws/credentials 格式的文件。
func loadProfile(path, profile string) (Credentials, error) {
	if _, err := os.Stat(path); err != nil {
		return Credentials{}, err
	}

	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return Credentials{}, fmt.Errorf("读取共享凭证文件失败: %w", err)
	}

	key := func(name string) string {
		return strings.TrimSpace(v.GetString(profile + "::" + name))
	}
	id, secret := key("aws_access_key_id"), key("aws_secret_access_key")
	if id == "" && secret == "" {
		return Credentials{}, fmt.Errorf("%s [%s]: %w", path, profile, errProfileMissing)
	}
	if id == "" || secret == "" {
		return Credentials{}, newFieldError(fmt.Sprintf("%s[%s]", path, profile), "aws_access_key_id/aws_secret_access_key 必须同时提供")
	}
	return Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    key("aws_session_token"),
		Region:          key("region"),
		Profile:         profile,
		Source:          CredentialSourceProfile,
	}, nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
