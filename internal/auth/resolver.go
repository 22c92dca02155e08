package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Resolver 把请求携带的 token 交给身份服务解析。空 token 必须得到 Unauthenticated。
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// AnonymousResolver 用于未配置身份服务的部署：任何请求都是 Unauthenticated。
type AnonymousResolver struct{}

func (AnonymousResolver) Resolve(context.Context, string) (Identity, error) {
	return Unauthenticated{}, nil
}

// RemoteResolver 通过 HTTP 向身份服务查询会话：
// 200 + JSON Session → Authenticated；401/403 → Unauthenticated；其余状态视为错误。
type RemoteResolver struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// NewRemoteResolver 创建 RemoteResolver；client 为空时使用 5s 超时的默认客户端。
func NewRemoteResolver(endpoint string, client *http.Client) *RemoteResolver {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteResolver{
		endpoint: endpoint,
		client:   client,
		now:      time.Now,
	}
}

func (r *RemoteResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Unauthenticated{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Unauthenticated{}, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("identity service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var session Session
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode identity session: %w", err)
	}
	if session.UserID == "" || session.Expired(r.now()) {
		return Unauthenticated{}, nil
	}
	return AuthenticatedIdentity{Session: session}, nil
}

// BearerToken 从 Authorization 头中提取 Bearer token。
func BearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
