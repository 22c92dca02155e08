// Package auth models who is making a request without deciding what they may
// do. Identities are resolved by an external identity provider; the host only
// carries the result so that handlers and diagnostics can read it.
package auth

import "time"

// Identity 是请求方身份的多态表示，只有 Unauthenticated 与 Authenticated 两种取值。
type Identity interface {
	// Authenticated 报告是否存在有效会话。
	Authenticated() bool
	identity()
}

// Session 是身份服务返回的会话摘要。
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired 报告会话是否已过期；零值 ExpiresAt 表示不过期。
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Unauthenticated 表示请求未携带凭证或凭证无效。
type Unauthenticated struct{}

func (Unauthenticated) Authenticated() bool { return false }
func (Unauthenticated) identity()           {}

// AuthenticatedIdentity 携带已验证的会话。
type AuthenticatedIdentity struct {
	Session Session
}

func (AuthenticatedIdentity) Authenticated() bool { return true }
func (AuthenticatedIdentity) identity()           {}

// SessionOf 在身份已认证时返回会话。
func SessionOf(id Identity) (Session, bool) {
	if a, ok := id.(AuthenticatedIdentity); ok {
		return a.Session, true
	}
	return Session{}, false
}
