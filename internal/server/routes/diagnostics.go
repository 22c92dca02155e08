package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/demofactory/spa-host/internal/assets"
	"github.com/demofactory/spa-host/internal/auth"
	"github.com/demofactory/spa-host/internal/server"
	"github.com/demofactory/spa-host/internal/version"
)

// 诊断路由位于 /-/ 前缀下，不会与 SPA 路由冲突。
const (
	HealthzPath = "/-/healthz"
	SessionPath = "/-/session"
)

// HostStatus 由 server.Host 实现，测试中可以注入固定值。
type HostStatus interface {
	State() server.State
	InFlight() int64
}

// RegisterDiagnostics 暴露 /-/healthz 与 /-/session 诊断接口。
// 必须在 Host 启动前调用。status 为空时只报告构建目录状态。
func RegisterDiagnostics(app *fiber.App, store assets.Store, status HostStatus) {
	if app == nil || store == nil {
		return
	}

	app.Get(HealthzPath, func(c fiber.Ctx) error {
		server.MarkDiagnostics(c)
		payload := healthPayload{
			Status:      "healthy",
			IndexExists: store.IndexExists(),
			Version:     version.Full(),
		}
		if !payload.IndexExists {
			payload.Status = "degraded"
		}
		if status != nil {
			payload.State = status.State().String()
			payload.InFlight = status.InFlight()
		}
		return c.JSON(payload)
	})

	app.Get(SessionPath, func(c fiber.Ctx) error {
		server.MarkDiagnostics(c)
		return c.JSON(encodeIdentity(server.IdentityFor(c)))
	})
}

type healthPayload struct {
	Status      string `json:"status"`
	State       string `json:"state,omitempty"`
	IndexExists bool   `json:"index_exists"`
	InFlight    int64  `json:"inflight"`
	Version     string `json:"version"`
}

type sessionPayload struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"user_id,omitempty"`
	Email         string     `json:"email,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func encodeIdentity(id auth.Identity) sessionPayload {
	session, ok := auth.SessionOf(id)
	if !ok {
		return sessionPayload{}
	}
	payload := sessionPayload{
		Authenticated: true,
		UserID:        session.UserID,
		Email:         session.Email,
	}
	if !session.ExpiresAt.IsZero() {
		expires := session.ExpiresAt.UTC()
		payload.ExpiresAt = &expires
	}
	return payload
}
