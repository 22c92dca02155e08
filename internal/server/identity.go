package server

import (
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/demofactory/spa-host/internal/auth"
)

// lazyIdentity 推迟到首次读取时才调用身份服务，静态资源请求不会产生额外往返。
type lazyIdentity struct {
	once     sync.Once
	resolve  func() auth.Identity
	identity auth.Identity
}

func (l *lazyIdentity) get() auth.Identity {
	l.once.Do(func() {
		l.identity = l.resolve()
	})
	return l.identity
}

func identityMiddleware(resolver auth.Resolver, logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		ctx := c.Context()
		requestID := RequestID(c)
		c.Locals(contextKeyIdentity, &lazyIdentity{
			resolve: func() auth.Identity {
				id, err := resolver.Resolve(ctx, token)
				if err != nil {
					logger.WithFields(logrus.Fields{
						"action":     "identity",
						"request_id": requestID,
					}).WithError(err).Warn("身份解析失败，按未认证处理")
					return auth.Unauthenticated{}
				}
				return id
			},
		})
		return c.Next()
	}
}

// IdentityFor 返回当前请求的身份，首次调用时才向身份服务查询。
// 不经过中间件的上下文一律视为未认证。
func IdentityFor(c fiber.Ctx) auth.Identity {
	if lazy, ok := c.Locals(contextKeyIdentity).(*lazyIdentity); ok && lazy != nil {
		return lazy.get()
	}
	return auth.Unauthenticated{}
}
