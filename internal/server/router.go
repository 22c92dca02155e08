package server

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/demofactory/spa-host/internal/assets"
	"github.com/demofactory/spa-host/internal/auth"
	"github.com/demofactory/spa-host/internal/ingress"
	"github.com/demofactory/spa-host/internal/logging"
)

// AppOptions controls how the Fiber application serves the build directory.
type AppOptions struct {
	Logger *logrus.Logger
	Assets assets.Store

	// CacheMaxAge 写入静态文件的 Cache-Control，默认一小时。
	CacheMaxAge time.Duration
	ReadTimeout time.Duration
	IdleTimeout time.Duration
	BodyLimit   int

	// Resolver 为空时所有请求都视为未认证。
	Resolver auth.Resolver
	// APIProxy 处理 /api/*；为空时 /api 路径与普通路径一样走静态资源与回退。
	APIProxy fiber.Handler
	// UploadHandler 处理 POST /api/upload/secure，通常是本地桩后端。
	UploadHandler fiber.Handler
	// Inflight 由 Host 共享，用于关闭时统计仍在处理的请求。
	Inflight *Inflight
}

const (
	contextKeyRequestID = "_spahost_request_id"
	contextKeyOutcome   = "_spahost_outcome"
	contextKeyInflight  = "_spahost_inflight"
	contextKeyIdentity  = "_spahost_identity"
)

// 访问日志中的 outcome 取值。
const (
	OutcomeAsset       = "asset"
	OutcomeFallback    = "fallback"
	OutcomeMissing     = "missing"
	OutcomeProxy       = "proxy"
	OutcomeStub        = "stub"
	OutcomeDiagnostics = "diagnostics"
	OutcomeError       = "error"
)

// NewApp builds a Fiber application with request middleware, the /api hooks
// and the static asset handler. Diagnostics routes may be registered on the
// returned app afterwards; the asset handler yields /-/ paths to them.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Assets == nil {
		return nil, errors.New("asset store is required")
	}
	if opts.CacheMaxAge < 0 {
		return nil, errors.New("cache max age must not be negative")
	}
	if opts.Resolver == nil {
		opts.Resolver = auth.AnonymousResolver{}
	}
	if opts.Inflight == nil {
		opts.Inflight = NewInflight()
	}

	// 转发时需要原样的 multipart 字节，上传桩按需调用 MultipartForm
	cfg := fiber.Config{
		CaseSensitive:                true,
		ReadTimeout:                  opts.ReadTimeout,
		IdleTimeout:                  opts.IdleTimeout,
		ErrorHandler:                 errorHandler(opts.Logger),
		DisablePreParseMultipartForm: true,
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	app.Use(recover.New(recover.Config{
		EnableStackTrace:  true,
		StackTraceHandler: panicLogger(opts.Logger),
	}))
	app.Use(requestContextMiddleware(opts))
	app.Use(identityMiddleware(opts.Resolver, opts.Logger))

	if opts.UploadHandler != nil {
		upload := opts.UploadHandler
		app.Post(ingress.Path, func(c fiber.Ctx) error {
			setOutcome(c, OutcomeStub)
			return upload(c)
		})
	}
	if opts.APIProxy != nil {
		proxy := opts.APIProxy
		handler := func(c fiber.Ctx) error {
			setOutcome(c, OutcomeProxy)
			return proxy(c)
		}
		app.All("/api", handler)
		app.All("/api/*", handler)
	}

	spa := &spaHandler{
		store:       opts.Assets,
		logger:      opts.Logger,
		cacheMaxAge: opts.CacheMaxAge,
	}
	app.Get("/*", spa.serve)
	app.Use(methodNotFound)

	return app, nil
}

// methodNotFound 让非 GET/HEAD 的 SPA 路径返回 404 而不是 405。
// GET 放行给之后注册的诊断路由。
func methodNotFound(c fiber.Ctx) error {
	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead:
		return c.Next()
	}
	setOutcome(c, OutcomeMissing)
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusNotFound).SendString("Cannot " + c.Method() + " " + c.Path())
}

// requestContextMiddleware 负责生成请求 ID、登记在途请求并输出访问日志。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	logger := opts.Logger
	inflight := opts.Inflight
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		token := inflight.acquire()
		c.Locals(contextKeyInflight, token)
		defer func() {
			if !token.handedOff() {
				token.release()
			}
		}()

		err := c.Next()

		status := c.Response().StatusCode()
		outcome := Outcome(c)
		if err != nil {
			outcome = OutcomeError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		fields := logging.RequestFields(reqID, c.Method(), string(c.Request().URI().Path()), status, outcome, time.Since(started))
		fields["action"] = "request"
		if outcome == OutcomeDiagnostics {
			logger.WithFields(fields).Debug("request_complete")
		} else {
			logger.WithFields(fields).Info("request_complete")
		}
		return err
	}
}

// errorHandler 是顶层兜底：未处理错误与 panic 统一转为纯文本 500，不向客户端暴露细节。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "Internal Server Error"
		var fe *fiber.Error
		if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
			status = fe.Code
			message = fe.Message
		}

		fields := logrus.Fields{
			"action":     "request",
			"request_id": RequestID(c),
			"method":     c.Method(),
			"path":       string(c.Request().URI().Path()),
			"status":     status,
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(fields).WithError(err).Error("request_failed")
		} else {
			logger.WithFields(fields).Debug(message)
		}

		c.Response().ResetBody()
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(status).SendString(message)
	}
}

// panicLogger 把 panic 堆栈写入服务端日志，客户端只会收到通用 500。
func panicLogger(logger *logrus.Logger) func(fiber.Ctx, any) {
	return func(c fiber.Ctx, recovered any) {
		logger.WithFields(logrus.Fields{
			"action":     "request",
			"request_id": RequestID(c),
			"panic":      fmt.Sprint(recovered),
			"stack":      string(debug.Stack()),
		}).Error("handler_panic")
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// Outcome 返回 handler 记录的处理结果，未记录时为空。
func Outcome(c fiber.Ctx) string {
	if value, ok := c.Locals(contextKeyOutcome).(string); ok {
		return value
	}
	return ""
}

// MarkDiagnostics 供诊断路由标记请求，使访问日志降为 debug。
func MarkDiagnostics(c fiber.Ctx) {
	setOutcome(c, OutcomeDiagnostics)
}

func setOutcome(c fiber.Ctx, outcome string) {
	c.Locals(contextKeyOutcome, outcome)
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
