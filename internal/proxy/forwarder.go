package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/demofactory/spa-host/internal/logging"
	"github.com/demofactory/spa-host/internal/server"
)

// 与前端约定的 CORS 策略，预检请求在本地直接应答。
const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS, PATCH"
	corsAllowHeaders = "Content-Type, Authorization, X-Requested-With, Accept, Origin, Cache-Control, X-File-Name"
	corsMaxAge       = "86400"
)

// Forwarder 把 /api/* 请求转发到后端服务，请求体（包括 multipart 边界）原样透传。
type Forwarder struct {
	client  *http.Client
	backend *url.URL
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder；backend 必须是绝对 http(s) 地址。
func NewForwarder(client *http.Client, backend *url.URL, logger *logrus.Logger) (*Forwarder, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if backend == nil || (backend.Scheme != "http" && backend.Scheme != "https") || backend.Host == "" {
		return nil, fmt.Errorf("invalid backend url: %v", backend)
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Forwarder{client: client, backend: backend, logger: logger}, nil
}

// Handle 是 fiber.Handler。后端不可达时返回 502，panic 被转换为 500 JSON。
func (f *Forwarder) Handle(c fiber.Ctx) (err error) {
	requestID := server.RequestID(c)
	defer func() {
		if r := recover(); r != nil {
			err = f.respondPanic(c, r, requestID)
		}
	}()

	applyCORS(c)
	if c.Method() == fiber.MethodOptions {
		c.Set("Access-Control-Max-Age", corsMaxAge)
		return c.SendStatus(fiber.StatusOK)
	}

	started := time.Now()
	target := f.targetURL(c)
	req, err := f.buildBackendRequest(c, target)
	if err != nil {
		f.logResult(c, target, requestID, 0, started, err)
		return writeError(c, fiber.StatusBadGateway, "backend_unavailable")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logResult(c, target, requestID, 0, started, err)
		return writeError(c, fiber.StatusBadGateway, "backend_unavailable")
	}

	copyResponseHeaders(c, resp.Header)
	applyCORS(c)
	c.Status(resp.StatusCode)
	f.logResult(c, target, requestID, resp.StatusCode, started, nil)

	if c.Method() == fiber.MethodHead {
		resp.Body.Close()
		return nil
	}
	body := &releasingBody{ReadCloser: resp.Body, release: server.DetachInflight(c)}
	return c.SendStream(body, int(resp.ContentLength))
}

func (f *Forwarder) targetURL(c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	target := *f.backend
	target.Path = strings.TrimRight(f.backend.Path, "/") + string(uri.Path())
	target.RawPath = ""
	target.RawQuery = string(uri.QueryString())
	return &target
}

func (f *Forwarder) buildBackendRequest(c fiber.Ctx, target *url.URL) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if raw := c.BodyRaw(); len(raw) > 0 {
		// fasthttp 会复用请求缓冲区，这里复制一份交给 http.Client
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	req, err := http.NewRequestWithContext(c.Context(), c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, requestHeaders(c))
	req.Header.Del("Host")
	req.Host = target.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())
	if requestID := server.RequestID(c); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	return req, nil
}

func requestHeaders(c fiber.Ctx) http.Header {
	header := http.Header{}
	for key, values := range c.GetReqHeaders() {
		for _, value := range values {
			header.Add(strings.Clone(key), strings.Clone(value))
		}
	}
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	listed := http.Header{}
	server.CopyHeaders(listed, headers)
	for key, values := range listed {
		// Content-Length 由 SendStream 根据实际长度设置
		if key == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func applyCORS(c fiber.Ctx) {
	origin := c.Get(fiber.HeaderOrigin)
	if origin == "" {
		origin = "*"
	}
	c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
	c.Set(fiber.HeaderAccessControlAllowMethods, corsAllowMethods)
	c.Set(fiber.HeaderAccessControlAllowHeaders, corsAllowHeaders)
	c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
	if origin != "*" {
		c.Append(fiber.HeaderVary, fiber.HeaderOrigin)
	}
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (f *Forwarder) respondPanic(c fiber.Ctx, recovered any, requestID string) error {
	f.logger.WithFields(logrus.Fields{
		"action":     "proxy",
		"request_id": requestID,
		"error":      "proxy_panic",
	}).Error(fmt.Sprintf("panic: %v", recovered))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return writeError(c, fiber.StatusInternalServerError, "proxy_panic")
}

func (f *Forwarder) logResult(c fiber.Ctx, target *url.URL, requestID string, status int, started time.Time, err error) {
	fields := logging.RequestFields(requestID, c.Method(), string(c.Request().URI().Path()), status, server.OutcomeProxy, time.Since(started))
	fields["action"] = "proxy"
	fields["backend"] = target.Redacted()
	if err != nil {
		fields["error"] = err.Error()
		f.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	f.logger.WithFields(fields).Info("proxy_complete")
}

// releasingBody 在后端响应体关闭时释放在途计数。
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if b.release != nil {
		b.release()
	}
	return err
}
