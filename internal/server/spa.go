package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/demofactory/spa-host/internal/assets"
)

// MissingBuildMessage 是构建产物缺失时返回给调用方的提示。
const MissingBuildMessage = "Build files not found. Please run npm run build first."

type spaHandler struct {
	store       assets.Store
	logger      *logrus.Logger
	cacheMaxAge time.Duration
}

// serve 依次尝试：构建目录中的常规文件 → SPA 入口文档 → 404 提示。
func (h *spaHandler) serve(c fiber.Ctx) error {
	requestPath := string(c.Request().URI().Path())
	if isDiagnosticsPath(requestPath) {
		return c.Next()
	}

	asset, err := h.store.Open(c.Context(), requestPath)
	switch {
	case err == nil:
		setOutcome(c, OutcomeAsset)
		c.Set(fiber.HeaderCacheControl, cacheControl(h.cacheMaxAge))
		return h.send(c, asset)
	case !errors.Is(err, assets.ErrNotFound):
		return fmt.Errorf("open asset %s: %w", requestPath, err)
	}

	index, err := h.store.OpenIndex(c.Context())
	switch {
	case err == nil:
		setOutcome(c, OutcomeFallback)
		// 入口文档会随每次构建变化，要求浏览器每次校验。
		c.Set(fiber.HeaderCacheControl, "no-cache")
		return h.send(c, index)
	case errors.Is(err, assets.ErrIndexMissing):
		setOutcome(c, OutcomeMissing)
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusNotFound).SendString(MissingBuildMessage)
	default:
		return fmt.Errorf("open index: %w", err)
	}
}

// send 以流的方式写出文件。文件句柄与在途计数在 fasthttp 关闭响应体流时释放，
// 客户端中途断开同样会触发关闭。
func (h *spaHandler) send(c fiber.Ctx, asset *assets.Asset) error {
	modified := asset.ModTime.UTC().Truncate(time.Second)
	c.Set(fiber.HeaderLastModified, modified.Format(http.TimeFormat))
	c.Set(fiber.HeaderContentType, asset.ContentType)

	if since := c.Get(fiber.HeaderIfModifiedSince); since != "" {
		if t, err := http.ParseTime(since); err == nil && !modified.After(t) {
			_ = asset.Close()
			return c.SendStatus(fiber.StatusNotModified)
		}
	}

	stream := &assetStream{
		asset:     asset,
		token:     takeInflight(c),
		logger:    h.logger,
		requestID: RequestID(c),
		head:      c.Method() == fiber.MethodHead,
	}
	c.Status(fiber.StatusOK)
	return c.SendStream(stream, int(asset.Size))
}

func cacheControl(maxAge time.Duration) string {
	return "public, max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10)
}

// assetStream 包装文件读取，记录已发送字节以区分正常结束与客户端断开。
type assetStream struct {
	asset     *assets.Asset
	token     *inflightToken
	logger    *logrus.Logger
	requestID string
	head      bool

	sent    int64
	readErr error
	once    sync.Once
}

func (s *assetStream) Read(p []byte) (int, error) {
	n, err := s.asset.Reader.Read(p)
	s.sent += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		s.readErr = err
	}
	return n, err
}

func (s *assetStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.asset.Close()
		if s.token != nil {
			s.token.release()
		}

		fields := logrus.Fields{
			"action":     "stream",
			"request_id": s.requestID,
			"asset":      s.asset.RelPath,
			"size":       s.asset.Size,
			"sent":       s.sent,
		}
		switch {
		case s.readErr != nil:
			s.logger.WithFields(fields).WithError(s.readErr).Error("asset_read_failed")
		case !s.head && s.sent < s.asset.Size:
			s.logger.WithFields(fields).Debug("client_disconnected")
		}
	})
	return err
}
