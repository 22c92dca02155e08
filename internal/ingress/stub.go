package ingress

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// StubKeyPrefix 是桩后端返回的资源键前缀，便于前端识别未真正落盘的文件。
const StubKeyPrefix = "stub://uploads/"

// NewStubHandler 返回一个遵循上传契约的 fiber handler，用于本地开发。
// 它只校验表单形状并回显元数据，不读取文件内容，也不保证重试幂等。
func NewStubHandler(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil {
			return rejectStub(c, logger, "expected multipart/form-data body")
		}

		files := form.File[FieldFile]
		if len(files) != 1 {
			return rejectStub(c, logger, fmt.Sprintf("expected exactly one %q part, got %d", FieldFile, len(files)))
		}
		contentID := ""
		if values := form.Value[FieldContentID]; len(values) > 0 {
			contentID = strings.TrimSpace(values[0])
		}
		if contentID == "" {
			return rejectStub(c, logger, fmt.Sprintf("missing %q field", FieldContentID))
		}

		fh := files[0]
		name := filepath.Base(strings.ReplaceAll(fh.Filename, "\\", "/"))
		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(name))
		}

		result := Result{
			Success:   true,
			ContentID: contentID,
			Message:   "stored by stub backend",
			File: &StoredFile{
				Name:        name,
				Key:         StubKeyPrefix + contentID + "/" + name,
				Size:        fh.Size,
				ContentType: contentType,
			},
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"action":     "upload_stub",
				"content_id": contentID,
				"file_name":  name,
				"file_size":  fh.Size,
			}).Info("upload_accepted")
		}
		return c.Status(fiber.StatusOK).JSON(result)
	}
}

func rejectStub(c fiber.Ctx, logger *logrus.Logger, reason string) error {
	if logger != nil {
		logger.WithFields(logrus.Fields{"action": "upload_stub", "reason": reason}).Warn("upload_rejected")
	}
	c.Type("txt", "utf-8")
	return c.Status(fiber.StatusBadRequest).SendString(reason)
}
