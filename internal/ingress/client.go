package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody 限制错误响应体的读取量，避免后端返回大页面时占满内存。
const maxErrorBody = 64 << 10

// Client 按上传契约向后端提交 multipart 请求。
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient 使用后端根地址创建客户端，Path 会追加在 base 之后。
// httpClient 为空时使用 5 分钟超时的默认客户端。
func NewClient(base string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: must be absolute http(s)", base)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		endpoint: strings.TrimRight(parsed.String(), "/") + Path,
		http:     httpClient,
	}, nil
}

// Endpoint 返回完整的上传地址。
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Upload 提交一次上传。Content-Type 始终取自 multipart writer，调用方无法覆盖边界。
func (c *Client) Upload(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if !result.Success {
		return nil, &RejectedError{Result: result}
	}
	return &result, nil
}

func (r Request) validate() error {
	switch {
	case r.File.Body == nil:
		return fmt.Errorf("%w: file body is required", ErrInvalidRequest)
	case strings.TrimSpace(r.File.Name) == "":
		return fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	case strings.TrimSpace(r.ContentID) == "":
		return fmt.Errorf("%w: contentId is required", ErrInvalidRequest)
	}
	for key := range r.Fields {
		if key == FieldFile || key == FieldContentID {
			return fmt.Errorf("%w: field %q is reserved", ErrInvalidRequest, key)
		}
	}
	return nil
}

func writeMultipart(mw *multipart.Writer, req Request) error {
	contentType := req.File.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldFile, escapeQuotes(req.File.Name)))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, req.File.Body); err != nil {
		return fmt.Errorf("stream file part: %w", err)
	}
	if err := mw.WriteField(FieldContentID, req.ContentID); err != nil {
		return err
	}
	for key, value := range req.Fields {
		if err := mw.WriteField(key, value); err != nil {
			return err
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
