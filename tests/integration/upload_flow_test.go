package integration

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/demofactory/spa-host/internal/ingress"
	"github.com/demofactory/spa-host/internal/logging"
	"github.com/demofactory/spa-host/internal/proxy"
	"github.com/demofactory/spa-host/internal/server"
)

func withStubUpload() hostOption {
	return func(opts *server.AppOptions) {
		opts.UploadHandler = ingress.NewStubHandler(logging.Discard())
	}
}

func withBackend(t *testing.T, backendURL string) hostOption {
	t.Helper()
	target, err := url.Parse(backendURL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	forwarder, err := proxy.NewForwarder(&http.Client{Timeout: 10 * time.Second}, target, logging.Discard())
	if err != nil {
		t.Fatalf("NewForwarder error: %v", err)
	}
	return func(opts *server.AppOptions) {
		opts.APIProxy = forwarder.Handle
	}
}

// teeTransport 记录客户端真正写到网络上的请求体，用于和后端收到的字节比对。
type teeTransport struct {
	mu          sync.Mutex
	body        bytes.Buffer
	contentType string
}

func (t *teeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.contentType = req.Header.Get("Content-Type")
	t.mu.Unlock()
	if req.Body != nil {
		req.Body = &teeBody{ReadCloser: req.Body, owner: t}
	}
	return (&http.Transport{DisableKeepAlives: true}).RoundTrip(req)
}

func (t *teeTransport) snapshot() ([]byte, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.body.Bytes()...), t.contentType
}

type teeBody struct {
	io.ReadCloser
	owner *teeTransport
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.owner.mu.Lock()
		b.owner.body.Write(p[:n])
		b.owner.mu.Unlock()
	}
	return n, err
}

func uploadRequest(payload []byte) ingress.Request {
	return ingress.Request{
		File: ingress.FilePart{
			Name:        "report.pdf",
			ContentType: "application/pdf",
			Size:        int64(len(payload)),
			Body:        bytes.NewReader(payload),
		},
		ContentID: ingress.NewContentID("content"),
		Fields:    map[string]string{"title": "Quarterly"},
	}
}

func TestUploadAgainstStubHandler(t *testing.T) {
	host := startHost(t, buildFixture(t, nil), time.Second, withStubUpload())
	client, err := ingress.NewClient(host.URL, httpClient())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	payload := []byte("%PDF-1.7 stub payload")
	req := uploadRequest(payload)
	result, err := client.Upload(context.Background(), req)
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if !result.Success || result.ContentID != req.ContentID {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.File == nil || result.File.Size != int64(len(payload)) || result.File.Name != "report.pdf" {
		t.Fatalf("unexpected stored file %+v", result.File)
	}
	if !strings.HasPrefix(result.File.Key, ingress.StubKeyPrefix+req.ContentID+"/") {
		t.Fatalf("stub key should embed the content id, got %q", result.File.Key)
	}

	// GET 上传路径不属于上传契约，仍然回退到 SPA
	resp, err := httpClient().Get(host.URL + ingress.Path)
	if err != nil {
		t.Fatalf("GET upload path failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s should fall back to index, got %d", ingress.Path, resp.StatusCode)
	}
}

func TestUploadThroughProxyReachesBackend(t *testing.T) {
	backend := newBackendStub(t)
	host := startHost(t, buildFixture(t, nil), time.Second, withBackend(t, backend.URL))
	wire := &teeTransport{}
	client, err := ingress.NewClient(host.URL, &http.Client{Timeout: 10 * time.Second, Transport: wire})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	payload := bytes.Repeat([]byte("scan-me"), 64<<10)
	req := uploadRequest(payload)
	result, err := client.Upload(context.Background(), req)
	if err != nil {
		t.Fatalf("Upload through proxy error: %v", err)
	}
	if result.ContentID != req.ContentID || result.File == nil || result.File.Key != "uploads/"+req.ContentID {
		t.Fatalf("unexpected result %+v", result)
	}

	recorded := backend.Requests()
	if len(recorded) != 1 {
		t.Fatalf("backend should see exactly one request, got %d", len(recorded))
	}
	got := recorded[0]
	if got.Method != http.MethodPost || got.Path != ingress.Path {
		t.Fatalf("unexpected forwarded request %s %s", got.Method, got.Path)
	}
	sentBody, sentType := wire.snapshot()
	if !strings.HasPrefix(sentType, "multipart/form-data; boundary=") || got.ContentType != sentType {
		t.Fatalf("multipart boundary must survive the proxy: sent %q, backend saw %q", sentType, got.ContentType)
	}
	if !bytes.Equal(got.RawBody, sentBody) {
		t.Fatalf("proxy rewrote the multipart body: sent %d bytes, backend saw %d", len(sentBody), len(got.RawBody))
	}
	if got.Headers.Get("X-Forwarded-Proto") != "http" {
		t.Fatalf("unexpected X-Forwarded-Proto %q", got.Headers.Get("X-Forwarded-Proto"))
	}
	if got.ContentID != req.ContentID || got.FileName != "report.pdf" {
		t.Fatalf("form fields lost in transit: %+v", got)
	}
	if !bytes.Equal(got.FileBytes, payload) {
		t.Fatalf("file bytes changed in transit: got %d bytes, want %d", len(got.FileBytes), len(payload))
	}
	if got.Headers.Get("X-Forwarded-For") == "" || got.Headers.Get("X-Request-ID") == "" {
		t.Fatalf("forwarding headers missing: %v", got.Headers)
	}
	waitForIdle(t, host.Host)
}

func TestUploadSurfacesBackendFailure(t *testing.T) {
	backend := newBackendStub(t)
	backend.setFailure(http.StatusServiceUnavailable)
	host := startHost(t, buildFixture(t, nil), time.Second, withBackend(t, backend.URL))
	client, err := ingress.NewClient(host.URL, httpClient())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	_, err = client.Upload(context.Background(), uploadRequest([]byte("payload")))
	var statusErr *ingress.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || statusErr.Body != "storage unavailable" {
		t.Fatalf("status and body should both surface, got %d %q", statusErr.StatusCode, statusErr.Body)
	}
}

func TestUploadWithBackendDown(t *testing.T) {
	// 先占一个端口再释放，得到一个大概率无人监听的地址
	backend := newBackendStub(t)
	deadURL := backend.URL
	_ = backend.server.Close()

	host := startHost(t, buildFixture(t, nil), time.Second, withBackend(t, deadURL))
	client, err := ingress.NewClient(host.URL, httpClient())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	_, err = client.Upload(context.Background(), uploadRequest([]byte("payload")))
	var statusErr *ingress.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if !strings.Contains(statusErr.Body, "backend_unavailable") {
		t.Fatalf("unexpected 502 body %q", statusErr.Body)
	}
}
