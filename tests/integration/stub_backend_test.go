package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/demofactory/spa-host/internal/ingress"
)

// backendStub 模拟外部上传后端：解析 multipart 并按契约返回 JSON。
type backendStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	requests []RecordedRequest
	// failWith 非 0 时直接返回该状态码与纯文本错误
	failWith int
}

// RecordedRequest 捕获后端收到的请求，便于断言转发行为。
type RecordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Headers     http.Header
	RawBody     []byte
	FileName    string
	FileBytes   []byte
	ContentID   string
}

func newBackendStub(t *testing.T) *backendStub {
	t.Helper()

	stub := &backendStub{}
	mux := http.NewServeMux()
	mux.HandleFunc(ingress.Path, stub.handleUpload)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start backend stub listener: %v", err)
	}
	stub.listener = listener
	stub.server = &http.Server{Handler: mux}
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = stub.server.Serve(listener)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = stub.server.Shutdown(ctx)
	})
	return stub
}

func (s *backendStub) handleUpload(w http.ResponseWriter, r *http.Request) {
	rec := RecordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Headers:     r.Header.Clone(),
	}
	rec.RawBody, _ = io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(rec.RawBody))
	if err := r.ParseMultipartForm(8 << 20); err == nil {
		rec.ContentID = r.FormValue(ingress.FieldContentID)
		if file, header, err := r.FormFile(ingress.FieldFile); err == nil {
			rec.FileName = header.Filename
			rec.FileBytes, _ = io.ReadAll(file)
			file.Close()
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	failWith := s.failWith
	s.mu.Unlock()

	if failWith != 0 {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(failWith)
		_, _ = io.WriteString(w, "storage unavailable")
		return
	}
	if rec.FileName == "" || rec.ContentID == "" {
		http.Error(w, "missing file or contentId", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ingress.Result{
		Success:   true,
		ContentID: rec.ContentID,
		File: &ingress.StoredFile{
			Name: rec.FileName,
			Key:  "uploads/" + rec.ContentID,
			Size: int64(len(rec.FileBytes)),
		},
	})
}

func (s *backendStub) setFailure(status int) {
	s.mu.Lock()
	s.failWith = status
	s.mu.Unlock()
}

func (s *backendStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}
