package integration

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/demofactory/spa-host/internal/assets"
	"github.com/demofactory/spa-host/internal/logging"
	"github.com/demofactory/spa-host/internal/server"
	"github.com/demofactory/spa-host/internal/server/routes"
)

const indexHTML = "<!doctype html><html><body><div id=\"root\">App Shell</div></body></html>"

// testHost 封装一次完整的真实监听，测试结束时自动排空。
type testHost struct {
	*server.Host
	Root string
	URL  string
}

type hostOption func(*server.AppOptions)

// buildFixture 生成与 React 构建产物同构的目录：index.html + static/logo.png。
func buildFixture(t *testing.T, extra map[string][]byte) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "build")
	files := map[string][]byte{
		"index.html":      []byte(indexHTML),
		"static/logo.png": pngBytes(),
	}
	for name, data := range extra {
		files[name] = data
	}
	for name, data := range files {
		target := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", target, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", target, err)
		}
	}
	return root
}

func pngBytes() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), []byte("integration-logo-payload")...)
}

func startHost(t *testing.T, root string, drain time.Duration, opts ...hostOption) *testHost {
	t.Helper()

	store, err := assets.NewStore(root, "index.html")
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	appOpts := server.AppOptions{
		Logger:      logging.Discard(),
		Assets:      store,
		CacheMaxAge: time.Hour,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 5 * time.Second,
		BodyLimit:   32 << 20,
		Inflight:    server.NewInflight(),
	}
	for _, opt := range opts {
		opt(&appOpts)
	}
	app, err := server.NewApp(appOpts)
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	host, err := server.NewHost(server.HostOptions{
		App:          app,
		Addr:         "127.0.0.1:0",
		Logger:       appOpts.Logger,
		Inflight:     appOpts.Inflight,
		Assets:       store,
		DrainTimeout: drain,
	})
	if err != nil {
		t.Fatalf("NewHost error: %v", err)
	}
	routes.RegisterDiagnostics(app, store, host)
	if err := host.Start(); err != nil {
		t.Skipf("unable to bind test listener: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = host.Shutdown(ctx)
	})
	return &testHost{Host: host, Root: root, URL: "http://" + host.Addr()}
}

func httpClient() *http.Client {
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}

func waitForState(t *testing.T, host *server.Host, want server.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if host.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("host state %s, want %s", host.State(), want)
}

// waitForIdle 等待服务端释放所有在途计数；流式响应在客户端读完后才会关闭。
func waitForIdle(t *testing.T, host *server.Host) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if host.InFlight() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("in-flight count stuck at %d", host.InFlight())
}
