package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/demofactory/spa-host/internal/assets"
	"github.com/demofactory/spa-host/internal/auth"
	"github.com/demofactory/spa-host/internal/config"
	"github.com/demofactory/spa-host/internal/ingress"
	"github.com/demofactory/spa-host/internal/logging"
	"github.com/demofactory/spa-host/internal/proxy"
	"github.com/demofactory/spa-host/internal/server"
	"github.com/demofactory/spa-host/internal/server/routes"
	"github.com/demofactory/spa-host/internal/version"
)

// configEnv 指向可选的 TOML 配置文件；未设置时只读取环境变量。
const configEnv = "SPA_HOST_CONFIG"

// runOptions 汇总进程级输入，便于在测试中注入信号与监听回调。
type runOptions struct {
	configPath string
	signals    <-chan os.Signal
	lookupEnv  config.LookupFunc
	// onListening 在端口绑定成功后回调实际地址。
	onListening func(addr string)
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	os.Exit(run(runOptions{
		configPath: os.Getenv(configEnv),
		signals:    sigCh,
		lookupEnv:  os.LookupEnv,
	}))
}

// run 按“配置 → 日志 → 凭证 → 构建目录 → Fiber → 监听”的顺序启动，并返回退出码：
// 信号触发的正常关闭返回 0，配置或绑定失败返回 1。
func run(opts runOptions) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fatal("加载配置失败", err)
	}

	logger, err := logging.InitLogger(cfg.Log)
	if err != nil {
		return fatal("初始化日志失败", err)
	}
	for _, warning := range cfg.Warnings {
		logger.WithFields(logging.BaseFields("config", cfg.Server.BuildDir)).Warn(warning)
	}

	creds, err := config.ResolveCredentials(opts.lookupEnv)
	if err != nil {
		return fatal("解析 AWS 凭证失败", err)
	}

	store, err := assets.NewStore(cfg.Server.BuildDir, cfg.Server.IndexFile)
	if err != nil {
		return fatal("初始化构建目录失败", err)
	}

	appOpts, err := buildAppOptions(cfg, store, logger)
	if err != nil {
		return fatal("初始化转发失败", err)
	}
	app, err := server.NewApp(appOpts)
	if err != nil {
		return fatal("构建 Fiber 应用失败", err)
	}

	host, err := server.NewHost(server.HostOptions{
		App:          app,
		Addr:         cfg.ListenAddr(),
		Logger:       logger,
		Inflight:     appOpts.Inflight,
		Assets:       store,
		DrainTimeout: cfg.Server.ShutdownTimeout.DurationValue(),
	})
	if err != nil {
		return fatal("构建服务失败", err)
	}
	routes.RegisterDiagnostics(app, store, host)

	fields := logging.BaseFields("startup", cfg.Server.BuildDir)
	fields["listen_port"] = cfg.Server.ListenPort
	fields["credentials"] = creds.Redacted()
	fields["identity"] = cfg.IdentityMode()
	fields["api_backend"] = cfg.Backend.APIBackend
	fields["upload_stub"] = cfg.Backend.UploadStub
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := host.Start(); err != nil {
		return fatal("HTTP 服务启动失败", err)
	}
	printBanner(host.Addr(), store)
	if opts.onListening != nil {
		opts.onListening(host.Addr())
	}

	if err := serve(host, opts.signals, cfg); err != nil {
		logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Error("服务异常退出")
		return fatal("HTTP 服务异常退出", err)
	}
	return 0
}

// serve 同时等待服务退出与终止信号；任意一方出错都会取消另一方。
func serve(host *server.Host, signals <-chan os.Signal, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(host.Wait)
	g.Go(func() error {
		return host.WatchSignals(ctx, signals, cfg.Server.ShutdownTimeout.DurationValue())
	})
	return g.Wait()
}

func buildAppOptions(cfg *config.Config, store assets.Store, logger *logrus.Logger) (server.AppOptions, error) {
	opts := server.AppOptions{
		Logger:      logger,
		Assets:      store,
		CacheMaxAge: cfg.Server.CacheMaxAge.DurationValue(),
		ReadTimeout: cfg.Server.ReadTimeout.DurationValue(),
		IdleTimeout: cfg.Server.IdleTimeout.DurationValue(),
		BodyLimit:   cfg.BodyLimit(),
		Resolver:    auth.AnonymousResolver{},
		Inflight:    server.NewInflight(),
	}

	if cfg.Backend.IdentityURL != "" {
		opts.Resolver = auth.NewRemoteResolver(cfg.Backend.IdentityURL, nil)
	}

	if cfg.ProxyEnabled() {
		backend, err := url.Parse(cfg.Backend.APIBackend)
		if err != nil {
			return opts, err
		}
		forwarder, err := proxy.NewForwarder(server.NewBackendClient(cfg), backend, logger)
		if err != nil {
			return opts, err
		}
		opts.APIProxy = forwarder.Handle
	}

	if cfg.Backend.UploadStub {
		opts.UploadHandler = ingress.NewStubHandler(logger)
	}

	return opts, nil
}

// fatal 把错误压成一行写到 stderr；viper 的解码错误自带换行。
func fatal(stage string, err error) int {
	fmt.Fprintf(stdErr, "%s: %s\n", stage, strings.Join(strings.Fields(err.Error()), " "))
	return 1
}

// printBanner 输出面向运维的一行启动摘要，结构化字段另见 listen 日志。
func printBanner(addr string, store assets.Store) {
	fmt.Fprintf(stdOut, "%s listening on %s (build=%s index=%t)\n", version.Full(), addr, store.Root(), store.IndexExists())
}
