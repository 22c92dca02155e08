package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/demofactory/spa-host/internal/assets"
)

// State 表示 Host 的生命周期阶段。
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultDrainTimeout 在 HostOptions 未指定时使用。
const DefaultDrainTimeout = 10 * time.Second

var (
	// ErrHostStarted 表示同一个 Host 被重复启动。
	ErrHostStarted = errors.New("host already started")
	// ErrHostNotStarted 表示在 Start 之前调用了 Wait。
	ErrHostNotStarted = errors.New("host not started")
)

// HostOptions 描述一个监听端口上的 Fiber 应用。
type HostOptions struct {
	App      *fiber.App
	Addr     string
	Logger   *logrus.Logger
	Inflight *Inflight
	// Assets 仅用于启动诊断日志。
	Assets       assets.Store
	DrainTimeout time.Duration
}

// Host 持有监听 socket 与 Fiber 应用，负责启动、排空与关闭。
type Host struct {
	app          *fiber.App
	addr         string
	logger       *logrus.Logger
	inflight     *Inflight
	store        assets.Store
	drainTimeout time.Duration

	state   atomic.Int32
	started atomic.Bool
	ln      *trackingListener

	serveDone chan struct{}
	serveErr  error

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shutdownErr  error
	draining     atomic.Bool
}

// NewHost 构造处于 Stopped 状态的 Host，尚未绑定端口。
func NewHost(opts HostOptions) (*Host, error) {
	if opts.App == nil {
		return nil, errors.New("fiber app is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Inflight == nil {
		opts.Inflight = NewInflight()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	return &Host{
		app:          opts.App,
		addr:         opts.Addr,
		logger:       opts.Logger,
		inflight:     opts.Inflight,
		store:        opts.Assets,
		drainTimeout: opts.DrainTimeout,
		serveDone:    make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}, nil
}

// Start 是 NewHost + Host.Start 的便捷组合。
func Start(opts HostOptions) (*Host, error) {
	host, err := NewHost(opts)
	if err != nil {
		return nil, err
	}
	if err := host.Start(); err != nil {
		return nil, err
	}
	return host, nil
}

// Start 绑定 TCP 端口并在后台开始接受连接。绑定失败时返回错误且 Host 回到 Stopped。
func (h *Host) Start() error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrHostStarted
	}
	h.state.Store(int32(StateStarting))

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		h.state.Store(int32(StateStopped))
		close(h.serveDone)
		return fmt.Errorf("监听 %s 失败: %w", h.addr, err)
	}
	h.ln = newTrackingListener(ln)
	h.state.Store(int32(StateListening))

	fields := logrus.Fields{
		"action": "listen",
		"addr":   ln.Addr().String(),
	}
	if h.store != nil {
		fields["build_dir"] = h.store.Root()
		fields["index_exists"] = h.store.IndexExists()
	}
	entry := h.logger.WithFields(fields)
	if h.store != nil && !h.store.IndexExists() {
		entry.Warn("入口文档缺失，非文件路径将返回 404")
	} else {
		entry.Info("Fiber 服务启动")
	}

	go func() {
		defer close(h.serveDone)
		err := h.app.Listener(h.ln, fiber.ListenConfig{DisableStartupMessage: true})
		if h.draining.Load() {
			// 关闭流程会主动关闭监听 socket，此时 Accept 的错误属于预期。
			return
		}
		h.serveErr = err
		h.state.Store(int32(StateStopped))
	}()
	return nil
}

// Addr 返回实际绑定的地址；未启动时返回配置的地址。
func (h *Host) Addr() string {
	if h.ln != nil {
		return h.ln.Addr().String()
	}
	return h.addr
}

// State 返回当前生命周期阶段。
func (h *Host) State() State {
	return State(h.state.Load())
}

// InFlight 返回仍在处理中的请求数。
func (h *Host) InFlight() int64 {
	return h.inflight.Count()
}

// Shutdown 停止接受新连接并等待在途请求完成。ctx 没有截止时间时使用 DrainTimeout；
// 超时后剩余连接被强制关闭，此时仍返回 nil 并记录告警。
// 重复或并发调用会等待第一次调用结束并返回相同结果。
func (h *Host) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		defer close(h.shutdownDone)
		h.shutdownErr = h.drain(ctx)
	})
	<-h.shutdownDone
	return h.shutdownErr
}

func (h *Host) drain(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(StateListening), int32(StateDraining)) {
		// 从未成功监听或服务已退出；关闭后的 Host 不允许再启动
		h.started.Store(true)
		h.state.Store(int32(StateStopped))
		return nil
	}
	h.draining.Store(true)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.drainTimeout)
		defer cancel()
	}

	started := time.Now()
	h.logger.WithFields(logrus.Fields{
		"action":   "shutdown",
		"inflight": h.inflight.Count(),
		"open":     h.ln.open(),
	}).Info("开始排空连接")

	err := h.app.ShutdownWithContext(ctx)
	// Serve 可能尚未注册监听器，这里再关闭一次确保不再接受新连接。
	_ = h.ln.Close()

	fields := logrus.Fields{
		"action":     "shutdown",
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	switch {
	case err == nil, errors.Is(err, fiber.ErrNotRunning):
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		fields["forced"] = h.ln.closeAll()
		fields["inflight"] = h.inflight.Count()
		h.logger.WithFields(fields).Warn("排空超时，强制关闭剩余连接")
	default:
		fields["forced"] = h.ln.closeAll()
		h.state.Store(int32(StateStopped))
		h.logger.WithFields(fields).WithError(err).Error("关闭服务失败")
		return fmt.Errorf("shutdown: %w", err)
	}

	<-h.serveDone
	h.state.Store(int32(StateStopped))
	h.logger.WithFields(fields).Info("服务已停止")
	return nil
}

// Wait 阻塞直到服务退出。由 Shutdown 触发的退出返回 Shutdown 的结果，
// 否则返回 Serve 的错误。
func (h *Host) Wait() error {
	if !h.started.Load() {
		return ErrHostNotStarted
	}
	<-h.serveDone
	if h.draining.Load() {
		<-h.shutdownDone
		return h.shutdownErr
	}
	return h.serveErr
}
