package server

import (
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v3"
)

// Inflight 统计仍在处理中的请求数。流式响应在响应体关闭前都计为在途。
type Inflight struct {
	count atomic.Int64
}

// NewInflight 创建计数器，NewApp 与 Host 共享同一个实例。
func NewInflight() *Inflight {
	return &Inflight{}
}

// Count 返回当前在途请求数。
func (f *Inflight) Count() int64 {
	if f == nil {
		return 0
	}
	return f.count.Load()
}

func (f *Inflight) acquire() *inflightToken {
	f.count.Add(1)
	return &inflightToken{owner: f}
}

// inflightToken 保证每个请求只递减一次，无论释放发生在中间件还是响应体关闭时。
type inflightToken struct {
	owner   *Inflight
	once    sync.Once
	handoff atomic.Bool
}

func (t *inflightToken) release() {
	t.once.Do(func() {
		t.owner.count.Add(-1)
	})
}

func (t *inflightToken) handedOff() bool {
	return t.handoff.Load()
}

// takeInflight 把当前请求的计数转交给调用方，由其在流结束时 release。
func takeInflight(c fiber.Ctx) *inflightToken {
	token, ok := c.Locals(contextKeyInflight).(*inflightToken)
	if !ok || token == nil {
		return nil
	}
	token.handoff.Store(true)
	return token
}

// DetachInflight 供在 handler 返回后仍继续写响应体的调用方使用：
// 在途计数不再由中间件释放，而是在调用返回的函数时释放。返回的函数可以重复调用。
func DetachInflight(c fiber.Ctx) func() {
	token := takeInflight(c)
	if token == nil {
		return func() {}
	}
	return token.release
}
