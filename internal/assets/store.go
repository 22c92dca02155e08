package assets

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责把请求路径解析为构建目录中的静态文件。
type Store interface {
	// Open 返回 requestPath 对应的常规文件。目录、缺失文件以及越界路径都返回 ErrNotFound。
	Open(ctx context.Context, requestPath string) (*Asset, error)

	// OpenIndex 返回 SPA 入口文档；不存在时返回 ErrIndexMissing。
	OpenIndex(ctx context.Context) (*Asset, error)

	// IndexExists 用于启动诊断与健康检查。
	IndexExists() bool

	// Root 返回构建目录的绝对路径。
	Root() string
}

// Asset 描述一次命中的静态文件。调用方负责关闭 Reader。
type Asset struct {
	Path        string // 绝对路径
	RelPath     string // 相对构建目录的 URL 风格路径
	Size        int64
	ModTime     time.Time
	ContentType string
	Reader      io.ReadSeekCloser
}

// Close 释放底层文件句柄。
func (a *Asset) Close() error {
	if a == nil || a.Reader == nil {
		return nil
	}
	return a.Reader.Close()
}

var (
	// ErrNotFound 表示路径不对应构建目录内的常规文件。
	ErrNotFound = errors.New("asset not found")
	// ErrIndexMissing 表示构建目录中没有 SPA 入口文档，通常是还没有执行前端构建。
	ErrIndexMissing = errors.New("index document missing")
)
