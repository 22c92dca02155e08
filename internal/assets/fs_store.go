package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gofiber/utils/v2"
)

// NewStore 以 root 为构建目录创建只读 Store。root 可以暂不存在，
// 此时所有请求都会落到 404 提示，而不是阻止进程启动。
func NewStore(root, indexFile string) (Store, error) {
	if root == "" {
		return nil, errors.New("build root required")
	}
	if indexFile == "" {
		indexFile = "index.html"
	}
	if strings.ContainsAny(indexFile, `/\`) {
		return nil, fmt.Errorf("index file must be a bare name: %s", indexFile)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve build root: %w", err)
	}

	return &fileStore{
		root:      abs,
		indexFile: indexFile,
	}, nil
}

type fileStore struct {
	root      string
	indexFile string
}

func (s *fileStore) Root() string {
	return s.root
}

func (s *fileStore) Open(ctx context.Context, requestPath string) (*Asset, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, rel, err := s.resolve(requestPath)
	if err != nil {
		return nil, err
	}
	return s.open(filePath, rel)
}

func (s *fileStore) OpenIndex(ctx context.Context) (*Asset, error) {
	asset, err := s.Open(ctx, "/"+s.indexFile)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrIndexMissing
	}
	return asset, err
}

func (s *fileStore) IndexExists() bool {
	filePath, _, err := s.resolve("/" + s.indexFile)
	if err != nil {
		return false
	}
	info, err := os.Stat(filePath)
	return err == nil && info.Mode().IsRegular()
}

func (s *fileStore) open(filePath, rel string) (*Asset, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}

	return &Asset{
		Path:        filePath,
		RelPath:     rel,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: ContentType(filePath),
		Reader:      f,
	}, nil
}

// resolve 把 URL 路径映射为根目录下的绝对路径。任何解析到根目录之外的结果
// （包括指向外部的符号链接）都按不存在处理。
func (s *fileStore) resolve(requestPath string) (string, string, error) {
	if strings.ContainsRune(requestPath, 0) {
		return "", "", ErrNotFound
	}

	rel := path.Clean("/" + strings.ReplaceAll(requestPath, `\`, "/"))
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", "", ErrNotFound
	}

	filePath := filepath.Join(s.root, filepath.FromSlash(rel))
	if !within(s.root, filePath) {
		return "", "", ErrNotFound
	}

	realRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", "", ErrNotFound
	}
	realPath, err := filepath.EvalSymlinks(filePath)
	if err != nil {
		return "", "", ErrNotFound
	}
	if !within(realRoot, realPath) {
		return "", "", ErrNotFound
	}

	return realPath, rel, nil
}

func within(root, target string) bool {
	if target == root {
		return true
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}

// ContentType 根据扩展名推断 MIME 类型，文本类型默认追加 UTF-8 字符集。
func ContentType(name string) string {
	ext := filepath.Ext(name)
	mimeType := utils.GetMIME(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	if strings.HasPrefix(mimeType, "text/") && !strings.Contains(mimeType, "charset") {
		return mimeType + "; charset=utf-8"
	}
	return mimeType
}
