package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// BlobStore 按 key 存取整块二进制数据（目录、客户端状态）
type BlobStore interface {
	// Get 读取 key，不存在时第二个返回值为 false
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put 原子地整体替换 key 的内容
	Put(ctx context.Context, key string, data []byte) error
	Close() error
}

// FileBlobs 每个 key 一个文件：<Dir>/<key>.dat
type FileBlobs struct {
	Dir string
}

// NewFileBlobs 创建目录（如不存在）
func NewFileBlobs(dir string) (*FileBlobs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileBlobs{Dir: dir}, nil
}

func (f *FileBlobs) path(key string) string {
	return filepath.Join(f.Dir, key+".dat")
}

func (f *FileBlobs) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, true, nil
}

// Put 先写临时文件再 rename，崩溃时不会留下半个文件
func (f *FileBlobs) Put(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(f.Dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	return nil
}

func (f *FileBlobs) Close() error {
	return nil
}
