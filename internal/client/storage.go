package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadAtCloser 可随机读取的本地文件
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// WriteAtCloser 可随机写入的本地文件
type WriteAtCloser interface {
	io.WriterAt
	io.Closer
}

// Storage 分片数据所在的本地存储
type Storage interface {
	// Allocate 创建文件并把长度设为 size
	Allocate(path string, size int64) error
	OpenRead(path string) (ReadAtCloser, error)
	OpenWrite(path string) (WriteAtCloser, error)
}

// StorageError 本地磁盘错误，对所属下载任务是致命的
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DiskStorage 直接读写本地文件系统
type DiskStorage struct{}

func (DiskStorage) Allocate(path string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &StorageError{Op: "allocate", Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return &StorageError{Op: "allocate", Path: path, Err: err}
	}
	// Truncate 产生稀疏文件，不会真正写满 size 字节
	if err := f.Truncate(size); err != nil {
		f.Close()
		return &StorageError{Op: "allocate", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Op: "allocate", Path: path, Err: err}
	}
	return nil
}

func (DiskStorage) OpenRead(path string) (ReadAtCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

func (DiskStorage) OpenWrite(path string) (WriteAtCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

// storageWriter 把写入错误包装为 StorageError，与网络错误区分开
type storageWriter struct {
	w    io.Writer
	path string
}

func (s storageWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		err = &StorageError{Op: "write", Path: s.path, Err: err}
	}
	return n, err
}
