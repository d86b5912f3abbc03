// Package protocol 定义 Tracker 协议与 Peer 协议的请求/响应格式
package protocol

import (
	"errors"
	"fmt"

	"peershare/internal/models"
	"peershare/internal/parts"
	"peershare/internal/wire"
)

var (
	// ErrProtocol 协议违规：未知请求标签、请求不存在的文件或未持有的分片
	ErrProtocol = errors.New("protocol violation")
	// ErrPrecondition 本地前置条件不满足，在任何 I/O 之前拒绝
	ErrPrecondition = errors.New("precondition failed")
)

// WriteEntry 编码文件条目：[id int32] name string size int64
// 只有已分配 ID 的条目才写 id
func WriteEntry(w *wire.Writer, e models.FileEntry) {
	if e.HasID {
		w.Int32(e.ID)
	}
	w.String(e.Name)
	w.Int64(e.Size)
}

// ReadEntry 解码文件条目，withID 指定是否包含 id 字段
func ReadEntry(r *wire.Reader, withID bool) (models.FileEntry, error) {
	var (
		id  int32
		err error
	)
	if withID {
		if id, err = r.Int32(); err != nil {
			return models.FileEntry{}, err
		}
	}
	name, err := r.String()
	if err != nil {
		return models.FileEntry{}, err
	}
	size, err := r.Int64()
	if err != nil {
		return models.FileEntry{}, err
	}
	if size < 0 {
		return models.FileEntry{}, fmt.Errorf("negative file size %d: %w", size, wire.ErrMalformed)
	}
	e := models.NewFileEntry(name, size)
	if withID {
		e = e.WithID(id)
	}
	return e, nil
}

// WriteEntries 编码带 ID 的条目列表，存在未分配 ID 的条目时返回 ErrPrecondition
func WriteEntries(w *wire.Writer, entries []models.FileEntry) error {
	for _, e := range entries {
		if !e.HasID {
			return fmt.Errorf("listed file %q has no id: %w", e.Name, ErrPrecondition)
		}
	}
	wire.WriteSlice(w, entries, WriteEntry)
	return nil
}

// ReadEntries 解码带 ID 的条目列表
func ReadEntries(r *wire.Reader) ([]models.FileEntry, error) {
	return wire.ReadSlice(r, func(r *wire.Reader) (models.FileEntry, error) {
		return ReadEntry(r, true)
	})
}

// WriteBitmap 稀疏编码：置位数量 + 各置位下标
func WriteBitmap(w *wire.Writer, b *parts.Bitmap) {
	idx := b.Indices()
	w.Count(len(idx))
	for _, i := range idx {
		w.Int32(int32(i))
	}
}

// ReadBitmap 解码稀疏位图，位图大小由调用方根据目录条目给出
func ReadBitmap(r *wire.Reader, size int) (*parts.Bitmap, error) {
	n, err := r.Count()
	if err != nil {
		return nil, err
	}
	if n > size {
		return nil, fmt.Errorf("bitmap claims %d of %d parts: %w", n, size, wire.ErrMalformed)
	}
	b := parts.New(size, false)
	for ; n > 0; n-- {
		i, err := r.Int32()
		if err != nil {
			return nil, err
		}
		if err := b.Set(int(i), true); err != nil {
			return nil, fmt.Errorf("%w: %w", wire.ErrMalformed, err)
		}
	}
	return b, nil
}

// WriteClientInfo 编码 announce 信息：地址 + 文件 ID 列表
func WriteClientInfo(w *wire.Writer, info models.ClientInfo) {
	w.Addr(info.Addr)
	wire.WriteSlice(w, info.IDs, wire.WriteInt32)
}

// ReadClientInfo 解码 announce 信息
func ReadClientInfo(r *wire.Reader) (models.ClientInfo, error) {
	addr, err := r.Addr()
	if err != nil {
		return models.ClientInfo{}, err
	}
	ids, err := wire.ReadSlice(r, wire.ReadInt32)
	if err != nil {
		return models.ClientInfo{}, err
	}
	return models.ClientInfo{Addr: addr, IDs: ids}, nil
}
