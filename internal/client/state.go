package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/samber/lo"

	"peershare/internal/database"
	"peershare/internal/models"
	"peershare/internal/parts"
	"peershare/internal/protocol"
	"peershare/internal/wire"
)

// StateKey 客户端状态在 BlobStore 中的 key
const StateKey = "client-state"

// FileState 一个本地文件的下载进度；mu 保护 parts 以及文件内容
type FileState struct {
	Entry models.FileEntry
	Path  string

	mu    sync.RWMutex
	parts *parts.Bitmap
}

// NewFileState 创建文件状态，filled 为 true 表示所有分片都已持有（本地发布的文件）
func NewFileState(entry models.FileEntry, path string, filled bool) *FileState {
	return &FileState{
		Entry: entry,
		Path:  path,
		parts: parts.New(entry.PartsCount(), filled),
	}
}

// Progress 已持有分片数与总分片数
func (f *FileState) Progress() (have, total int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.parts.Count(), f.parts.Size()
}

// Complete 是否已持有所有分片
func (f *FileState) Complete() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.parts.Full()
}

// Parts 本地位图的拷贝
func (f *FileState) Parts() *parts.Bitmap {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.parts.Clone()
}

// markPart 标记分片已写入，返回这是否是该文件的第一个分片
func (f *FileState) markPart(part int) (first bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parts.Has(part) {
		return false, nil
	}
	if err := f.parts.Set(part, true); err != nil {
		return false, err
	}
	return f.parts.Count() == 1, nil
}

// State 客户端已知文件表：map 的增删由 mu 保护，每个文件的内容由自己的锁保护
type State struct {
	mu          sync.RWMutex
	trackerAddr string
	files       map[int32]*FileState
}

// NewState 创建空状态
func NewState(trackerAddr string) *State {
	return &State{
		trackerAddr: trackerAddr,
		files:       make(map[int32]*FileState),
	}
}

// TrackerAddr 这些文件 ID 所属的 Tracker
func (s *State) TrackerAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackerAddr
}

func (s *State) setTrackerAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackerAddr = addr
}

// Add 加入新文件，ID 已存在时返回 ErrPrecondition
func (s *State) Add(f *FileState) error {
	if !f.Entry.HasID {
		return fmt.Errorf("file %q has no id: %w", f.Entry.Name, protocol.ErrPrecondition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.Entry.ID]; ok {
		return fmt.Errorf("file %d is already known: %w", f.Entry.ID, protocol.ErrPrecondition)
	}
	s.files[f.Entry.ID] = f
	return nil
}

// Lookup 按 ID 查找
func (s *State) Lookup(id int32) (*FileState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	return f, ok
}

// View 查找文件并在持有其读锁期间调用 fn
// 文件读锁在释放表锁之前取得，查找与加锁之间不存在空窗
func (s *State) View(id int32, fn func(*FileState) error) error {
	s.mu.RLock()
	f, ok := s.files[id]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("unknown file %d: %w", id, protocol.ErrProtocol)
	}
	f.mu.RLock()
	s.mu.RUnlock()
	defer f.mu.RUnlock()
	return fn(f)
}

// Files 按 ID 排序的全部文件
func (s *State) Files() []*FileState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := lo.Values(s.files)
	slices.SortFunc(files, func(a, b *FileState) int { return int(a.Entry.ID) - int(b.Entry.ID) })
	return files
}

// HeldIDs 至少持有一个分片的文件 ID
func (s *State) HeldIDs() []int32 {
	held := lo.Filter(s.Files(), func(f *FileState, _ int) bool {
		have, _ := f.Progress()
		return have > 0
	})
	return lo.Map(held, func(f *FileState, _ int) int32 { return f.Entry.ID })
}

// Encode 序列化：tracker 地址 + [entry, 位图, 路径] 序列
func (s *State) Encode(out io.Writer) error {
	files := s.Files()
	w := wire.NewWriter(out)
	w.String(s.TrackerAddr())
	w.Count(len(files))
	for _, f := range files {
		f.mu.RLock()
		protocol.WriteEntry(w, f.Entry)
		protocol.WriteBitmap(w, f.parts)
		w.String(f.Path)
		f.mu.RUnlock()
	}
	return w.Flush()
}

// DecodeState 反序列化 Encode 的输出
func DecodeState(in io.Reader) (*State, error) {
	r := wire.NewReader(in)
	addr, err := r.String()
	if err != nil {
		return nil, err
	}
	n, err := r.Count()
	if err != nil {
		return nil, err
	}
	s := NewState(addr)
	for i := 0; i < n; i++ {
		entry, err := protocol.ReadEntry(r, true)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		bitmap, err := protocol.ReadBitmap(r, entry.PartsCount())
		if err != nil {
			return nil, fmt.Errorf("file %d parts: %w", entry.ID, err)
		}
		path, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("file %d path: %w", entry.ID, err)
		}
		f := &FileState{Entry: entry, Path: path, parts: bitmap}
		if err := s.Add(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadState 从 store 读取状态，不存在时返回以 trackerAddr 初始化的空状态
func LoadState(ctx context.Context, store database.BlobStore, trackerAddr string) (*State, error) {
	data, ok, err := store.Get(ctx, StateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client state: %w", err)
	}
	if !ok {
		return NewState(trackerAddr), nil
	}
	s, err := DecodeState(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode client state: %w", err)
	}
	return s, nil
}

// Save 把状态写入 store
func (s *State) Save(ctx context.Context, store database.BlobStore) error {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return fmt.Errorf("failed to encode client state: %w", err)
	}
	if err := store.Put(ctx, StateKey, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to save client state: %w", err)
	}
	return nil
}
