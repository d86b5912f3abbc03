// Package client 实现 Peer 客户端：做种服务端、下载调度与周期 announce
package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"peershare/internal/config"
	"peershare/internal/database"
	"peershare/internal/models"
	"peershare/internal/protocol"
)

// Client Peer 客户端
type Client struct {
	cfg     config.ClientConfig
	tracker *protocol.TrackerClient
	state   *State
	store   database.BlobStore
	storage Storage
	logger  zerolog.Logger

	// 以下字段只在 Run 与 Shutdown 之间有效
	mu        sync.Mutex
	running   atomic.Bool
	handler   Handler
	ctx       context.Context
	cancel    context.CancelFunc
	ln        net.Listener
	port      uint16
	conns     map[net.Conn]struct{}
	downloads map[int32]struct{}
	loops     sync.WaitGroup
	tasks     sync.WaitGroup
	kick      chan struct{}
	limiter   *rate.Limiter
}

// Option 客户端选项
type Option func(*Client)

// WithStorage 替换默认的磁盘存储
func WithStorage(s Storage) Option {
	return func(c *Client) {
		c.storage = s
	}
}

// New 创建客户端并从 store 恢复状态
func New(ctx context.Context, cfg config.ClientConfig, store database.BlobStore, logger zerolog.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		tracker: protocol.NewTrackerClient(cfg.TrackerAddr()),
		store:   store,
		storage: DiskStorage{},
		logger:  logger.With().Str("component", "client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	state, err := LoadState(ctx, store, cfg.TrackerAddr())
	if err != nil {
		return nil, err
	}
	// 文件 ID 由 Tracker 分配，换 Tracker 后旧 ID 未必指向同一个文件
	if prev := state.TrackerAddr(); prev != cfg.TrackerAddr() {
		c.logger.Warn().Str("previous", prev).Str("current", cfg.TrackerAddr()).
			Msg("tracker changed, known file ids refer to the previous tracker")
		state.setTrackerAddr(cfg.TrackerAddr())
	}
	c.state = state
	return c, nil
}

// List 查询 Tracker 上的全部文件
func (c *Client) List(ctx context.Context) ([]models.FileEntry, error) {
	files, err := c.tracker.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Get 开始下载 Tracker 上的文件 id；运行中时立即启动下载任务
func (c *Client) Get(ctx context.Context, id int32) (models.FileEntry, error) {
	if _, ok := c.state.Lookup(id); ok {
		return models.FileEntry{}, fmt.Errorf("file %d is already known: %w", id, protocol.ErrPrecondition)
	}

	files, err := c.List(ctx)
	if err != nil {
		return models.FileEntry{}, err
	}
	var entry models.FileEntry
	found := false
	for _, f := range files {
		if f.ID == id {
			entry, found = f, true
			break
		}
	}
	if !found {
		return models.FileEntry{}, fmt.Errorf("file %d is not on the tracker: %w", id, protocol.ErrPrecondition)
	}

	path := c.downloadPath(entry)
	if err := c.storage.Allocate(path, entry.Size); err != nil {
		return models.FileEntry{}, err
	}
	f := NewFileState(entry, path, false)
	if err := c.state.Add(f); err != nil {
		return models.FileEntry{}, err
	}
	if err := c.saveState(ctx); err != nil {
		return entry, err
	}

	c.startDownload(f)
	return entry, nil
}

// downloadPath <workdir>/downloads/<id>/<name>
func (c *Client) downloadPath(entry models.FileEntry) string {
	name := filepath.Base(filepath.Clean("/" + entry.Name))
	if name == "/" || name == "." {
		name = "file"
	}
	return filepath.Join(c.cfg.WorkDir, "downloads", strconv.Itoa(int(entry.ID)), name)
}

// Publish 在 Tracker 登记本地文件并开始做种
func (c *Client) Publish(ctx context.Context, path string) (models.FileEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.FileEntry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileEntry{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return models.FileEntry{}, fmt.Errorf("%s is not a regular file: %w", path, protocol.ErrPrecondition)
	}

	entry := models.NewFileEntry(info.Name(), info.Size())
	id, err := c.tracker.Upload(ctx, entry)
	if err != nil {
		return models.FileEntry{}, fmt.Errorf("failed to upload %s: %w", entry.Name, err)
	}
	entry = entry.WithID(id)

	if err := c.state.Add(NewFileState(entry, abs, true)); err != nil {
		return entry, err
	}
	if err := c.saveState(ctx); err != nil {
		return entry, err
	}
	c.logger.Info().Int32("id", id).Str("name", entry.Name).Int64("size", entry.Size).Msg("📦 file published")

	c.triggerAnnounce()
	return entry, nil
}

// FileProgress 本地文件及其进度
type FileProgress struct {
	Entry models.FileEntry
	Path  string
	Have  int
	Total int
}

// Files 本地已知文件的进度快照
func (c *Client) Files() []FileProgress {
	files := c.state.Files()
	out := make([]FileProgress, 0, len(files))
	for _, f := range files {
		have, total := f.Progress()
		out = append(out, FileProgress{Entry: f.Entry, Path: f.Path, Have: have, Total: total})
	}
	return out
}

// State 客户端状态
func (c *Client) State() *State {
	return c.state
}

func (c *Client) saveState(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.state.Save(ctx, c.store)
}

func (c *Client) emit(ev Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}
