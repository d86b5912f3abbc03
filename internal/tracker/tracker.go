package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"peershare/internal/config"
	"peershare/internal/models"
	"peershare/internal/protocol"
	"peershare/internal/wire"
)

// CatalogStore 文件目录的持久化存储
type CatalogStore interface {
	LoadCatalog(ctx context.Context) ([]models.FileEntry, error)
	SaveCatalog(ctx context.Context, files []models.FileEntry) error
}

// Tracker 持有文件目录与做种者登记表
// 目录与登记表由同一把读写锁保护：LIST/SOURCES 读锁，UPLOAD/UPDATE 写锁
type Tracker struct {
	mu       sync.RWMutex
	files    []models.FileEntry
	registry Registry

	catalog CatalogStore
	ttl     time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	lnMu    sync.Mutex
	ln      net.Listener
	closing bool
	conns   sync.WaitGroup
}

// New 创建 Tracker 并从 catalog 加载文件目录
// registry 为 nil 时使用内存登记表；catalog 为 nil 时目录不持久化
func New(ctx context.Context, cfg config.TrackerConfig, catalog CatalogStore, registry Registry, logger zerolog.Logger) (*Tracker, error) {
	t := &Tracker{
		catalog: catalog,
		ttl:     cfg.SeederTTL,
		logger:  logger.With().Str("component", "tracker").Logger(),
		now:     time.Now,
	}
	if t.ttl <= 0 {
		t.ttl = 60 * time.Second
	}
	if registry == nil {
		registry = newMemoryRegistry(&t.mu)
	}
	t.registry = registry

	// 上次运行留下的做种者一律无效
	if err := t.registry.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset seeder registry: %w", err)
	}

	if catalog != nil {
		files, err := catalog.LoadCatalog(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		for i, f := range files {
			if !f.HasID || f.ID != int32(i) {
				return nil, fmt.Errorf("catalog entry %d has id %d: %w", i, f.ID, wire.ErrMalformed)
			}
		}
		t.files = files
	}
	t.logger.Info().Int("files", len(t.files)).Dur("seeder_ttl", t.ttl).Msg("catalog loaded")
	return t, nil
}

// List 返回目录快照
func (t *Tracker) List() []models.FileEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.FileEntry(nil), t.files...)
}

// Upload 登记新文件，ID 为当前目录长度
func (t *Tracker) Upload(entry models.FileEntry) (int32, error) {
	if entry.HasID {
		return 0, fmt.Errorf("file %q already has id %d: %w", entry.Name, entry.ID, protocol.ErrPrecondition)
	}
	if entry.Size < 0 {
		return 0, fmt.Errorf("file %q has negative size: %w", entry.Name, protocol.ErrPrecondition)
	}
	if len(entry.Name) > wire.MaxStringLen {
		return 0, fmt.Errorf("file name of %d bytes: %w", len(entry.Name), protocol.ErrPrecondition)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	id := int32(len(t.files))
	t.files = append(t.files, entry.WithID(id))
	t.logger.Info().Int32("id", id).Str("name", entry.Name).Int64("size", entry.Size).Msg("file uploaded")
	return id, nil
}

// Sources 返回持有任一文件的做种者地址（已去重）
func (t *Tracker) Sources(ctx context.Context, ids []int32) ([]netip.AddrPort, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.registry.Sources(ctx, ids)
}

// Update 登记 addr 正在做种 ids，TTL 后自动失效
// ids 为空时不登记并返回 false
func (t *Tracker) Update(ctx context.Context, addr netip.AddrPort, ids []int32) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	rec := models.SeederRecord{
		Addr:      addr,
		FileIDs:   ids,
		ExpiresAt: t.now().Add(t.ttl),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.registry.Add(ctx, rec); err != nil {
		return false, fmt.Errorf("failed to register seeder %s: %w", addr, err)
	}
	t.logger.Debug().Stringer("peer", addr).Ints32("files", ids).Msg("seeder announced")
	return true, nil
}

// Stats 目录条目及各自当前的做种者数量
func (t *Tracker) Stats(ctx context.Context) ([]models.FileWithStats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.FileWithStats, 0, len(t.files))
	for _, f := range t.files {
		n, err := t.registry.Count(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count seeders of %d: %w", f.ID, err)
		}
		out = append(out, models.FileWithStats{
			ID:         f.ID,
			Name:       f.Name,
			Size:       f.Size,
			PartsCount: f.PartsCount(),
			Seeders:    n,
		})
	}
	return out, nil
}

// ListenAndServe 在 addr 上监听并阻塞处理连接，直到 Close
func (t *Tracker) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return t.Serve(ln)
}

// Serve 接受连接，每个连接一个 goroutine；Close 后返回 nil
func (t *Tracker) Serve(ln net.Listener) error {
	t.lnMu.Lock()
	if t.closing {
		t.lnMu.Unlock()
		ln.Close()
		return nil
	}
	t.ln = ln
	t.lnMu.Unlock()

	t.logger.Info().Stringer("addr", ln.Addr()).Msg("tracker listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if t.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Warn().Err(err).Msg("accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		t.conns.Add(1)
		go func() {
			defer t.conns.Done()
			t.handleConn(conn)
		}()
	}
}

// Addr 监听地址，尚未监听时为 nil
func (t *Tracker) Addr() net.Addr {
	t.lnMu.Lock()
	defer t.lnMu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *Tracker) isClosing() bool {
	t.lnMu.Lock()
	defer t.lnMu.Unlock()
	return t.closing
}

// StartSweep 定期清理过期的做种者（仅 Redis 等需要主动清理的登记表）
func (t *Tracker) StartSweep(ctx context.Context, interval time.Duration) {
	s, ok := t.registry.(sweeper)
	if !ok || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.mu.Lock()
				err := s.Sweep(ctx)
				t.mu.Unlock()
				if err != nil {
					t.logger.Warn().Err(err).Msg("failed to sweep expired seeders")
				} else {
					t.logger.Debug().Msg("expired seeders swept")
				}
			}
		}
	}()
}

// Save 持久化当前目录
func (t *Tracker) Save(ctx context.Context) error {
	if t.catalog == nil {
		return nil
	}
	files := t.List()
	if err := t.catalog.SaveCatalog(ctx, files); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	t.logger.Info().Int("files", len(files)).Msg("catalog saved")
	return nil
}

// Close 停止监听，等待进行中的请求（受 ctx 限制），停止过期定时器并保存目录
func (t *Tracker) Close(ctx context.Context) error {
	t.lnMu.Lock()
	t.closing = true
	ln := t.ln
	t.lnMu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		t.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.logger.Warn().Msg("closing with requests still in flight")
	}

	t.mu.Lock()
	regErr := t.registry.Close()
	t.mu.Unlock()

	return errors.Join(t.Save(ctx), regErr)
}
