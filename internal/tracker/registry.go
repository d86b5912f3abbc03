package tracker

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"peershare/internal/models"
)

// Registry 做种者登记表：file id -> 正在做种的 Peer
// Tracker 在调用这些方法时已持有自身的读写锁（Add/Reset 写锁，Sources/Count 读锁）
type Registry interface {
	// Add 为 rec.FileIDs 中的每个文件登记 rec，rec.ExpiresAt 之后失效
	Add(ctx context.Context, rec models.SeederRecord) error
	// Sources 合并各文件的做种者并去重，只返回地址
	Sources(ctx context.Context, ids []int32) ([]netip.AddrPort, error)
	// Count 指定文件当前在线的做种者数量
	Count(ctx context.Context, id int32) (int, error)
	// Reset 清空登记表，Tracker 启动时调用
	Reset(ctx context.Context) error
	Close() error
}

// sweeper 需要定期清理过期记录的登记表（例如 Redis）
type sweeper interface {
	Sweep(ctx context.Context) error
}

// memoryRegistry 内存登记表，每条记录到期后由定时器精确删除
// 所有字段由 Tracker 的锁保护；定时器回调自行获取写锁
type memoryRegistry struct {
	lock   sync.Locker
	files  map[int32]map[netip.AddrPort]*models.SeederRecord
	timers map[*models.SeederRecord]*time.Timer
	closed bool
}

func newMemoryRegistry(lock sync.Locker) *memoryRegistry {
	return &memoryRegistry{
		lock:   lock,
		files:  make(map[int32]map[netip.AddrPort]*models.SeederRecord),
		timers: make(map[*models.SeederRecord]*time.Timer),
	}
}

func (m *memoryRegistry) Add(_ context.Context, rec models.SeederRecord) error {
	if m.closed {
		return nil
	}
	r := &rec
	for _, id := range lo.Uniq(r.FileIDs) {
		set, ok := m.files[id]
		if !ok {
			set = make(map[netip.AddrPort]*models.SeederRecord)
			m.files[id] = set
		}
		set[r.Addr] = r
	}
	m.timers[r] = time.AfterFunc(time.Until(r.ExpiresAt), func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		m.expire(r)
	})
	return nil
}

// expire 删除恰好这一条记录；同一 Peer 之后的 announce 产生的新记录不受影响
func (m *memoryRegistry) expire(r *models.SeederRecord) {
	delete(m.timers, r)
	for _, id := range r.FileIDs {
		set := m.files[id]
		if set[r.Addr] != r {
			continue
		}
		delete(set, r.Addr)
		if len(set) == 0 {
			delete(m.files, id)
		}
	}
}

func (m *memoryRegistry) Sources(_ context.Context, ids []int32) ([]netip.AddrPort, error) {
	var addrs []netip.AddrPort
	for _, id := range ids {
		addrs = append(addrs, lo.Keys(m.files[id])...)
	}
	addrs = lo.Uniq(addrs)
	slices.SortFunc(addrs, func(a, b netip.AddrPort) int { return a.Compare(b) })
	return addrs, nil
}

func (m *memoryRegistry) Count(_ context.Context, id int32) (int, error) {
	return len(m.files[id]), nil
}

func (m *memoryRegistry) Reset(context.Context) error {
	m.stopTimers()
	clear(m.files)
	return nil
}

func (m *memoryRegistry) Close() error {
	m.closed = true
	m.stopTimers()
	return nil
}

func (m *memoryRegistry) stopTimers() {
	for r, timer := range m.timers {
		timer.Stop()
		delete(m.timers, r)
	}
}
