package tracker

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"peershare/internal/config"
	"peershare/internal/models"
	"peershare/internal/protocol"
	"peershare/internal/wire"
)

type memCatalog struct {
	mu    sync.Mutex
	files []models.FileEntry
	saves int
}

func (m *memCatalog) LoadCatalog(context.Context) ([]models.FileEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FileEntry(nil), m.files...), nil
}

func (m *memCatalog) SaveCatalog(_ context.Context, files []models.FileEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append([]models.FileEntry(nil), files...)
	m.saves++
	return nil
}

// startTracker 在随机端口启动 Tracker，测试结束时关闭
// client 直接使用监听器地址，不依赖 Serve 已经开始
func startTracker(t *testing.T, ttl time.Duration, catalog CatalogStore) (*Tracker, *protocol.TrackerClient) {
	t.Helper()
	tr, err := New(context.Background(), config.TrackerConfig{SeederTTL: ttl}, catalog, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go tr.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		tr.Close(ctx)
	})
	return tr, protocol.NewTrackerClient(ln.Addr().String())
}

func TestListAndUpload(t *testing.T) {
	_, client := startTracker(t, time.Minute, nil)
	ctx := context.Background()

	files, err := client.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("empty tracker listed %v", files)
	}

	for want, name := range []string{"a.txt", "b.txt"} {
		id, err := client.Upload(ctx, models.NewFileEntry(name, 100))
		if err != nil {
			t.Fatalf("Upload(%s): %v", name, err)
		}
		if id != int32(want) {
			t.Fatalf("Upload(%s) = %d, want %d", name, id, want)
		}
	}

	files, err = client.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []models.FileEntry{
		models.NewFileEntry("a.txt", 100).WithID(0),
		models.NewFileEntry("b.txt", 100).WithID(1),
	}
	if !slices.Equal(files, want) {
		t.Fatalf("List() = %v, want %v", files, want)
	}
}

func TestUploadRejectsAssignedID(t *testing.T) {
	tr, _ := startTracker(t, time.Minute, nil)
	_, err := tr.Upload(models.NewFileEntry("x", 1).WithID(5))
	if !errors.Is(err, protocol.ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
	if len(tr.List()) != 0 {
		t.Fatal("rejected upload changed the catalog")
	}
}

func TestSeederExpires(t *testing.T) {
	_, client := startTracker(t, 150*time.Millisecond, nil)
	ctx := context.Background()

	ok, err := client.Update(ctx, 7000, []int32{3, 4})
	if err != nil || !ok {
		t.Fatalf("Update = %v, %v", ok, err)
	}
	peer := netip.MustParseAddrPort("127.0.0.1:7000")

	for _, id := range []int32{3, 4} {
		addrs, err := client.Sources(ctx, []int32{id})
		if err != nil {
			t.Fatalf("Sources: %v", err)
		}
		if !slices.Contains(addrs, peer) {
			t.Fatalf("Sources(%d) = %v, missing %s", id, addrs, peer)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		addrs, err := client.Sources(ctx, []int32{3})
		if err != nil {
			t.Fatalf("Sources: %v", err)
		}
		if len(addrs) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("seeder still listed after TTL: %v", addrs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSourcesDeduplicates(t *testing.T) {
	tr, client := startTracker(t, time.Minute, nil)
	ctx := context.Background()
	a := netip.MustParseAddrPort("10.0.0.1:1000")
	b := netip.MustParseAddrPort("10.0.0.2:1000")
	tr.Update(ctx, a, []int32{1, 2})
	tr.Update(ctx, b, []int32{2})

	addrs, err := client.Sources(ctx, []int32{1, 2, 9})
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if !slices.Equal(addrs, []netip.AddrPort{a, b}) {
		t.Fatalf("Sources = %v, want [%s %s]", addrs, a, b)
	}

	stats, err := tr.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 0 {
		t.Fatalf("stats for empty catalog: %v", stats)
	}
}

func TestUpdateEmptyIDs(t *testing.T) {
	tr, _ := startTracker(t, time.Minute, nil)
	ok, err := tr.Update(context.Background(), netip.MustParseAddrPort("10.0.0.1:1"), nil)
	if err != nil || ok {
		t.Fatalf("Update(nil) = %v, %v; want false, nil", ok, err)
	}
}

func TestReannounceKeepsSeeder(t *testing.T) {
	tr, _ := startTracker(t, time.Minute, nil)
	ctx := context.Background()
	peer := netip.MustParseAddrPort("10.0.0.1:1000")

	tr.mu.Lock()
	tr.registry.Add(ctx, models.SeederRecord{Addr: peer, FileIDs: []int32{1}, ExpiresAt: time.Now().Add(30 * time.Millisecond)})
	tr.registry.Add(ctx, models.SeederRecord{Addr: peer, FileIDs: []int32{1}, ExpiresAt: time.Now().Add(time.Minute)})
	tr.mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	addrs, _ := tr.Sources(ctx, []int32{1})
	if !slices.Contains(addrs, peer) {
		t.Fatal("expiry of an older announce removed the newer one")
	}
}

func TestUnknownTagClosesConnection(t *testing.T) {
	_, client := startTracker(t, time.Minute, nil)

	conn, err := net.Dial("tcp4", client.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte{99})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("read after unknown tag: %v, want EOF", err)
	}

	if _, err := client.List(context.Background()); err != nil {
		t.Fatalf("tracker stopped serving after bad request: %v", err)
	}
}

func TestCatalogPersistence(t *testing.T) {
	store := &memCatalog{}
	ctx := context.Background()

	tr, err := New(ctx, config.TrackerConfig{}, store, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	tr.Upload(models.NewFileEntry("a", 1))
	tr.Upload(models.NewFileEntry("b", 2))
	tr.Update(ctx, netip.MustParseAddrPort("10.0.0.1:1"), []int32{0})
	if err := tr.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("catalog saved %d times", store.saves)
	}

	tr, err = New(ctx, config.TrackerConfig{}, store, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close(ctx)
	if got := len(tr.List()); got != 2 {
		t.Fatalf("reloaded %d files, want 2", got)
	}
	id, _ := tr.Upload(models.NewFileEntry("c", 3))
	if id != 2 {
		t.Fatalf("id after reload = %d, want 2", id)
	}
	// 做种者登记表不跨重启保留
	if addrs, _ := tr.Sources(ctx, []int32{0}); len(addrs) != 0 {
		t.Fatalf("seeders survived restart: %v", addrs)
	}
}

func TestLoadRejectsGappedCatalog(t *testing.T) {
	for name, files := range map[string][]models.FileEntry{
		"gap":     {models.NewFileEntry("a", 1).WithID(1)},
		"no id":   {models.NewFileEntry("a", 1)},
		"swapped": {models.NewFileEntry("a", 1).WithID(1), models.NewFileEntry("b", 1).WithID(0)},
	} {
		t.Run(name, func(t *testing.T) {
			store := &memCatalog{files: files}
			_, err := New(context.Background(), config.TrackerConfig{}, store, nil, zerolog.Nop())
			if !errors.Is(err, wire.ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
			if errors.Is(err, protocol.ErrProtocol) {
				t.Fatalf("catalog problem reported as a protocol error: %v", err)
			}
		})
	}
}
