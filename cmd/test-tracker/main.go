package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"time"

	"peershare/internal/models"
	"peershare/internal/protocol"
	"peershare/internal/wire"
)

// 对运行中的 Tracker 做一次完整的协议冒烟测试
func main() {
	addr := flag.String("addr", "localhost:8081", "tracker address")
	flag.Parse()

	fmt.Println("🧪 Testing Tracker Implementation...")
	fmt.Println()

	fmt.Println("📦 Test 1: Compact Address Format")
	if !testCompactAddr() {
		os.Exit(1)
	}
	fmt.Println()

	fmt.Println("🌐 Test 2: Tracker Protocol")
	fmt.Printf("请先启动 Tracker Server: go run ./cmd/tracker (target %s)\n", *addr)
	if !testTracker(*addr) {
		os.Exit(1)
	}
	fmt.Println()

	fmt.Println("✅ All tests completed!")
}

// testCompactAddr 测试紧凑格式地址编码
func testCompactAddr() bool {
	peer := netip.MustParseAddrPort("192.168.1.100:6881")
	compact, err := wire.CompactAddr(peer)
	if err != nil {
		fmt.Printf("❌ CompactAddr failed: %v\n", err)
		return false
	}
	fmt.Printf("Peer: %s -> %s (length: %d bytes)\n", peer, hex.EncodeToString(compact), len(compact))

	decoded, err := wire.DecompactAddr(compact)
	if err != nil {
		fmt.Printf("❌ DecompactAddr failed: %v\n", err)
		return false
	}
	fmt.Printf("Decoded: %s\n", decoded)
	return decoded == peer
}

// testTracker UPLOAD -> LIST -> UPDATE -> SOURCES
func testTracker(addr string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tc := protocol.NewTrackerClient(addr)

	name := fmt.Sprintf("smoke-%d.bin", time.Now().Unix())
	id, err := tc.Upload(ctx, models.NewFileEntry(name, 25<<20))
	if err != nil {
		fmt.Printf("❌ UPLOAD failed: %v\n", err)
		return false
	}
	fmt.Printf("UPLOAD %s -> id %d\n", name, id)

	files, err := tc.List(ctx)
	if err != nil {
		fmt.Printf("❌ LIST failed: %v\n", err)
		return false
	}
	found := slices.ContainsFunc(files, func(f models.FileEntry) bool { return f.ID == id && f.Name == name })
	fmt.Printf("LIST -> %d files, uploaded file present: %v\n", len(files), found)
	if !found {
		return false
	}

	ok, err := tc.Update(ctx, 6881, []int32{id})
	if err != nil || !ok {
		fmt.Printf("❌ UPDATE failed: ack=%v err=%v\n", ok, err)
		return false
	}
	fmt.Println("UPDATE port 6881 -> acknowledged")

	addrs, err := tc.Sources(ctx, []int32{id})
	if err != nil {
		fmt.Printf("❌ SOURCES failed: %v\n", err)
		return false
	}
	fmt.Printf("SOURCES -> %v\n", addrs)
	return slices.ContainsFunc(addrs, func(a netip.AddrPort) bool { return a.Port() == 6881 })
}
