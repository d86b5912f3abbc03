package protocol

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"peershare/internal/models"
	"peershare/internal/wire"
)

// Tracker 请求标签
const (
	TagList    byte = 1
	TagUpload  byte = 2
	TagSources byte = 3
	TagUpdate  byte = 4
)

// DefaultTrackerPort Tracker 的固定监听端口
const DefaultTrackerPort = 8081

// TrackerClient Tracker 协议客户端，每个请求单独建立一次连接
type TrackerClient struct {
	Addr   string
	Dialer net.Dialer
}

// NewTrackerClient 创建指向 addr（host:port）的客户端
func NewTrackerClient(addr string) *TrackerClient {
	return &TrackerClient{Addr: addr}
}

// do 打开连接、发送请求、读取响应、关闭连接
func (c *TrackerClient) do(ctx context.Context, tag byte, req func(*wire.Writer), resp func(*wire.Reader) error) error {
	conn, err := c.Dialer.DialContext(ctx, "tcp4", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect to tracker %s: %w", c.Addr, err)
	}
	defer conn.Close()

	// ctx 取消时让阻塞的读写立即返回
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	w := wire.NewWriter(conn)
	w.Byte(tag)
	if req != nil {
		req(w)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to send request %d: %w", tag, err)
	}
	if err := resp(wire.NewReader(conn)); err != nil {
		return fmt.Errorf("failed to read response %d: %w", tag, err)
	}
	return nil
}

// List 获取 Tracker 上的全部文件
func (c *TrackerClient) List(ctx context.Context) ([]models.FileEntry, error) {
	var files []models.FileEntry
	err := c.do(ctx, TagList, nil, func(r *wire.Reader) (err error) {
		files, err = ReadEntries(r)
		return err
	})
	return files, err
}

// Upload 登记新文件，返回 Tracker 分配的 ID
func (c *TrackerClient) Upload(ctx context.Context, entry models.FileEntry) (int32, error) {
	if entry.HasID {
		return 0, fmt.Errorf("uploading file %q already has id %d: %w", entry.Name, entry.ID, ErrPrecondition)
	}
	var id int32
	err := c.do(ctx, TagUpload, func(w *wire.Writer) {
		WriteEntry(w, entry)
	}, func(r *wire.Reader) (err error) {
		id, err = r.Int32()
		return err
	})
	return id, err
}

// Sources 查询持有指定文件的 Peer 地址
func (c *TrackerClient) Sources(ctx context.Context, ids []int32) ([]netip.AddrPort, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("sources request without ids: %w", ErrPrecondition)
	}
	var addrs []netip.AddrPort
	err := c.do(ctx, TagSources, func(w *wire.Writer) {
		wire.WriteSlice(w, ids, wire.WriteInt32)
	}, func(r *wire.Reader) (err error) {
		addrs, err = wire.ReadSlice(r, wire.ReadAddr)
		return err
	})
	return addrs, err
}

// Update 向 Tracker announce 本地监听端口与持有的文件
func (c *TrackerClient) Update(ctx context.Context, port uint16, ids []int32) (bool, error) {
	if len(ids) == 0 {
		return false, fmt.Errorf("update without ids: %w", ErrPrecondition)
	}
	info := models.ClientInfo{
		Addr: netip.AddrPortFrom(netip.IPv4Unspecified(), port),
		IDs:  ids,
	}
	var ok bool
	err := c.do(ctx, TagUpdate, func(w *wire.Writer) {
		WriteClientInfo(w, info)
	}, func(r *wire.Reader) (err error) {
		ok, err = r.Bool()
		return err
	})
	return ok, err
}
