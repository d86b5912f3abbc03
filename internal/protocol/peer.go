package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"

	"peershare/internal/models"
	"peershare/internal/parts"
	"peershare/internal/wire"
)

// Peer 请求标签
const (
	TagStat byte = 1
	TagGet  byte = 2
)

// PeerConn 到某个做种 Peer 的长连接，请求/响应严格串行
type PeerConn struct {
	Addr netip.AddrPort

	conn net.Conn
	r    *wire.Reader
	w    *wire.Writer
	stop func() bool
}

// DialPeer 连接 Peer；ctx 取消时连接被关闭
func DialPeer(ctx context.Context, addr netip.AddrPort) (*PeerConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer %s: %w", addr, err)
	}
	return &PeerConn{
		Addr: addr,
		conn: conn,
		r:    wire.NewReader(conn),
		w:    wire.NewWriter(conn),
		stop: context.AfterFunc(ctx, func() { conn.Close() }),
	}, nil
}

// Close 关闭连接
func (p *PeerConn) Close() error {
	p.stop()
	return p.conn.Close()
}

// Stat 查询 Peer 持有的分片
func (p *PeerConn) Stat(id int32, partsCount int) (*parts.Bitmap, error) {
	p.w.Byte(TagStat)
	p.w.Int32(id)
	if err := p.w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to send stat to %s: %w", p.Addr, err)
	}
	b, err := ReadBitmap(p.r, partsCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read stat from %s: %w", p.Addr, err)
	}
	return b, nil
}

// Get 下载一个分片，数据直接写入 dst
func (p *PeerConn) Get(entry models.FileEntry, part int, dst io.Writer) error {
	p.w.Byte(TagGet)
	p.w.Int32(entry.ID)
	p.w.Int32(int32(part))
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("failed to send get to %s: %w", p.Addr, err)
	}
	n := entry.PartLength(part)
	if _, err := io.CopyN(dst, p.r, n); err != nil {
		return fmt.Errorf("failed to receive part %d from %s: %w", part, p.Addr, err)
	}
	return nil
}

// GetRequest GET 请求体
type GetRequest struct {
	FileID int32
	Part   int
}

// ReadGetRequest 服务端读取 GET 请求体
func ReadGetRequest(r *wire.Reader) (GetRequest, error) {
	id, err := r.Int32()
	if err != nil {
		return GetRequest{}, err
	}
	part, err := r.Int32()
	if err != nil {
		return GetRequest{}, err
	}
	return GetRequest{FileID: id, Part: int(part)}, nil
}

// WriteChunk 从 src 的分片偏移处流式发送恰好一个分片
func WriteChunk(w *wire.Writer, src io.ReaderAt, entry models.FileEntry, part int) error {
	n := entry.PartLength(part)
	section := io.NewSectionReader(src, entry.PartOffset(part), n)
	written, err := io.Copy(w, section)
	if err != nil {
		return err
	}
	if written != n {
		return fmt.Errorf("file is shorter than recorded size: part %d has %d of %d bytes: %w", part, written, n, io.ErrUnexpectedEOF)
	}
	return w.Flush()
}
