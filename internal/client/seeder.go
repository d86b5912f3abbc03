package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"peershare/internal/models"
	"peershare/internal/protocol"
	"peershare/internal/wire"
)

// acceptLoop 接受其他 Peer 的连接，监听关闭后退出
func (c *Client) acceptLoop(ln net.Listener) {
	defer c.loops.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !c.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			c.emit(SeedingIssue{Err: fmt.Errorf("accept: %w", err)})
			time.Sleep(10 * time.Millisecond)
			continue
		}

		c.mu.Lock()
		if !c.running.Load() {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		go func() {
			defer func() {
				c.mu.Lock()
				delete(c.conns, conn)
				c.mu.Unlock()
				conn.Close()
			}()
			c.serveConn(conn)
		}()
	}
}

// serveConn 循环读取请求直到对方断开；任何错误都会关闭这一个连接
func (c *Client) serveConn(conn net.Conn) {
	peer, _ := wire.AddrPortOf(conn.RemoteAddr())
	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	for {
		tag, err := r.Byte()
		if err != nil {
			if !errors.Is(err, io.EOF) && c.running.Load() {
				c.emit(SeedingIssue{Peer: peer, Err: err})
			}
			return
		}
		if err := c.serveRequest(tag, r, w); err != nil {
			if c.running.Load() {
				c.emit(SeedingIssue{Peer: peer, Err: err})
			}
			return
		}
	}
}

func (c *Client) serveRequest(tag byte, r *wire.Reader, w *wire.Writer) error {
	switch tag {
	case protocol.TagStat:
		id, err := r.Int32()
		if err != nil {
			return err
		}
		return c.state.View(id, func(f *FileState) error {
			protocol.WriteBitmap(w, f.parts)
			return w.Flush()
		})

	case protocol.TagGet:
		req, err := protocol.ReadGetRequest(r)
		if err != nil {
			return err
		}
		var (
			entry models.FileEntry
			src   ReadAtCloser
		)
		err = c.state.View(req.FileID, func(f *FileState) error {
			// 绝不发送自己没有的分片
			if !f.parts.Has(req.Part) {
				return fmt.Errorf("part %d of file %d is not held: %w", req.Part, req.FileID, protocol.ErrProtocol)
			}
			entry = f.Entry
			src, err = c.storage.OpenRead(f.Path)
			return err
		})
		if err != nil {
			return err
		}
		defer src.Close()
		// 已持有的分片不会被清除，传输时不持锁，对方不读也不会卡住本地状态
		return protocol.WriteChunk(w, src, entry, req.Part)

	default:
		return fmt.Errorf("unknown request tag %d: %w", tag, protocol.ErrProtocol)
	}
}
