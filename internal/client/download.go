package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"peershare/internal/parts"
	"peershare/internal/protocol"
)

var (
	errNoSeeders      = errors.New("tracker knows no seeders")
	errNothingOffered = errors.New("no seeder offers a missing part")
)

// startDownload 为未完成的文件启动下载任务，每个文件最多一个任务
func (c *Client) startDownload(f *FileState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startDownloadLocked(f)
}

func (c *Client) startDownloadLocked(f *FileState) {
	if !c.running.Load() || f.Complete() {
		return
	}
	if _, ok := c.downloads[f.Entry.ID]; ok {
		return
	}
	c.downloads[f.Entry.ID] = struct{}{}
	c.tasks.Add(1)
	ctx := c.ctx
	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.downloads, f.Entry.ID)
			c.mu.Unlock()
			c.tasks.Done()
		}()
		c.download(ctx, f)
	}()
}

// download 单个文件的下载循环：
// 取做种者列表 -> 逐个 STAT 找出对方有而本地缺的分片 -> 按下标从小到大 GET
func (c *Client) download(ctx context.Context, f *FileState) {
	entry := f.Entry
	c.emit(DownloadStarted{Entry: entry})

	dst, err := c.storage.OpenWrite(f.Path)
	if err != nil {
		c.emit(DownloadIssue{FileID: entry.ID, Err: err})
		return
	}
	defer dst.Close()

	var (
		seeders []netip.AddrPort // nil 表示需要重新向 Tracker 查询
		next    int              // 下一个要尝试的做种者
		peer    *protocol.PeerConn
		offer   *parts.Bitmap // 当前做种者能提供而本地缺少的分片
		pos     int           // offer 中尚未处理的最小下标
		getErr  bool          // 上一个做种者因 GET 失败被放弃，且已退避
	)
	dropPeer := func() {
		if peer != nil {
			peer.Close()
			peer = nil
		}
		offer = nil
	}
	defer dropPeer()

	for c.running.Load() {
		if f.Complete() {
			c.emit(DownloadComplete{Entry: entry})
			if err := c.saveState(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("failed to save state after download")
			}
			return
		}

		if seeders == nil {
			addrs, err := c.tracker.Sources(ctx, []int32{entry.ID})
			if err == nil && len(addrs) == 0 {
				err = errNoSeeders
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.emit(DownloadIssue{FileID: entry.ID, Err: err})
				if !c.backoff(ctx) {
					return
				}
				continue
			}
			seeders, next = addrs, 0
		}

		part, ok := -1, false
		if offer != nil {
			part, ok = offer.FirstSetAtOrAfter(pos)
		}
		if !ok {
			dropPeer()
			if next >= len(seeders) {
				seeders = nil
				if getErr {
					// 最后一个做种者 GET 失败，已报告并退避过
					getErr = false
					continue
				}
				// 这一轮所有做种者都没有可用分片，下一轮重新查询列表
				c.emit(DownloadIssue{FileID: entry.ID, Err: errNothingOffered})
				if !c.backoff(ctx) {
					return
				}
				continue
			}
			addr := seeders[next]
			next++
			getErr = false
			conn, bitmap, err := c.stat(ctx, f, addr)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.emit(DownloadIssue{FileID: entry.ID, Peer: addr, Err: err})
				continue
			}
			if bitmap.Count() == 0 {
				conn.Close()
				continue
			}
			peer, offer, pos = conn, bitmap, 0
			continue
		}

		w := storageWriter{w: io.NewOffsetWriter(dst, entry.PartOffset(part)), path: f.Path}
		if err := peer.Get(entry, part, w); err != nil {
			var storageErr *StorageError
			if errors.As(err, &storageErr) {
				c.emit(DownloadIssue{FileID: entry.ID, Err: err})
				return
			}
			if ctx.Err() != nil {
				return
			}
			c.emit(DownloadIssue{FileID: entry.ID, Peer: peer.Addr, Err: err})
			// 换下一个做种者；它提供的最小分片仍是这一片
			dropPeer()
			getErr = true
			if !c.backoff(ctx) {
				return
			}
			continue
		}

		first, err := f.markPart(part)
		if err != nil {
			c.emit(DownloadIssue{FileID: entry.ID, Err: err})
			return
		}
		pos = part + 1
		have, total := f.Progress()
		c.emit(PartDownloaded{Entry: entry, Part: part, Peer: peer.Addr, Have: have, Total: total})
		if first {
			c.triggerAnnounce()
		}
	}
}

// stat 连接做种者并计算它能提供的、本地缺少的分片
func (c *Client) stat(ctx context.Context, f *FileState, addr netip.AddrPort) (*protocol.PeerConn, *parts.Bitmap, error) {
	conn, err := protocol.DialPeer(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	remote, err := conn.Stat(f.Entry.ID, f.Entry.PartsCount())
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := remote.Subtract(f.Parts()); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("bitmap from %s: %w", addr, err)
	}
	return conn, remote, nil
}
