package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"

	"peershare/internal/protocol"
	"peershare/internal/wire"
)

// handleConn 处理一个连接上的单个请求，完成后关闭连接
// 任何错误只影响这一个连接
func (t *Tracker) handleConn(conn net.Conn) {
	defer conn.Close()

	remote, _ := wire.AddrPortOf(conn.RemoteAddr())
	logger := t.logger.With().Stringer("remote", remote).Logger()

	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	tag, err := r.Byte()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug().Err(err).Msg("failed to read request tag")
		}
		return
	}

	if err := t.handleRequest(context.Background(), tag, remote, r, w); err != nil {
		logger.Warn().Err(err).Uint8("tag", tag).Msg("request failed")
		return
	}
	if err := w.Flush(); err != nil {
		logger.Debug().Err(err).Uint8("tag", tag).Msg("failed to write response")
	}
}

func (t *Tracker) handleRequest(ctx context.Context, tag byte, remote netip.AddrPort, r *wire.Reader, w *wire.Writer) error {
	switch tag {
	case protocol.TagList:
		return protocol.WriteEntries(w, t.List())

	case protocol.TagUpload:
		entry, err := protocol.ReadEntry(r, false)
		if err != nil {
			return fmt.Errorf("failed to read upload: %w", err)
		}
		id, err := t.Upload(entry)
		if err != nil {
			return err
		}
		w.Int32(id)
		return nil

	case protocol.TagSources:
		ids, err := wire.ReadSlice(r, wire.ReadInt32)
		if err != nil {
			return fmt.Errorf("failed to read sources: %w", err)
		}
		addrs, err := t.Sources(ctx, ids)
		if err != nil {
			return err
		}
		wire.WriteSlice(w, addrs, wire.WriteAddr)
		return nil

	case protocol.TagUpdate:
		info, err := protocol.ReadClientInfo(r)
		if err != nil {
			return fmt.Errorf("failed to read update: %w", err)
		}
		// 地址取自连接本身，端口取自请求
		ip, ok := wire.ToIPv4(remote.Addr())
		if !ok {
			w.Bool(false)
			return nil
		}
		acked, err := t.Update(ctx, netip.AddrPortFrom(ip, info.Addr.Port()), info.IDs)
		if err != nil {
			return err
		}
		w.Bool(acked)
		return nil

	default:
		return fmt.Errorf("unknown request tag %d: %w", tag, protocol.ErrProtocol)
	}
}
