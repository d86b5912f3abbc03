package client

import (
	"errors"
	"net/netip"

	"github.com/rs/zerolog"

	"peershare/internal/models"
	"peershare/internal/protocol"
)

// Event 客户端运行过程中产生的事件，具体类型见下方
type Event interface {
	event()
}

// TrackerAnnounced 一次 announce 的结果，Err 为 nil 表示 Tracker 已确认
type TrackerAnnounced struct {
	Port    uint16
	FileIDs []int32
	Err     error
}

// DownloadIssue 下载过程中的错误；Peer 无效表示与具体 Peer 无关
type DownloadIssue struct {
	FileID int32
	Peer   netip.AddrPort
	Err    error
}

// DownloadStarted 下载任务开始
type DownloadStarted struct {
	Entry models.FileEntry
}

// PartDownloaded 一个分片已写入本地
type PartDownloaded struct {
	Entry models.FileEntry
	Part  int
	Peer  netip.AddrPort
	Have  int
	Total int
}

// DownloadComplete 文件的所有分片均已持有
type DownloadComplete struct {
	Entry models.FileEntry
}

// SeedingIssue 做种服务端处理某个连接时出错，连接已关闭
type SeedingIssue struct {
	Peer netip.AddrPort
	Err  error
}

func (TrackerAnnounced) event() {}
func (DownloadIssue) event()    {}
func (DownloadStarted) event()  {}
func (PartDownloaded) event()   {}
func (DownloadComplete) event() {}
func (SeedingIssue) event()     {}

// Handler 事件处理函数，会被多个 goroutine 并发调用
type Handler func(Event)

// LogHandler 把事件写入日志
func LogHandler(logger zerolog.Logger) Handler {
	return func(ev Event) {
		switch e := ev.(type) {
		case TrackerAnnounced:
			switch {
			case e.Err == nil:
				logger.Debug().Uint16("port", e.Port).Ints32("files", e.FileIDs).Msg("announced to tracker")
			case errors.Is(e.Err, protocol.ErrPrecondition):
				logger.Debug().Err(e.Err).Msg("nothing to announce")
			default:
				logger.Warn().Err(e.Err).Msg("announce failed")
			}
		case DownloadIssue:
			l := logger.Warn().Err(e.Err).Int32("file", e.FileID)
			if e.Peer.IsValid() {
				l = l.Stringer("peer", e.Peer)
			}
			l.Msg("download issue")
		case DownloadStarted:
			logger.Info().Int32("file", e.Entry.ID).Str("name", e.Entry.Name).Int("parts", e.Entry.PartsCount()).Msg("⬇️ download started")
		case PartDownloaded:
			logger.Info().Int32("file", e.Entry.ID).Int("part", e.Part).Stringer("peer", e.Peer).
				Msgf("part downloaded (%d/%d)", e.Have, e.Total)
		case DownloadComplete:
			logger.Info().Int32("file", e.Entry.ID).Str("name", e.Entry.Name).Msg("✅ download complete")
		case SeedingIssue:
			logger.Warn().Err(e.Err).Stringer("peer", e.Peer).Msg("seeding connection closed")
		}
	}
}
