package models

import (
	"fmt"
	"net/netip"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PartSize 分片大小（10 MiB），传输与持有状态的最小单位
const PartSize int64 = 10 << 20

// FileEntry 共享文件的元数据
// ID 由 Tracker 分配，分配前 HasID 为 false；结构体可直接用 == 比较
type FileEntry struct {
	ID    int32  `json:"id"`
	HasID bool   `json:"-"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
}

// NewFileEntry 创建尚未分配 ID 的条目
func NewFileEntry(name string, size int64) FileEntry {
	return FileEntry{Name: name, Size: size}
}

// WithID 返回分配了 ID 的副本
func (e FileEntry) WithID(id int32) FileEntry {
	e.ID = id
	e.HasID = true
	return e
}

// PartsCount 分片数量 ceil(Size / PartSize)
func (e FileEntry) PartsCount() int {
	return int((e.Size + PartSize - 1) / PartSize)
}

// PartLength 第 i 个分片的字节数，最后一片可能不足 PartSize
func (e FileEntry) PartLength(i int) int64 {
	if i < 0 || i >= e.PartsCount() {
		return 0
	}
	if i == e.PartsCount()-1 {
		if rem := e.Size % PartSize; rem != 0 {
			return rem
		}
	}
	return PartSize
}

// PartOffset 第 i 个分片在文件中的偏移
func (e FileEntry) PartOffset(i int) int64 {
	return int64(i) * PartSize
}

func (e FileEntry) String() string {
	if !e.HasID {
		return fmt.Sprintf("%s (%d bytes)", e.Name, e.Size)
	}
	return fmt.Sprintf("%d: %s (%d bytes)", e.ID, e.Name, e.Size)
}

// ClientInfo Peer 向 Tracker 发送 UPDATE 时携带的信息
type ClientInfo struct {
	Addr netip.AddrPort // 监听地址，Tracker 只使用其中的端口
	IDs  []int32        // 至少持有一个分片的文件
}

// SeederRecord Tracker 侧记录的一次 announce，TTL 到期后失效
type SeederRecord struct {
	Addr      netip.AddrPort
	FileIDs   []int32
	ExpiresAt time.Time
}

// CatalogFile MongoDB 中的文件目录模型
type CatalogFile struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	FileID    int32              `bson:"file_id" json:"id"`            // Tracker 分配的 ID
	Name      string             `bson:"name" json:"name"`             // 文件名
	Size      int64              `bson:"size" json:"size"`             // 总大小（字节）
	CreatedAt time.Time          `bson:"created_at" json:"created_at"` // 写入时间
}

// Entry 转换为 FileEntry
func (f CatalogFile) Entry() FileEntry {
	return NewFileEntry(f.Name, f.Size).WithID(f.FileID)
}

// FileWithStats 带在线做种数的目录条目（状态 API 使用）
type FileWithStats struct {
	ID         int32  `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	PartsCount int    `json:"parts_count"`
	Seeders    int    `json:"seeders"`
}
