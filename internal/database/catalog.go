package database

import (
	"bytes"
	"context"
	"fmt"

	"peershare/internal/models"
	"peershare/internal/protocol"
	"peershare/internal/wire"
)

// CatalogKey 目录在 BlobStore 中的 key
const CatalogKey = "catalog"

// BlobCatalog 把整个目录编码为一个 blob，格式与 LIST 响应相同
type BlobCatalog struct {
	Store BlobStore
}

// LoadCatalog 读取目录，从未保存过时返回空目录
func (c *BlobCatalog) LoadCatalog(ctx context.Context) ([]models.FileEntry, error) {
	data, ok, err := c.Store.Get(ctx, CatalogKey)
	if err != nil || !ok {
		return nil, err
	}
	files, err := protocol.ReadEntries(wire.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return files, nil
}

// SaveCatalog 整体覆盖保存目录
func (c *BlobCatalog) SaveCatalog(ctx context.Context, files []models.FileEntry) error {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	if err := protocol.WriteEntries(w, files); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return c.Store.Put(ctx, CatalogKey, buf.Bytes())
}
