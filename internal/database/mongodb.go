package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"peershare/internal/models"
)

// MongoDB MongoDB 客户端包装，同时实现 Tracker 的目录存储
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// MongoPoolOptions MongoDB 连接池配置
type MongoPoolOptions struct {
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// NewMongoDB 创建新的 MongoDB 连接
// poolOpts 为 nil 时使用默认连接池配置（50/10/30s）
func NewMongoDB(uri, database string, poolOpts *MongoPoolOptions) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool := MongoPoolOptions{MaxPoolSize: 50, MinPoolSize: 10, MaxConnIdleTime: 30 * time.Second}
	if poolOpts != nil {
		if poolOpts.MaxPoolSize > 0 {
			pool.MaxPoolSize = poolOpts.MaxPoolSize
		}
		if poolOpts.MinPoolSize > 0 {
			pool.MinPoolSize = poolOpts.MinPoolSize
		}
		if poolOpts.MaxConnIdleTime > 0 {
			pool.MaxConnIdleTime = poolOpts.MaxConnIdleTime
		}
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(pool.MaxPoolSize).
		SetMinPoolSize(pool.MinPoolSize).
		SetMaxConnIdleTime(pool.MaxConnIdleTime)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDB{
		Client:   client,
		Database: client.Database(database),
	}, nil
}

// Close 关闭 MongoDB 连接
func (m *MongoDB) Close(ctx context.Context) error {
	if m.Client != nil {
		return m.Client.Disconnect(ctx)
	}
	return nil
}

// FilesCollection 获取 files 集合
func (m *MongoDB) FilesCollection() *mongo.Collection {
	return m.Database.Collection("files")
}

// CreateIndexes 创建索引
func (m *MongoDB) CreateIndexes(ctx context.Context) error {
	fileIDIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "file_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	createdAtIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	}

	_, err := m.FilesCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{fileIDIndex, createdAtIndex})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// LoadCatalog 按 ID 顺序读取全部文件
func (m *MongoDB) LoadCatalog(ctx context.Context) ([]models.FileEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "file_id", Value: 1}})
	cursor, err := m.FilesCollection().Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []models.CatalogFile
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode files: %w", err)
	}

	files := make([]models.FileEntry, 0, len(docs))
	for _, doc := range docs {
		files = append(files, doc.Entry())
	}
	return files, nil
}

// SaveCatalog 按 file_id 批量 upsert，已有文档保留 created_at
func (m *MongoDB) SaveCatalog(ctx context.Context, files []models.FileEntry) error {
	if len(files) == 0 {
		return nil
	}

	now := time.Now()
	writes := make([]mongo.WriteModel, 0, len(files))
	for _, f := range files {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"file_id": f.ID}).
			SetUpdate(bson.M{
				"$set":         bson.M{"name": f.Name, "size": f.Size},
				"$setOnInsert": bson.M{"created_at": now},
			}).
			SetUpsert(true))
	}

	_, err := m.FilesCollection().BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	return nil
}
