package database

import (
	"context"
	"fmt"
	"os"
	"slices"
	"testing"
	"time"

	"peershare/internal/models"
)

// 需要真实的 MongoDB：MONGODB_TEST_URI=mongodb://localhost:27017 go test ./internal/database
func TestMongoCatalog(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()
	dbName := fmt.Sprintf("peershare_test_%d", time.Now().UnixNano())

	m, err := NewMongoDB(uri, dbName, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		m.Database.Drop(ctx)
		m.Close(ctx)
	}()
	if err := m.CreateIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	files := []models.FileEntry{
		models.NewFileEntry("a", 1).WithID(0),
		models.NewFileEntry("b", 2).WithID(1),
	}
	if err := m.SaveCatalog(ctx, files); err != nil {
		t.Fatal(err)
	}
	// 再次保存只追加新条目，不产生重复文档
	files = append(files, models.NewFileEntry("c", 3).WithID(2))
	if err := m.SaveCatalog(ctx, files); err != nil {
		t.Fatal(err)
	}

	got, err := m.LoadCatalog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, files) {
		t.Fatalf("LoadCatalog = %v, want %v", got, files)
	}
}
