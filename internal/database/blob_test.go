package database

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"peershare/internal/models"
)

func blobStores(t *testing.T) map[string]BlobStore {
	t.Helper()
	files, err := NewFileBlobs(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatal(err)
	}
	mem, err := NewBadger("", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mem.Close() })
	return map[string]BlobStore{"file": files, "badger": mem}
}

func TestBlobStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
				t.Fatalf("Get(missing) = %v, %v", ok, err)
			}
			for _, v := range [][]byte{[]byte("first"), []byte("second value"), {}} {
				if err := store.Put(ctx, "k", v); err != nil {
					t.Fatalf("Put: %v", err)
				}
				got, ok, err := store.Get(ctx, "k")
				if err != nil || !ok {
					t.Fatalf("Get = %v, %v", ok, err)
				}
				if !bytes.Equal(got, v) {
					t.Fatalf("Get = %q, want %q", got, v)
				}
			}
		})
	}
}

func TestFileBlobsLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileBlobs(dir)
	store.Put(context.Background(), "state", []byte("x"))

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "state.dat" {
		t.Fatalf("dir contents = %v", entries)
	}
}

func TestBadgerOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	store, err := NewBadger(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	store.Put(ctx, "k", []byte("durable"))
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewBadger(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	got, ok, _ := store.Get(ctx, "k")
	if !ok || string(got) != "durable" {
		t.Fatalf("Get after reopen = %q, %v", got, ok)
	}
}

func TestBlobCatalog(t *testing.T) {
	ctx := context.Background()
	for name, store := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			c := &BlobCatalog{Store: store}
			files, err := c.LoadCatalog(ctx)
			if err != nil || len(files) != 0 {
				t.Fatalf("LoadCatalog on empty store = %v, %v", files, err)
			}

			want := []models.FileEntry{
				models.NewFileEntry("a.txt", 100).WithID(0),
				models.NewFileEntry("视频.mp4", 25<<20).WithID(1),
			}
			if err := c.SaveCatalog(ctx, want); err != nil {
				t.Fatal(err)
			}
			got, err := c.LoadCatalog(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(got, want) {
				t.Fatalf("LoadCatalog = %v, want %v", got, want)
			}
		})
	}
}

func TestBlobCatalogRejectsUnassigned(t *testing.T) {
	store, _ := NewFileBlobs(t.TempDir())
	c := &BlobCatalog{Store: store}
	if err := c.SaveCatalog(context.Background(), []models.FileEntry{models.NewFileEntry("x", 1)}); err == nil {
		t.Fatal("expected error saving entry without id")
	}
}
