package main

import (
	"context"
	"net/netip"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"peershare/internal/config"
	"peershare/internal/database"
	"peershare/internal/models"
)

// 检查配置的 Tracker 存储后端是否可用
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	log.Logger = logger
	logger.Info().Msg("=== 存储后端连接测试 ===")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg, database.RoleTracker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	testCatalog(ctx, db)
	if db.Redis != nil {
		testRedis(ctx, db.Redis)
	}

	logger.Info().Msg("✓ 所有测试完成!")
}

// testCatalog 只读，避免改动真实目录
func testCatalog(ctx context.Context, db *database.DB) {
	files, err := db.Catalog().LoadCatalog(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load catalog")
		return
	}
	log.Info().Int("files", len(files)).Msg("✓ catalog loaded")
	for _, f := range files {
		log.Info().Int32("id", f.ID).Str("name", f.Name).Int64("size", f.Size).Msg("  file")
	}
}

// testRedis 使用一个不会被真实 Tracker 分配的 ID 读写登记表
func testRedis(ctx context.Context, r *database.Redis) {
	const probeID = -1
	peer := netip.MustParseAddrPort("127.0.0.1:6881")

	rec := models.SeederRecord{Addr: peer, FileIDs: []int32{probeID}, ExpiresAt: time.Now().Add(time.Minute)}
	if err := r.Add(ctx, rec); err != nil {
		log.Error().Err(err).Msg("failed to add seeder")
		return
	}
	log.Info().Msg("✓ seeder added")

	addrs, err := r.Sources(ctx, []int32{probeID})
	if err != nil {
		log.Error().Err(err).Msg("failed to query seeders")
		return
	}
	log.Info().Interface("sources", addrs).Msg("✓ seeders queried")

	if err := r.Client.Del(ctx, "tracker:seeders:-1").Err(); err != nil {
		log.Error().Err(err).Msg("failed to clean up probe")
		return
	}
	r.Client.SRem(ctx, "tracker:active_files", probeID)
	log.Info().Msg("✓ probe removed")
}
