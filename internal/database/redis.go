package database

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"peershare/internal/models"
)

const (
	seedersKeyPrefix = "tracker:seeders:"
	activeFilesKey   = "tracker:active_files"
)

// Redis Redis 客户端包装，同时实现 Tracker 的做种者登记表
// 每个文件一个有序集合，成员为 Peer 地址，分数为过期时间（毫秒）
type Redis struct {
	Client *redis.Client
	now    func() time.Time
}

// RedisPoolOptions Redis 连接池配置
type RedisPoolOptions struct {
	PoolSize     int
	MinIdleConns int
}

// NewRedis 创建新的 Redis 连接
// poolOpts 为 nil 时使用默认连接池配置（50/10）
func NewRedis(addr, password string, db int, poolOpts *RedisPoolOptions) (*Redis, error) {
	poolSize := 50
	minIdleConns := 10
	if poolOpts != nil {
		if poolOpts.PoolSize > 0 {
			poolSize = poolOpts.PoolSize
		}
		if poolOpts.MinIdleConns > 0 {
			minIdleConns = poolOpts.MinIdleConns
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{Client: client, now: time.Now}, nil
}

// Close 关闭 Redis 连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

func seedersKey(id int32) string {
	return seedersKeyPrefix + strconv.FormatInt(int64(id), 10)
}

// aliveMin 只统计尚未过期的成员
func (r *Redis) aliveMin() string {
	return "(" + strconv.FormatInt(r.now().UnixMilli(), 10)
}

// Add 为 rec 中的每个文件登记做种者，同一 Peer 的旧记录被新的过期时间覆盖
func (r *Redis) Add(ctx context.Context, rec models.SeederRecord) error {
	member := rec.Addr.String()
	score := float64(rec.ExpiresAt.UnixMilli())
	ttl := rec.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	pipe := r.Client.Pipeline()
	for _, id := range lo.Uniq(rec.FileIDs) {
		key := seedersKey(id)
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		// 整个集合在最后一次 announce 过期后自动删除
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, activeFilesKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add seeder %s: %w", member, err)
	}
	return nil
}

// Sources 合并多个文件的在线做种者
func (r *Redis) Sources(ctx context.Context, ids []int32) ([]netip.AddrPort, error) {
	alive := r.aliveMin()
	pipe := r.Client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.ZRangeByScore(ctx, seedersKey(id), &redis.ZRangeBy{Min: alive, Max: "+inf"}))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to query seeders: %w", err)
	}

	var addrs []netip.AddrPort
	for _, cmd := range cmds {
		for _, member := range cmd.Val() {
			addr, err := netip.ParseAddrPort(member)
			if err != nil {
				continue
			}
			addrs = append(addrs, addr)
		}
	}
	addrs = lo.Uniq(addrs)
	slices.SortFunc(addrs, func(a, b netip.AddrPort) int { return a.Compare(b) })
	return addrs, nil
}

// Count 文件的在线做种者数量
func (r *Redis) Count(ctx context.Context, id int32) (int, error) {
	n, err := r.Client.ZCount(ctx, seedersKey(id), r.aliveMin(), "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Reset 删除所有做种者记录
func (r *Redis) Reset(ctx context.Context) error {
	ids, err := r.Client.SMembers(ctx, activeFilesKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, seedersKeyPrefix+id)
	}
	keys = append(keys, activeFilesKey)
	return r.Client.Del(ctx, keys...).Err()
}

// Sweep 清理全局所有已过期的做种者，集合清空后从活跃列表移除
func (r *Redis) Sweep(ctx context.Context) error {
	ids, err := r.Client.SMembers(ctx, activeFilesKey).Result()
	if err != nil {
		return err
	}

	deathLine := strconv.FormatInt(r.now().UnixMilli(), 10)
	for _, id := range ids {
		key := seedersKeyPrefix + id

		pipe := r.Client.Pipeline()
		pipe.ZRemRangeByScore(ctx, key, "-inf", deathLine)
		card := pipe.ZCard(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to sweep %s: %w", key, err)
		}

		if card.Val() == 0 {
			pipe := r.Client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, activeFilesKey, id)
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop %s: %w", key, err)
			}
		}
	}
	return nil
}
