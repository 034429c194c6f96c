package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"log"

	"github.com/go-redis/redis/v8"
)

// Redis holds a per-ticket scan lock. Two scans of the same ticket
// number serialize on it across server replicas; scans of different
// numbers never contend.
type Redis struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		Client: client,
		Logger: log.Default(),
	}
}

// getScanLockTTL returns the scan lock TTL from environment variables or
// the default value. The TTL only matters if a holder dies mid-scan.
func (r *Redis) getScanLockTTL() time.Duration {
	defaultTTL := 10 * time.Second

	ttlStr := os.Getenv("SCAN_LOCK_TTL_SECONDS")
	if ttlStr == "" {
		return defaultTTL
	}

	ttlSec, err := strconv.Atoi(ttlStr)
	if err != nil {
		r.Logger.Println("REDIS: Invalid SCAN_LOCK_TTL_SECONDS value '" + ttlStr + "', using default 10 seconds")
		return defaultTTL
	}
	return time.Duration(ttlSec) * time.Second
}

// LockTicket takes the scan lock for a ticket number. Returns false when
// another scan currently holds it.
func (r *Redis) LockTicket(ctx context.Context, number, token string) (bool, error) {
	key := "scan_lock:" + number
	ok, err := r.Client.SetNX(ctx, key, token, r.getScanLockTTL()).Result()
	return ok, err
}

// UnlockTicket releases the scan lock if this holder still owns it.
func (r *Redis) UnlockTicket(ctx context.Context, number, token string) error {
	key := fmt.Sprintf("scan_lock:%s", number)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
