package startup

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flamechat/internal/logger"
)

// ConnectRedisWithRetry connects to the Redis broker used for change-feed
// fan-out, with the same backoff discipline as the database connect.
func ConnectRedisWithRetry(url string, maxWait time.Duration) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Errorf("parse redis url: %v", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return client
		}
		client.Close()
		if time.Now().After(deadline) {
			logger.Errorf("redis ping (gave up after %v): %v", maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("redis ping failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
