package startup

import (
	"context"
	"os"
	"time"

	"github.com/chatview/internal/backend/redisnotify"
	"github.com/chatview/internal/logger"
)

// ConnectRedisWithRetry connects the Redis notifier with backoff.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration) *redisnotify.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisnotify.New(ctx, redisURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("redis (gave up after %v): %v", maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
