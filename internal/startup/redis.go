package startup

import (
	"context"
	"os"
	"time"

	"github.com/estatechat/internal/broker"
	"github.com/estatechat/internal/logger"
)

// ConnectBrokerWithRetry connects the Redis event broker with retries.
func ConnectBrokerWithRetry(redisURL string, maxWait time.Duration) *broker.Redis {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		bkr, err := broker.NewRedis(ctx, redisURL)
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
		return bkr
	}
}
