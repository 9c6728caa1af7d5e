// Package push delivers Web Push notifications to participants without a
// connected session. Best-effort: failures are logged, never surfaced to the
// send path.
package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/estatechat/internal/logger"
	"github.com/redis/go-redis/v9"
)

const subsKeyPrefix = "push_subs:"

// Subscription is a browser push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Service stores subscriptions in Redis lists and sends through Web Push.
// A nil *Service is a valid no-op notifier.
type Service struct {
	cli   *redis.Client
	vapid *webpush.Options
	pub   string
}

// New builds the push service. Returns nil when Redis or the key pair is
// missing, which disables push entirely.
func New(cli *redis.Client, publicKey, privateKey, subscriber string) *Service {
	if cli == nil || publicKey == "" || privateKey == "" {
		return nil
	}
	return &Service{
		cli: cli,
		vapid: &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             30,
		},
		pub: publicKey,
	}
}

// PublicKey returns the VAPID public key handed to browsers at subscribe time.
func (s *Service) PublicKey() string {
	if s == nil {
		return ""
	}
	return s.pub
}

// Subscribe stores a subscription for the user.
func (s *Service) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.cli.RPush(ctx, subsKeyPrefix+userID, data).Err()
}

// Unsubscribe removes the subscription with the given endpoint.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if s == nil {
		return nil
	}
	return s.removeSubscription(ctx, userID, endpoint)
}

// Notify sends a notification to every subscription of the user. Dead
// subscriptions (410/404) are pruned as they are discovered.
func (s *Service) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s == nil {
		return
	}
	defer logger.DeferLogDuration("push.Notify", time.Now())()
	list, err := s.cli.LRange(ctx, subsKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		logger.Errorf("push notify user=%s: %v", userID, err)
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == "" {
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.vapid)
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			s.removeSubscription(ctx, userID, sub.Endpoint)
		}
	}
}

func (s *Service) removeSubscription(ctx context.Context, userID, endpoint string) error {
	key := subsKeyPrefix + userID
	list, err := s.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	kept := make([]any, 0, len(list))
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			continue
		}
		kept = append(kept, item)
	}
	pipe := s.cli.TxPipeline()
	pipe.Del(ctx, key)
	if len(kept) > 0 {
		pipe.RPush(ctx, key, kept...)
	}
	_, err = pipe.Exec(ctx)
	return err
}
