package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"chainiq-service/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type leaderboardEvent struct {
	QuizID string `json:"quizId"`
}

// LeaderboardBus broadcasts "attempts changed" events to every instance so each
// can refresh its own websocket subscribers.
type LeaderboardBus struct {
	log     *logger.Logger
	client  *redis.Client
	channel string
}

func NewLeaderboardBus(client *redis.Client, channel string, log *logger.Logger) *LeaderboardBus {
	if channel == "" {
		channel = "chainiq:leaderboard"
	}
	return &LeaderboardBus{
		log:     log.With("service", "RedisLeaderboardBus"),
		client:  client,
		channel: channel,
	}
}

func (b *LeaderboardBus) Notify(ctx context.Context, quizID string) error {
	raw, err := json.Marshal(leaderboardEvent{QuizID: quizID})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and calls onChange for every event
// until ctx is cancelled.
func (b *LeaderboardBus) StartForwarder(ctx context.Context, onChange func(quizID string)) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback required")
	}

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var evt leaderboardEvent
				if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil || evt.QuizID == "" {
					b.log.Warn("bad leaderboard event payload", "payload", m.Payload)
					continue
				}
				onChange(evt.QuizID)
			}
		}
	}()
	return nil
}
