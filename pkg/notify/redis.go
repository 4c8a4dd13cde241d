package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "tracking.events"

// RedisOptions configures a RedisSink.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	Channel     string
	DialTimeout time.Duration
}

// RedisSink publishes events as JSON messages on a Redis channel.
type RedisSink struct {
	rdb     *redis.Client
	channel string
}

// NewRedisSink creates a sink. It does not connect until the first publish,
// so an unavailable Redis never blocks startup.
func NewRedisSink(opts RedisOptions) *RedisSink {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		MaxRetries:  -1,
	})
	return NewRedisSinkFromClient(rdb, opts.Channel)
}

// NewRedisSinkFromClient wraps an existing client, e.g. one shared with
// other publishers. Close closes the client.
func NewRedisSinkFromClient(rdb *redis.Client, channel string) *RedisSink {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{rdb: rdb, channel: channel}
}

// Channel returns the channel events are published on.
func (s *RedisSink) Channel() string { return s.channel }

func (s *RedisSink) Notify(ctx context.Context, event core.Event) error {
	msg, err := NewMessage(event)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, raw).Err()
}

// Close releases the client's connections.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
