// Package redishost provides a redis-backed sessions.Host for multi-node
// deployments. Session records are redis hashes with a TTL; per-session
// event logs are redis streams, so SSE resume works across nodes.
package redishost

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/dispatchrpc/mcp-dispatch-go/sessions"
)

// Config for a redis-backed Host. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
	// SessionTTL bounds how long an idle session survives. ENV: SESSION_TTL
	SessionTTL time.Duration `env:"SESSION_TTL,default=30m"`
	// MaxBufferedEvents bounds each session's stream. ENV: SESSION_MAX_EVENTS
	MaxBufferedEvents int64 `env:"SESSION_MAX_EVENTS,default=256"`
}

// Host is a redis-backed sessions.Host.
type Host struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	maxEvents int64
}

var _ sessions.Host = (*Host)(nil)

// New connects to redis and verifies the connection with a ping.
func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	maxEvents := cfg.MaxBufferedEvents
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &Host{client: cl, keyPrefix: prefix, ttl: ttl, maxEvents: maxEvents}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg)
}

// Close closes the redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) sessionKey(sessionID string) string { return h.keyPrefix + "sess:" + sessionID }
func (h *Host) streamKey(sessionID string) string  { return h.keyPrefix + "stream:" + sessionID }

func (h *Host) CreateSession(ctx context.Context, sess sessions.Session) error {
	key := h.sessionKey(sess.ID)
	if err := h.client.HSet(ctx, key,
		"id", sess.ID,
		"protocol_version", sess.ProtocolVersion,
		"created_at", sess.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return err
	}
	return h.client.Expire(ctx, key, h.ttl).Err()
}

func (h *Host) LoadSession(ctx context.Context, sessionID string) (sessions.Session, error) {
	fields, err := h.client.HGetAll(ctx, h.sessionKey(sessionID)).Result()
	if err != nil {
		return sessions.Session{}, err
	}
	if len(fields) == 0 {
		return sessions.Session{}, sessions.ErrSessionNotFound
	}
	sess := sessions.Session{
		ID:              fields["id"],
		ProtocolVersion: fields["protocol_version"],
	}
	if raw := fields["created_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			sess.CreatedAt = t
		}
	}
	// Sliding expiry: activity keeps the session alive.
	_ = h.client.Expire(ctx, h.sessionKey(sessionID), h.ttl).Err()
	return sess, nil
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	n, err := h.client.Del(c, h.sessionKey(sessionID)).Result()
	if err != nil {
		return err
	}
	_, _ = h.client.Del(c, h.streamKey(sessionID)).Result()
	if n == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}

func (h *Host) PublishSession(ctx context.Context, sessionID string, payload []byte) (string, error) {
	exists, err := h.client.Exists(ctx, h.sessionKey(sessionID)).Result()
	if err != nil {
		return "", err
	}
	if exists == 0 {
		return "", sessions.ErrSessionNotFound
	}
	key := h.streamKey(sessionID)
	id, err := h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: h.maxEvents,
		Approx: true,
		Values: map[string]interface{}{"d": payload},
	}).Result()
	if err != nil {
		return "", err
	}
	_ = h.client.Expire(ctx, key, h.ttl).Err()
	return id, nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	if _, err := h.LoadSession(ctx, sessionID); err != nil {
		return err
	}

	key := h.streamKey(sessionID)
	start := lastEventID
	if start == "" {
		start = "$" // new events only
	} else if _, err := strconv.ParseInt(start, 10, 64); err == nil {
		// Browsers echo the bare id from the SSE "id:" field; a stream entry
		// id needs the sequence part for an exclusive-start XRead.
		start += "-0"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, start},
			Count:   16,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return err
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			start = m.ID
			var payload []byte
			switch v := m.Values["d"].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				payload = []byte(fmt.Sprintf("%v", v))
			}
			if err := handler(ctx, m.ID, payload); err != nil {
				return err
			}
		}
	}
}
