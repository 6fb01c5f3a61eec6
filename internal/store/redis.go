package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pelusa-v/firechat/internal/domain"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// Redis key patterns:
// {prefix}:{messages}:docs      HASH<id, json>     - message documents
// {prefix}:{messages}:order     ZSET<id>           - score = timestamp in ms
// {prefix}:{messages}:changes   CHANNEL            - one redisChange per mutation
// {prefix}:{status}:docs        HASH<userId, json> - presence records
// {prefix}:{status}:changes     CHANNEL            - payload = userId

// Redis is a Store backed by Redis hashes, with pub/sub as the change feed.
// Timestamps come from the Redis server clock.
type Redis struct {
	client *redis.Client
	prefix string
	cols   Collections
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig, cols Collections) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisWithClient(client, cfg.KeyPrefix, cols), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, cols Collections) *Redis {
	if prefix == "" {
		prefix = "firechat"
	}
	return &Redis{client: client, prefix: prefix, cols: cols.withDefaults()}
}

func (s *Redis) key(collection, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, collection, suffix)
}

type redisMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
	Edited    bool   `json:"edited"`
}

func (m redisMessage) toDomain() domain.Message {
	ts := time.UnixMilli(m.Timestamp)
	return domain.Message{
		ID:        m.ID,
		Text:      m.Text,
		UserID:    m.UserID,
		UserName:  m.UserName,
		Timestamp: &ts,
		Edited:    m.Edited,
	}
}

type redisChange struct {
	Kind    string        `json:"kind"`
	ID      string        `json:"id"`
	Message *redisMessage `json:"message,omitempty"`
}

func (c redisChange) toDomain() (domain.Change, error) {
	switch c.Kind {
	case domain.Added.String():
		if c.Message == nil {
			return domain.Change{}, fmt.Errorf("added change %s without document", c.ID)
		}
		return domain.AddedChange(c.Message.toDomain()), nil
	case domain.Modified.String():
		if c.Message == nil {
			return domain.Change{}, fmt.Errorf("modified change %s without document", c.ID)
		}
		return domain.ModifiedChange(c.Message.toDomain()), nil
	case domain.Removed.String():
		return domain.RemovedChange(c.ID), nil
	default:
		return domain.Change{}, fmt.Errorf("unknown change kind %q", c.Kind)
	}
}

type redisPresence struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	State       string `json:"state"`
	LastChanged int64  `json:"lastChanged"`
}

func (s *Redis) AddMessage(ctx context.Context, msg domain.NewMessage) (string, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return "", fmt.Errorf("read server time: %w", err)
	}

	doc := redisMessage{
		ID:        ulid.Make().String(),
		Text:      msg.Text,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Timestamp: now.UnixMilli(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	change, err := json.Marshal(redisChange{Kind: domain.Added.String(), ID: doc.ID, Message: &doc})
	if err != nil {
		return "", err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(s.cols.Messages, "docs"), doc.ID, data)
		pipe.ZAdd(ctx, s.key(s.cols.Messages, "order"), redis.Z{Score: float64(doc.Timestamp), Member: doc.ID})
		pipe.Publish(ctx, s.key(s.cols.Messages, "changes"), change)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	return doc.ID, nil
}

func (s *Redis) UpdateMessage(ctx context.Context, id, text string) error {
	docsKey := s.key(s.cols.Messages, "docs")

	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("read server time: %w", err)
	}

	var doc redisMessage
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, docsKey, id).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode message %s: %w", id, err)
		}

		doc.Text = text
		doc.Edited = true
		doc.Timestamp = now.UnixMilli()
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		change, err := json.Marshal(redisChange{Kind: domain.Modified.String(), ID: id, Message: &doc})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, docsKey, id, data)
			pipe.ZAdd(ctx, s.key(s.cols.Messages, "order"), redis.Z{Score: float64(doc.Timestamp), Member: id})
			pipe.Publish(ctx, s.key(s.cols.Messages, "changes"), change)
			return nil
		})
		return err
	}, docsKey)
	if err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	return nil
}

// DeleteMessage always publishes Removed; listeners ignore IDs they do not show.
func (s *Redis) DeleteMessage(ctx context.Context, id string) error {
	change, err := json.Marshal(redisChange{Kind: domain.Removed.String(), ID: id})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.key(s.cols.Messages, "docs"), id)
		pipe.ZRem(ctx, s.key(s.cols.Messages, "order"), id)
		pipe.Publish(ctx, s.key(s.cols.Messages, "changes"), change)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

func (s *Redis) SetPresence(ctx context.Context, p domain.Presence) error {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("read server time: %w", err)
	}

	data, err := json.Marshal(redisPresence{
		UserID:      p.UserID,
		UserName:    p.UserName,
		State:       p.State,
		LastChanged: now.UnixMilli(),
	})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(s.cols.Status, "docs"), p.UserID, data)
		pipe.Publish(ctx, s.key(s.cols.Status, "changes"), p.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set presence %s: %w", p.UserID, err)
	}
	return nil
}

// maxRedisBatch bounds how many queued notifications are folded into one batch.
const maxRedisBatch = 64

// WatchMessages subscribes before reading the snapshot, so a change racing
// the snapshot read can arrive twice but never be lost. Changes published
// while the subscription is reconnecting are recovered by reloading the
// collection and diffing it against what was already delivered.
func (s *Redis) WatchMessages(ctx context.Context, onChange ChangeFunc, onError ErrorFunc) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := s.client.Subscribe(ctx, s.key(s.cols.Messages, "changes"))
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		ps.Close()
		return nil, fmt.Errorf("subscribe messages: %w", err)
	}

	docs, err := s.loadMessages(ctx)
	if err != nil {
		cancel()
		ps.Close()
		return nil, err
	}
	known := docSet{}
	initial := known.resync(docs)

	sub := &listenerSub{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer ps.Close()

		deliver := func(batch []domain.Change) {
			if len(batch) > 0 && ctx.Err() == nil {
				onChange(batch)
			}
		}
		deliver(initial)

		ch := ps.ChannelWithSubscriptions()
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-ch:
				if !ok {
					return
				}
				batch, resumed := s.decodeChanges(item, ch, onError)
				known.apply(batch)
				deliver(batch)
				if !resumed {
					continue
				}

				onError(ErrFeedResumed)
				docs, err := s.loadMessages(ctx)
				if err != nil {
					if ctx.Err() == nil {
						onError(err)
					}
					continue
				}
				deliver(known.resync(docs))
			}
		}
	}()
	return sub, nil
}

// decodeChanges decodes first plus whatever is already queued behind it. It
// stops at a re-subscription notice and reports it as resumed.
func (s *Redis) decodeChanges(first interface{}, ch <-chan interface{}, onError ErrorFunc) (batch []domain.Change, resumed bool) {
	decode := func(item interface{}) bool {
		switch item := item.(type) {
		case *redis.Subscription:
			return item.Kind == "subscribe"
		case *redis.Message:
			var rc redisChange
			if err := json.Unmarshal([]byte(item.Payload), &rc); err != nil {
				onError(fmt.Errorf("decode change: %w", err))
				return false
			}
			c, err := rc.toDomain()
			if err != nil {
				onError(err)
				return false
			}
			batch = append(batch, c)
		}
		return false
	}

	if decode(first) {
		return batch, true
	}
	for len(batch) < maxRedisBatch {
		select {
		case item, ok := <-ch:
			if !ok {
				return batch, false
			}
			if decode(item) {
				return batch, true
			}
		default:
			return batch, false
		}
	}
	return batch, false
}

func (s *Redis) loadMessages(ctx context.Context) ([]domain.Message, error) {
	ids, err := s.client.ZRange(ctx, s.key(s.cols.Messages, "order"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load message order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vals, err := s.client.HMGet(ctx, s.key(s.cols.Messages, "docs"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	out := make([]domain.Message, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var doc redisMessage
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *Redis) WatchPresence(ctx context.Context, onChange PresenceFunc, onError ErrorFunc) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := s.client.Subscribe(ctx, s.key(s.cols.Status, "changes"))
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		ps.Close()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}

	sub := &listenerSub{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer ps.Close()

		deliver := func() {
			online, err := s.loadOnline(ctx)
			if err != nil {
				if ctx.Err() == nil {
					onError(err)
				}
				return
			}
			if ctx.Err() == nil {
				onChange(online)
			}
		}

		deliver()
		// Re-subscription notices reload too, covering updates lost while
		// the connection was down.
		ch := ps.ChannelWithSubscriptions()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()
	return sub, nil
}

func (s *Redis) loadOnline(ctx context.Context) ([]domain.Presence, error) {
	vals, err := s.client.HGetAll(ctx, s.key(s.cols.Status, "docs")).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence: %w", err)
	}

	out := make([]domain.Presence, 0, len(vals))
	for _, raw := range vals {
		var p redisPresence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode presence: %w", err)
		}
		if p.State != domain.StateOnline {
			continue
		}
		out = append(out, domain.Presence{
			UserID:      p.UserID,
			UserName:    p.UserName,
			State:       p.State,
			LastChanged: time.UnixMilli(p.LastChanged),
		})
	}
	sortPresence(out)
	return out, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
