// Package livestatus keeps short-lived per-session counters in Redis for the
// live session page. Everything here is best effort: errors are logged, never
// returned to the worker.
package livestatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a session's keys outlive its last update.
const DefaultTTL = 12 * time.Hour

// WriteTimeout bounds each write made from a worker's frame loop.
const WriteTimeout = 250 * time.Millisecond

// Match is the last best match a worker saw.
type Match struct {
	IdentityID int64     `json:"identity_id"`
	Name       string    `json:"name"`
	Similarity float64   `json:"similarity"`
	Outcome    string    `json:"outcome"`
	At         time.Time `json:"at"`
}

// Snapshot is what the live page shows.
type Snapshot struct {
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	LastBest  *Match     `json:"last_best,omitempty"`
	LastMark  *Match     `json:"last_mark,omitempty"`
	FaceSeen  int64      `json:"face_seen"`
	WorkerUp  bool       `json:"worker_up"`
	Heartbeat *time.Time `json:"heartbeat,omitempty"`
}

// Cache writes and reads live status.
type Cache struct {
	client       *redis.Client
	ttl          time.Duration
	writeTimeout time.Duration
}

// New creates a cache.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl, writeTimeout: WriteTimeout}
}

func key(sessionID int64, field string) string {
	return "sess:" + strconv.FormatInt(sessionID, 10) + ":" + field
}

// Seen records that a frame with n faces was processed.
func (c *Cache) Seen(ctx context.Context, sessionID int64, faces int, at time.Time) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	pipe := c.client.Pipeline()
	pipe.Set(ctx, key(sessionID, "last_seen"), at.UTC().Format(time.RFC3339Nano), c.ttl)
	if faces > 0 {
		pipe.IncrBy(ctx, key(sessionID, "face_seen"), int64(faces))
		pipe.Expire(ctx, key(sessionID, "face_seen"), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("session %d: live status: %v", sessionID, err)
	}
}

// Best records the best match of a face, accepted or not.
func (c *Cache) Best(ctx context.Context, sessionID int64, m Match) {
	c.setJSON(ctx, sessionID, "last_best", m)
}

// Marked records a ledger write.
func (c *Cache) Marked(ctx context.Context, sessionID int64, m Match) {
	c.setJSON(ctx, sessionID, "last_mark", m)
}

// Heartbeat marks the session's worker alive for ttl.
func (c *Cache) Heartbeat(ctx context.Context, sessionID int64, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.client.Set(ctx, key(sessionID, "worker"), time.Now().UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		log.Printf("session %d: heartbeat: %v", sessionID, err)
	}
}

// Clear drops the heartbeat when a worker exits.
func (c *Cache) Clear(ctx context.Context, sessionID int64) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.client.Del(ctx, key(sessionID, "worker")).Err(); err != nil {
		log.Printf("session %d: clear heartbeat: %v", sessionID, err)
	}
}

func (c *Cache) setJSON(ctx context.Context, sessionID int64, field string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.client.Set(ctx, key(sessionID, field), b, c.ttl).Err(); err != nil {
		log.Printf("session %d: live status %s: %v", sessionID, field, err)
	}
}

// Snapshot reads everything known about a session.
func (c *Cache) Snapshot(ctx context.Context, sessionID int64) (Snapshot, error) {
	vals, err := c.client.MGet(ctx,
		key(sessionID, "last_seen"),
		key(sessionID, "last_best"),
		key(sessionID, "last_mark"),
		key(sessionID, "face_seen"),
		key(sessionID, "worker"),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("live status: %w", err)
	}

	var s Snapshot
	s.LastSeen = parseTime(vals[0])
	s.LastBest = parseMatch(vals[1])
	s.LastMark = parseMatch(vals[2])
	if str, ok := vals[3].(string); ok {
		s.FaceSeen, _ = strconv.ParseInt(str, 10, 64)
	}
	s.Heartbeat = parseTime(vals[4])
	s.WorkerUp = s.Heartbeat != nil
	return s, nil
}

func parseTime(v any) *time.Time {
	str, ok := v.(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return nil
	}
	return &t
}

func parseMatch(v any) *Match {
	str, ok := v.(string)
	if !ok {
		return nil
	}
	var m Match
	if err := json.Unmarshal([]byte(str), &m); err != nil {
		return nil
	}
	return &m
}
