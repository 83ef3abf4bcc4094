// internal/history/recorder.go
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Entry is one transcript line: a chat message, a cast vote, a phase change.
// The historian service pops these off the queue and persists them.
type Entry struct {
	ID        uuid.UUID              `json:"id"`
	RoomID    string                 `json:"room_id"`
	Kind      string                 `json:"kind"`
	Player    string                 `json:"player,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// RedisRecorder pushes transcript entries onto a redis list. Recording is
// fire-and-forget: a session must never stall or fail because the transcript
// sink is down.
type RedisRecorder struct {
	rdb   *redis.Client
	queue string
	log   *logrus.Logger
}

// NewRedisRecorder connects and verifies the redis endpoint.
func NewRedisRecorder(addr, queue string, log *logrus.Logger) (*RedisRecorder, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &RedisRecorder{rdb: rdb, queue: queue, log: log}, nil
}

// Record queues one entry. Errors are logged and swallowed.
func (r *RedisRecorder) Record(roomID, kind, player string, payload map[string]interface{}) {
	entry := Entry{
		ID:        uuid.New(),
		RoomID:    roomID,
		Kind:      kind,
		Player:    player,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	go func() {
		data, err := json.Marshal(entry)
		if err != nil {
			r.log.Warnf("history: marshal entry: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.rdb.RPush(ctx, r.queue, data).Err(); err != nil {
			r.log.Warnf("history: RPush to %s: %v", r.queue, err)
		}
	}()
}

// Close releases the redis client.
func (r *RedisRecorder) Close() error {
	return r.rdb.Close()
}
