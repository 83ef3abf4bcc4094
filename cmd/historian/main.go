// cmd/historian/main.go is an asynchronous archiver that pops session
// transcript entries from a Redis queue and persists them to PostgreSQL.
// Run it next to the game server when durable room transcripts are wanted;
// the client sessions keep working with or without it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/history"
)

// archiver couples the redis queue with the postgres pool and batches writes.
type archiver struct {
	rdb        *redis.Client
	db         *pgxpool.Pool
	log        *logrus.Logger
	queue      string
	batchSize  int
	flushDelay time.Duration

	batchMu sync.Mutex
	batch   []history.Entry
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	a := &archiver{
		log:        log,
		queue:      getEnv("CASUS_TRANSCRIPT_QUEUE", "casus_transcript"),
		batchSize:  getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		flushDelay: time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
	}

	a.rdb = redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"),
		getEnv("PG_HOST", "localhost"), getEnv("PG_PORT", "5432"),
		getEnv("PG_DATABASE", "casus"),
	)
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatalf("pgx pool: %v", err)
	}
	a.db = pool
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("casus-historian started")
	a.run(ctx)
	a.flush()
	log.Info("casus-historian shutting down")
}

// run pops entries with BLPop and flushes batches on size or cadence.
func (a *archiver) run(ctx context.Context) {
	ticker := time.NewTicker(a.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flush()
		default:
			// Short BLPop timeout keeps shutdown responsive.
			res, err := a.rdb.BLPop(ctx, 3*time.Second, a.queue).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				a.log.Errorf("BLPop: %v", err)
				continue
			}
			if len(res) < 2 {
				continue
			}
			var entry history.Entry
			if err := json.Unmarshal([]byte(res[1]), &entry); err != nil {
				a.log.Warnf("invalid transcript entry: %v", err)
				continue
			}
			a.append(entry)
		}
	}
}

func (a *archiver) append(entry history.Entry) {
	a.batchMu.Lock()
	a.batch = append(a.batch, entry)
	full := len(a.batch) >= a.batchSize
	a.batchMu.Unlock()
	if full {
		a.flush()
	}
}

// flush writes the pending batch in one transaction.
func (a *archiver) flush() {
	a.batchMu.Lock()
	if len(a.batch) == 0 {
		a.batchMu.Unlock()
		return
	}
	batch := make([]history.Entry, len(a.batch))
	copy(batch, a.batch)
	a.batch = a.batch[:0]
	a.batchMu.Unlock()

	ctx := context.Background()
	err := pgx.BeginTxFunc(ctx, a.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, e := range batch {
			if err := insertEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		a.log.Errorf("flush: %v", err)
		return
	}
	a.log.Infof("flushed %d transcript entries", len(batch))
}

func insertEntry(ctx context.Context, tx pgx.Tx, e history.Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	q := `
		INSERT INTO room_transcript (id, room_id, kind, player, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, to_timestamp($6 / 1000.0))
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, q, e.ID, e.RoomID, e.Kind, e.Player, payload, e.Timestamp); err != nil {
		return fmt.Errorf("insert transcript entry: %w", err)
	}
	return nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return def
	}
	return v
}
