package ratelimit

import (
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"iptv-relay/work/logger"

	"github.com/panjf2000/ants/v2"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Bucket identifies one of the two independent token buckets. Playlist
// fetches are low volume; segment polling during live playback is high
// volume and bursty, so the two get separate capacity and refill rates.
type Bucket string

const (
	BucketPlaylist Bucket = "playlist"
	BucketStream   Bucket = "stream"
)

// RetryAfter is the hint returned to rate-limited callers. The buckets
// refill continuously, so a short fixed delay is enough.
const RetryAfter = 1 * time.Second

// Limits holds the token bucket parameters for one bucket kind.
type Limits struct {
	Capacity     float64 // max burst tokens
	RefillPerSec float64 // steady refill rate
}

// Store is a persisted token-bucket rate limiter. Bucket state lives in a
// SQLite table keyed by (kind, caller), so limits survive process restarts
// and are shared across concurrent requests. This is a soft limiter:
// last-writer-wins persistence is acceptable, races only ever under- or
// over-admit by a token.
type Store struct {
	db         *sql.DB
	limits     map[Bucket]Limits
	sweepAfter time.Duration
	pool       *ants.Pool
	logger     *logger.Logger

	// now is split out so tests can drive the clock.
	now func() time.Time
}

// Open creates (or reopens) the bucket store at path. The database is
// opened in WAL mode with a busy timeout so simultaneous relay requests
// do not fail on lock contention. The ants pool, when non-nil, runs the
// opportunistic sweeps off the request path.
func Open(path string, limits map[Bucket]Limits, sweepAfter time.Duration, pool *ants.Pool, lg *logger.Logger) (*Store, error) {

	// ensure the directory exists
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create rate db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_buckets (
			key    TEXT PRIMARY KEY,
			tokens REAL NOT NULL,
			ts     REAL NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create rate_buckets table: %w", err)
	}

	return &Store{
		db:         db,
		limits:     limits,
		sweepAfter: sweepAfter,
		pool:       pool,
		logger:     lg,
		now:        time.Now,
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Allow reports whether the caller may proceed under the given bucket kind,
// spending one token on success.
//
// Algorithm: read the persisted {tokens, ts} state (a missing row starts at
// full capacity), add elapsed*refill tokens capped at capacity, reject if
// fewer than one token remains, otherwise subtract one and persist the new
// state. Nothing is written on rejection, so a rejected burst does not push
// the timestamp forward.
func (s *Store) Allow(kind Bucket, callerKey string) bool {
	lim, ok := s.limits[kind]
	if !ok {
		// Unknown bucket kinds fail closed.
		s.logger.Warn("rate limiter: unknown bucket kind %q", kind)
		return false
	}

	key := string(kind) + ":" + callerKey
	now := float64(s.now().UnixNano()) / 1e9

	tokens := lim.Capacity
	ts := now

	var prevTokens, prevTS float64
	err := s.db.QueryRow(`SELECT tokens, ts FROM rate_buckets WHERE key = ?`, key).Scan(&prevTokens, &prevTS)
	switch err {
	case nil:
		elapsed := now - prevTS
		if elapsed < 0 {
			elapsed = 0
		}
		tokens = prevTokens + elapsed*lim.RefillPerSec
		if tokens > lim.Capacity {
			tokens = lim.Capacity
		}
	case sql.ErrNoRows:
		// first use: full bucket
	default:
		// A broken store must not turn into an open relay; fail closed.
		s.logger.Error("rate limiter: read failed for %s: %v", key, err)
		return false
	}

	if tokens < 1.0 {
		return false
	}

	tokens -= 1.0

	_, err = s.db.Exec(`
		INSERT INTO rate_buckets (key, tokens, ts) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET tokens = excluded.tokens, ts = excluded.ts
	`, key, tokens, ts)
	if err != nil {
		s.logger.Error("rate limiter: write failed for %s: %v", key, err)
	}

	// Best-effort cleanup: occasionally prune stale buckets so storage stays
	// bounded. Races are acceptable; worst case a live bucket restarts full.
	if rand.IntN(500) == 0 {
		s.sweep(now)
	}

	return true
}

// sweep deletes buckets untouched for longer than the inactivity threshold.
// It runs on the worker pool when one is available.
func (s *Store) sweep(now float64) {
	run := func() {
		cutoff := now - s.sweepAfter.Seconds()
		res, err := s.db.Exec(`DELETE FROM rate_buckets WHERE ts < ?`, cutoff)
		if err != nil {
			s.logger.Warn("rate limiter: sweep failed: %v", err)
			return
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("{ratelimit - sweep} removed %d stale buckets", n)
		}
	}

	if s.pool != nil {
		if err := s.pool.Submit(run); err == nil {
			return
		}
	}
	run()
}
