// Package ledger records an append-only history of served requests.
// Writes are queued on a bounded channel and drained by a background
// worker so that logging usage never adds latency to the request path.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Entry is one served-request record.
type Entry struct {
	ID               uint `gorm:"primaryKey;autoIncrement"`
	RequestID        string
	Backend          string
	Fingerprint      string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	CacheHit         bool
	LatencyMS        int64
	ServedAt         time.Time
}

func (Entry) TableName() string { return "usage_entries" }

// Config controls the ledger's durable store and write queue.
type Config struct {
	DSN       string
	QueueSize int
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	cp := *c
	if cp.DSN == "" {
		cp.DSN = "file:ledger.db?mode=rwc&_foreign_keys=on"
	}
	if cp.QueueSize <= 0 {
		cp.QueueSize = 1024
	}
	return &cp
}

// Ledger is the append-only usage store.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
	queue  chan Entry
	done   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	overflow int64
}

// Open opens (creating if needed) the ledger's durable store, migrates
// it forward, and starts the background writer.
func Open(config *Config, logger *zap.Logger) (*Ledger, error) {
	cfg := config.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	gdb, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := runMigrations(sqlDB); err != nil {
		return nil, err
	}

	l := &Ledger{
		db:     gdb,
		logger: logger,
		queue:  make(chan Entry, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.drain()
	return l, nil
}

// Append enqueues an entry for durable write. It never blocks: if the
// queue is full the entry is dropped and counted, and a warning is
// logged.
func (l *Ledger) Append(e Entry) {
	if e.ServedAt.IsZero() {
		e.ServedAt = time.Now()
	}
	select {
	case l.queue <- e:
	default:
		l.mu.Lock()
		l.overflow++
		n := l.overflow
		l.mu.Unlock()
		l.logger.Warn("ledger queue full, dropping entry", zap.Int64("total_dropped", n))
	}
}

func (l *Ledger) drain() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			if err := l.db.Create(&e).Error; err != nil {
				l.logger.Warn("ledger write failed", zap.Error(err))
			}
		case <-l.done:
			// Flush whatever remains without blocking forever.
			for {
				select {
				case e := <-l.queue:
					_ = l.db.Create(&e).Error
				default:
					return
				}
			}
		}
	}
}

// Close stops the background writer after flushing the queue.
func (l *Ledger) Close() error {
	close(l.done)
	l.wg.Wait()
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OverflowCount returns how many entries were dropped due to a full
// queue since the ledger was opened.
func (l *Ledger) OverflowCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overflow
}

// QueueDepth returns the number of entries currently buffered and not
// yet written, for sampling into an operational gauge.
func (l *Ledger) QueueDepth() int {
	return len(l.queue)
}

// Recent returns the most recently served entries, most recent first,
// bounded by limit.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.WithContext(ctx).Order("served_at desc").Limit(limit).Find(&entries).Error
	return entries, err
}

// TotalCost sums the cost of every entry recorded since since.
func (l *Ledger) TotalCost(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := l.db.WithContext(ctx).Model(&Entry{}).
		Where("served_at >= ?", since).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&total).Error
	return total, err
}
