package billing

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/obslog"
	"github.com/burncloud/burncloud-router/internal/obsmetrics"
	"github.com/burncloud/burncloud-router/internal/store"
)

// Journal is the asynchronous log writer: request tasks try-send entries
// onto a bounded channel and a single background goroutine drains it into
// the store. A full channel sheds the entry with a counter bump; the
// request path never blocks on journaling.
type Journal struct {
	ch      chan *store.LogEntry
	db      *gorm.DB
	done    chan struct{}
	closing sync.Once
}

// NewJournal starts the writer goroutine.
func NewJournal(db *gorm.DB, capacity int) *Journal {
	if capacity <= 0 {
		capacity = 1000
	}
	j := &Journal{
		ch:   make(chan *store.LogEntry, capacity),
		db:   db,
		done: make(chan struct{}),
	}
	go j.run()
	return j
}

// Push enqueues an entry, dropping it when the channel is full.
func (j *Journal) Push(entry *store.LogEntry) {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	select {
	case j.ch <- entry:
	default:
		obsmetrics.JournalDropped.WithLabelValues().Inc()
		obslog.Logger.Warn("journal channel full, dropping entry",
			zap.String("request_id", entry.RequestId))
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for entry := range j.ch {
		if err := store.InsertLog(j.db, entry); err != nil {
			obslog.Logger.Error("journal write failed", zap.Error(err),
				zap.String("request_id", entry.RequestId))
		}
	}
}

// Close stops accepting entries and waits for the writer to drain. Safe to
// call more than once.
func (j *Journal) Close() {
	j.closing.Do(func() { close(j.ch) })
	<-j.done
}
