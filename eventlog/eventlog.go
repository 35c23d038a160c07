// Package eventlog is the append-only sink for motion, lifecycle and error events
package eventlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vtpl1/camrelay/models"
	"github.com/vtpl1/camrelay/store"
)

const defaultBufferSize = 1000

// Log decouples event producers from the store with a bounded buffer. A full
// buffer drops the oldest unflushed entry instead of stalling the producer,
// mirroring the non-blocking writer the process logger uses.
type Log struct {
	store   store.Store
	buf     chan models.EventLogEntry
	dropped atomic.Int64
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates the log and starts its single writer goroutine
func New(s store.Store, bufferSize int) *Log {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	l := &Log{
		store: s,
		buf:   make(chan models.EventLogEntry, bufferSize),
		stop:  make(chan struct{}),
		now:   time.Now,
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Append queues an entry for persistence. It never blocks: when the buffer is
// full the oldest buffered entry is discarded to make room.
func (l *Log) Append(cameraID string, kind models.EventKind, detail string) {
	l.AppendAt(l.now(), cameraID, kind, detail)
}

// AppendAt queues an entry with an explicit timestamp (agent-reported events
// carry the time the condition occurred, not the time it was flushed)
func (l *Log) AppendAt(ts time.Time, cameraID string, kind models.EventKind, detail string) {
	entry := models.EventLogEntry{
		ID:        uuid.NewString(),
		Timestamp: ts,
		CameraID:  cameraID,
		Kind:      kind,
		Detail:    detail,
	}
	for {
		select {
		case l.buf <- entry:
			return
		default:
		}
		select {
		case <-l.buf:
			l.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns how many entries were discarded due to buffer overflow
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// Query returns entries matching the filter, newest first
func (l *Log) Query(ctx context.Context, filter store.EventFilter) ([]models.EventLogEntry, error) {
	return l.store.Events(ctx, filter)
}

// Prune removes entries older than the cutoff, mirroring the video window
func (l *Log) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	return l.store.PruneEvents(ctx, olderThan)
}

// Close flushes buffered entries and stops the writer. Safe to call more than
// once.
func (l *Log) Close() {
	l.once.Do(func() {
		close(l.stop)
	})
	l.wg.Wait()
}

func (l *Log) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.buf:
			l.persist(entry)
		case <-l.stop:
			for {
				select {
				case entry := <-l.buf:
					l.persist(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) persist(entry models.EventLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.store.AppendEvent(ctx, &entry); err != nil {
		log.Error().Err(err).Str("kind", string(entry.Kind)).Msg("Failed to persist event log entry")
	}
}
