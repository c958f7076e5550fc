// Package audit records pipeline events (forwarded frames, executed
// actions, session clears) to a SQLite database for post-session analysis
// of what an agent saw and did.
//
// All persistence is async and non-blocking: buffer overflow drops events
// rather than applying backpressure to the frame pipeline.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/viewsync/frame"
	"github.com/hazyhaar/viewsync/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS viewsync_events (
	event_id      TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	frame_id      INTEGER,
	before_id     INTEGER,
	after_id      INTEGER,
	action_kind   TEXT,
	delta_percent REAL,
	latency_ms    INTEGER,
	caused_change INTEGER,
	timed_out     INTEGER,
	keep_alive    INTEGER,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_viewsync_events_created
	ON viewsync_events(created_at);
`

// Entry is one audit record.
type Entry struct {
	EventID      string
	Kind         string // frame_forwarded | action | clear
	FrameID      int64
	BeforeID     int64
	AfterID      int64
	ActionKind   string
	DeltaPercent float64
	LatencyMs    int64
	CausedChange bool
	TimedOut     bool
	KeepAlive    bool
	CreatedAt    int64
}

// Logger writes entries asynchronously. Create with New, call Init once,
// Close on shutdown.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan Entry
	done  chan struct{}
	drops atomic.Int64
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// WithQueueDepth bounds the async queue. Default: 256.
func WithQueueDepth(n int) Option {
	return func(l *Logger) { l.ch = make(chan Entry, n) }
}

// New creates a Logger backed by the given database.
func New(db *sql.DB, opts ...Option) *Logger {
	l := &Logger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		ch:    make(chan Entry, 256),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.writeLoop()
	return l
}

// Init creates the schema.
func (l *Logger) Init() error {
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	return nil
}

// Record queues an entry. Non-blocking: when the queue is full the entry
// is dropped and counted.
func (l *Logger) Record(e Entry) {
	if e.EventID == "" {
		e.EventID = l.newID()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	select {
	case l.ch <- e:
	default:
		l.drops.Add(1)
	}
}

// FrameForwarded records a forwarded frame.
func (l *Logger) FrameForwarded(f *frame.Frame) {
	l.Record(Entry{
		Kind:         "frame_forwarded",
		FrameID:      f.ID,
		DeltaPercent: f.DeltaPercent,
		CausedChange: f.Changed,
		KeepAlive:    f.KeepAlive,
	})
}

// ActionExecuted records a resolved action outcome.
func (l *Logger) ActionExecuted(a frame.Action, out frame.ActionOutcome) {
	e := Entry{
		Kind:         "action",
		ActionKind:   string(a.Kind),
		LatencyMs:    out.Latency.Milliseconds(),
		CausedChange: out.CausedChange,
		TimedOut:     out.TimedOut,
	}
	if out.Before != nil {
		e.BeforeID = out.Before.ID
	}
	if out.After != nil {
		e.AfterID = out.After.ID
	}
	l.Record(e)
}

// Drops returns the number of entries lost to queue overflow.
func (l *Logger) Drops() int64 { return l.drops.Load() }

// Close stops the writer after draining queued entries.
func (l *Logger) Close() {
	close(l.ch)
	<-l.done
}

func (l *Logger) writeLoop() {
	defer close(l.done)
	for e := range l.ch {
		_, err := l.db.Exec(`
			INSERT INTO viewsync_events (
				event_id, kind, frame_id, before_id, after_id, action_kind,
				delta_percent, latency_ms, caused_change, timed_out, keep_alive,
				created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			e.EventID, e.Kind, e.FrameID, e.BeforeID, e.AfterID, e.ActionKind,
			e.DeltaPercent, e.LatencyMs, e.CausedChange, e.TimedOut, e.KeepAlive,
			e.CreatedAt)
		if err != nil {
			slog.Warn("audit: write event failed", "error", err, "kind", e.Kind)
		}
	}
}

// Cleanup deletes entries older than the retention threshold.
func Cleanup(ctx context.Context, db *sql.DB, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	if _, err := db.ExecContext(ctx,
		"DELETE FROM viewsync_events WHERE created_at < ?", cutoff); err != nil {
		return fmt.Errorf("audit: cleanup: %w", err)
	}
	return nil
}
