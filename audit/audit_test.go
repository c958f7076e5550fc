package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/viewsync/dbopen"
	"github.com/hazyhaar/viewsync/frame"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	db := dbopen.OpenMemory(t)
	l := New(db)
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return l
}

func count(t *testing.T, l *Logger, kind string) int {
	t.Helper()
	var n int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM viewsync_events WHERE kind = ?", kind).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", kind, err)
	}
	return n
}

func TestFrameForwarded(t *testing.T) {
	l := newTestLogger(t)

	l.FrameForwarded(&frame.Frame{ID: 7, DeltaPercent: 42, Changed: true})
	l.Close()

	if got := count(t, l, "frame_forwarded"); got != 1 {
		t.Fatalf("frame_forwarded rows = %d, want 1", got)
	}

	var frameID int64
	var delta float64
	var eventID string
	err := l.db.QueryRow(
		"SELECT event_id, frame_id, delta_percent FROM viewsync_events").
		Scan(&eventID, &frameID, &delta)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if frameID != 7 || delta != 42 {
		t.Errorf("row = frame %d delta %v, want 7/42", frameID, delta)
	}
	if !strings.HasPrefix(eventID, "evt_") {
		t.Errorf("event ID %q missing evt_ prefix", eventID)
	}
}

func TestActionExecuted(t *testing.T) {
	l := newTestLogger(t)

	l.ActionExecuted(
		frame.Action{Kind: frame.Click},
		frame.ActionOutcome{
			Before:       &frame.Frame{ID: 3},
			After:        &frame.Frame{ID: 5},
			CausedChange: true,
			Latency:      120 * time.Millisecond,
		})
	l.Close()

	var beforeID, afterID, latency int64
	var kind string
	err := l.db.QueryRow(
		"SELECT action_kind, before_id, after_id, latency_ms FROM viewsync_events WHERE kind = 'action'").
		Scan(&kind, &beforeID, &afterID, &latency)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if kind != "click" || beforeID != 3 || afterID != 5 || latency != 120 {
		t.Errorf("row = %s %d/%d %dms, want click 3/5 120ms", kind, beforeID, afterID, latency)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	l := newTestLogger(t)

	for i := 0; i < 50; i++ {
		l.Record(Entry{Kind: "frame_forwarded", FrameID: int64(i)})
	}
	l.Close()

	if got := count(t, l, "frame_forwarded"); got != 50 {
		t.Errorf("rows after Close = %d, want 50", got)
	}
}

func TestRecordOverflowDrops(t *testing.T) {
	db := dbopen.OpenMemory(t)
	l := New(db, WithQueueDepth(1))
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Stall the writer by holding the single connection in a transaction.
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 0; i < 20; i++ {
		l.Record(Entry{Kind: "frame_forwarded", FrameID: int64(i)})
	}
	tx.Rollback()
	l.Close()

	if l.Drops() == 0 {
		t.Error("no drops counted despite overflowing a depth-1 queue")
	}
}

func TestCleanup(t *testing.T) {
	l := newTestLogger(t)

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	l.Record(Entry{Kind: "frame_forwarded", FrameID: 1, CreatedAt: old})
	l.Record(Entry{Kind: "frame_forwarded", FrameID: 2})
	l.Close()

	if err := Cleanup(context.Background(), l.db, 24*time.Hour); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if got := count(t, l, "frame_forwarded"); got != 1 {
		t.Errorf("rows after cleanup = %d, want 1", got)
	}
}
