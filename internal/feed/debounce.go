package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront-cart/internal/model"
)

// DefaultDelay is the quiet window before a scheduled write runs.
const DefaultDelay = 300 * time.Millisecond

// writeTimeout bounds a timer-triggered write.
const writeTimeout = 10 * time.Second

// SaveFunc persists one snapshot.
type SaveFunc func(ctx context.Context, snap *model.CartSnapshot) error

// Debouncer coalesces bursts of snapshots into at most one write per quiet
// window, always writing the newest value. Writes never run concurrently
// and a write is skipped if a newer one already landed.
type Debouncer struct {
	save   SaveFunc
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending *model.CartSnapshot
	seq     uint64 // seq of pending
	timer   *time.Timer
	closed  bool

	writeMu sync.Mutex
	written uint64 // highest seq written or discarded
}

// NewDebouncer creates a debouncer. delay <= 0 uses DefaultDelay.
func NewDebouncer(delay time.Duration, save SaveFunc, logger *slog.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{save: save, delay: delay, logger: logger}
}

// Schedule records snap as the value to persist and restarts the quiet window.
func (d *Debouncer) Schedule(snap *model.CartSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.seq++
	d.pending = snap.Clone()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Pending reports whether a write is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Flush writes the pending snapshot now, if any.
func (d *Debouncer) Flush(ctx context.Context) error {
	snap, seq := d.take()
	if snap == nil {
		return nil
	}
	return d.write(ctx, snap, seq)
}

// Discard drops the pending snapshot and waits for an in-flight write to
// finish, so nothing scheduled before the call lands after it returns.
func (d *Debouncer) Discard() {
	d.mu.Lock()
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	seq := d.seq
	d.mu.Unlock()

	d.writeMu.Lock()
	if d.written < seq {
		d.written = seq
	}
	d.writeMu.Unlock()
}

// Close flushes and stops accepting new snapshots.
func (d *Debouncer) Close(ctx context.Context) error {
	err := d.Flush(ctx)

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	// Wait out a timer write that raced the flush
	d.writeMu.Lock()
	d.writeMu.Unlock()
	return err
}

func (d *Debouncer) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.Flush(ctx); err != nil {
		d.logger.Warn("debounced cart write failed", slog.String("error", err.Error()))
	}
}

func (d *Debouncer) take() (*model.CartSnapshot, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return snap, d.seq
}

func (d *Debouncer) write(ctx context.Context, snap *model.CartSnapshot, seq uint64) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if seq <= d.written {
		return nil
	}
	d.written = seq
	return d.save(ctx, snap)
}
