// Package daemon runs the presence engine: it feeds it events, snapshots
// and ticks from the configured sources and hands every state change to
// the logger and the sinks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awilliams/openwrt-presence/internal/logging"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

// Defaults for the loop intervals.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultTickInterval = 30 * time.Second
)

const (
	sinkTimeout   = 5 * time.Second
	pruneInterval = time.Hour
)

var (
	// ErrFatal marks a sink error that must stop the daemon.
	ErrFatal = errors.New("fatal sink error")
	// ErrNoEngine is returned by New without WithEngine.
	ErrNoEngine = errors.New("daemon: no engine")
	// ErrNoSource is returned by New without an event or snapshot source.
	ErrNoSource = errors.New("daemon: no event or snapshot source")
)

// EventSource delivers live station events. Events blocks until ctx is
// done or the source fails. emit may be called from several goroutines.
type EventSource interface {
	Events(ctx context.Context, emit func(presence.Event) error) error
}

// Backfiller returns the events since a point in time, oldest first.
type Backfiller interface {
	Backfill(ctx context.Context, since time.Time) ([]presence.Event, error)
}

// SnapshotSource returns every reading visible right now. An error means
// no snapshot is available; an empty slice means nobody is connected.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]presence.Reading, error)
}

// Sink receives state changes.
type Sink interface {
	Publish(ctx context.Context, c presence.StateChange) error
}

// Journal records live events so a later run can backfill from them.
type Journal interface {
	Record(ctx context.Context, ev presence.Event) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c presence.StateChange) error

func (f SinkFunc) Publish(ctx context.Context, c presence.StateChange) error {
	return f(ctx, c)
}

// Fatal wraps s so that every error it returns stops the daemon.
func Fatal(s Sink) Sink {
	return SinkFunc(func(ctx context.Context, c presence.StateChange) error {
		if err := s.Publish(ctx, c); err != nil {
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		return nil
	})
}

// Opt configures a Daemon.
type Opt func(*Daemon)

// WithEngine sets the engine. Required.
func WithEngine(e *presence.Engine) Opt {
	return func(d *Daemon) { d.engine = e }
}

// WithEventSource sets the live event source.
func WithEventSource(s EventSource) Opt {
	return func(d *Daemon) { d.events = s }
}

// WithSnapshotSource sets the snapshot source, polled every poll interval.
func WithSnapshotSource(s SnapshotSource) Opt {
	return func(d *Daemon) { d.snapshots = s }
}

// WithPollInterval sets how often the snapshot source is polled.
func WithPollInterval(i time.Duration) Opt {
	return func(d *Daemon) { d.poll = i }
}

// WithTickInterval sets how often timeouts are evaluated.
func WithTickInterval(i time.Duration) Opt {
	return func(d *Daemon) { d.tick = i }
}

// WithSink adds a sink. Sinks are called in the order they were added.
func WithSink(s Sink) Opt {
	return func(d *Daemon) { d.sinks = append(d.sinks, s) }
}

// WithJournal records every live event in j and prunes entries older than
// retention.
func WithJournal(j Journal, retention time.Duration) Opt {
	return func(d *Daemon) {
		d.journal = j
		d.retention = retention
	}
}

// WithBackfill replays the events of the last window from b before going
// live.
func WithBackfill(b Backfiller, window time.Duration) Opt {
	return func(d *Daemon) {
		d.backfill = b
		d.window = window
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Opt {
	return func(d *Daemon) { d.logger = l }
}

// WithClock sets the clock used to timestamp snapshots and ticks.
func WithClock(now func() time.Time) Opt {
	return func(d *Daemon) { d.now = now }
}

// Daemon owns a presence.Engine. Only the loop goroutine started by Run
// touches the engine.
type Daemon struct {
	engine    *presence.Engine
	events    EventSource
	snapshots SnapshotSource
	backfill  Backfiller
	window    time.Duration
	journal   Journal
	retention time.Duration
	sinks     []Sink
	poll      time.Duration
	tick      time.Duration
	logger    *slog.Logger
	now       func() time.Time

	lastPrune time.Time
}

// New returns a Daemon configured by opts.
func New(opts ...Opt) (*Daemon, error) {
	d := &Daemon{
		poll:   DefaultPollInterval,
		tick:   DefaultTickInterval,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}

	if d.engine == nil {
		return nil, ErrNoEngine
	}
	if d.events == nil && d.snapshots == nil {
		return nil, ErrNoSource
	}
	if d.poll <= 0 || d.tick <= 0 {
		return nil, errors.New("daemon: intervals must be positive")
	}
	return d, nil
}

type snapshot struct {
	at       time.Time
	readings []presence.Reading
}

// Run backfills, takes an initial snapshot, then processes input until
// ctx is done or a source or fatal sink fails. It returns nil on
// cancellation.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.runBackfill(ctx); err != nil {
		return err
	}
	if d.snapshots != nil {
		if err := d.pollOnce(ctx); err != nil {
			return err
		}
	}
	d.logger.Info("Initial state established", "home", d.engine.Home())

	eg, egCtx := errgroup.WithContext(ctx)
	events := make(chan presence.Event)
	snapshots := make(chan snapshot)

	if d.events != nil {
		eg.Go(func() error {
			err := d.events.Events(egCtx, func(ev presence.Event) error {
				select {
				case events <- ev:
					return nil
				case <-egCtx.Done():
					return egCtx.Err()
				}
			})
			if egCtx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("event source stopped")
			}
			return err
		})
	}

	if d.snapshots != nil {
		eg.Go(func() error {
			t := time.NewTicker(d.poll)
			defer t.Stop()
			for {
				select {
				case <-egCtx.Done():
					return nil
				case <-t.C:
				}
				readings, err := d.snapshots.Snapshot(egCtx)
				if err != nil {
					if egCtx.Err() != nil {
						return nil
					}
					d.logger.Warn("Snapshot failed; skipping cycle", "error", err)
					continue
				}
				select {
				case snapshots <- snapshot{at: d.now(), readings: readings}:
				case <-egCtx.Done():
					return nil
				}
			}
		})
	}

	eg.Go(func() error {
		t := time.NewTicker(d.tick)
		defer t.Stop()
		for {
			var changes []presence.StateChange
			select {
			case <-egCtx.Done():
				return nil
			case ev := <-events:
				d.record(egCtx, ev)
				changes = d.engine.ProcessEvent(ev)
			case s := <-snapshots:
				changes = d.engine.ProcessSnapshot(s.at, s.readings)
			case <-t.C:
				now := d.now()
				changes = d.engine.Tick(now)
				d.prune(egCtx, now)
			}
			if err := d.handle(egCtx, changes); err != nil {
				return err
			}
		}
	})

	return eg.Wait()
}

// runBackfill replays recent history. Only the final state of each person
// is handed on. A failed backfill is logged and the run continues from the
// initial state.
func (d *Daemon) runBackfill(ctx context.Context) error {
	if d.backfill == nil || d.window <= 0 {
		return nil
	}
	now := d.now()
	events, err := d.backfill.Backfill(ctx, now.Add(-d.window))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		d.logger.Warn("Backfill failed; starting from an empty state", "error", err)
		return nil
	}

	last := make(map[string]presence.StateChange)
	collect := func(changes []presence.StateChange) {
		for _, c := range changes {
			last[c.Person] = c
		}
	}
	for _, ev := range events {
		collect(d.engine.ProcessEvent(ev))
	}
	collect(d.engine.Tick(now))

	people := make([]string, 0, len(last))
	for p := range last {
		people = append(people, p)
	}
	sort.Strings(people)
	final := make([]presence.StateChange, 0, len(people))
	for _, p := range people {
		final = append(final, last[p])
	}

	d.logger.Info("Backfill complete", "events", len(events), "window", d.window)
	return d.handle(ctx, final)
}

func (d *Daemon) pollOnce(ctx context.Context) error {
	readings, err := d.snapshots.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		d.logger.Warn("Initial snapshot failed", "error", err)
		return nil
	}
	return d.handle(ctx, d.engine.ProcessSnapshot(d.now(), readings))
}

// handle logs each change and passes it to every sink. Sink errors are
// logged unless they wrap ErrFatal.
func (d *Daemon) handle(ctx context.Context, changes []presence.StateChange) error {
	for _, c := range changes {
		logging.StateChange(ctx, d.logger, c)
		for _, s := range d.sinks {
			sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
			err := s.Publish(sctx, c)
			cancel()
			if err == nil {
				continue
			}
			if errors.Is(err, ErrFatal) {
				return err
			}
			d.logger.Error("Sink failed", "person", c.Person, "error", err)
		}
	}
	return nil
}

func (d *Daemon) record(ctx context.Context, ev presence.Event) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(ctx, ev); err != nil {
		d.logger.Warn("Journal write failed", "error", err)
	}
}

func (d *Daemon) prune(ctx context.Context, now time.Time) {
	if d.journal == nil || d.retention <= 0 || now.Sub(d.lastPrune) < pruneInterval {
		return
	}
	d.lastPrune = now
	n, err := d.journal.Prune(ctx, now.Add(-d.retention))
	if err != nil {
		d.logger.Warn("Journal prune failed", "error", err)
		return
	}
	if n > 0 {
		d.logger.Debug("Journal pruned", "events", n)
	}
}
