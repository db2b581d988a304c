package main

import (
	"fmt"
	"log/slog"

	"github.com/awilliams/openwrt-presence/internal/config"
	"github.com/awilliams/openwrt-presence/internal/daemon"
	"github.com/awilliams/openwrt-presence/internal/journal"
	"github.com/awilliams/openwrt-presence/internal/presence"
	"github.com/awilliams/openwrt-presence/internal/source"
)

// ingest is the configured ingestion source, as daemon options.
type ingest struct {
	opts  []daemon.Opt
	close func() error
}

// newSource builds the source selected by cfg.Source.Type. Event sources
// that cannot backfill themselves are backfilled from j, when set.
func newSource(cfg *config.Config, roster *presence.Roster, j *journal.Journal, logger *slog.Logger) (*ingest, error) {
	sc := cfg.Source
	logger = logger.With("source", sc.Type)
	in := &ingest{close: func() error { return nil }}

	var backfiller daemon.Backfiller
	window := sc.Backfill

	switch sc.Type {
	case config.SourceVictoriaLogs:
		v := source.NewVictoriaLogs(sc.URL, logger)
		in.opts = append(in.opts, daemon.WithEventSource(v))
		if window > 0 {
			backfiller = v
		}

	case config.SourceSyslog:
		s, err := source.NewSyslog(sc.Listen, logger)
		if err != nil {
			return nil, fmt.Errorf("syslog listener: %w", err)
		}
		logger.Info("Listening for syslog", "addr", s.LocalAddr().String())
		in.close = s.Close
		in.opts = append(in.opts, daemon.WithEventSource(s))

	case config.SourcePrometheus:
		p := source.NewPrometheus(sc.URL, roster.Tracked(), logger)
		in.opts = append(in.opts,
			daemon.WithSnapshotSource(p),
			daemon.WithPollInterval(sc.PollInterval),
		)

	case config.SourceExporters:
		e := source.NewExporters(sc.Exporters, roster.Tracked(), logger)
		in.opts = append(in.opts,
			daemon.WithSnapshotSource(e),
			daemon.WithPollInterval(sc.PollInterval),
		)

	case config.SourceHostapd:
		h, err := source.NewHostapd(sc.Node, sc.Sockets, "", logger)
		if err != nil {
			return nil, err
		}
		in.close = h.Close
		in.opts = append(in.opts, daemon.WithEventSource(h))
		// The station list is always current; the window only bounds
		// how far back connect times may reach.
		backfiller = h
		if window <= 0 {
			window = cfg.Away()
		}

	default:
		return nil, fmt.Errorf("unknown source type %q", sc.Type)
	}

	if backfiller == nil && j != nil && !sc.Snapshot() {
		backfiller = j
		window = cfg.Journal.Retention
		logger.Info("Backfilling from journal", "path", cfg.Journal.Path)
	}
	if backfiller != nil && window > 0 {
		in.opts = append(in.opts, daemon.WithBackfill(backfiller, window))
	}
	return in, nil
}
