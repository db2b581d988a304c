package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awilliams/openwrt-presence/internal/hostapd"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

// Hostapd reads station events straight from the hostapd control
// interfaces of the AP the daemon runs on. Every socket belongs to the
// same node.
type Hostapd struct {
	node    string
	clients []*hostapd.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewHostapd connects to every control socket in sockets. Entries that
// are directories are searched for sockets. Local sockets are created in
// localDir, or the temporary directory if empty.
func NewHostapd(node string, sockets []string, localDir string, logger *slog.Logger) (*Hostapd, error) {
	paths, err := hostapd.FindSockets(sockets...)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no hostapd control sockets found")
	}

	h := &Hostapd{node: node, logger: logger, now: time.Now}
	for _, p := range paths {
		c, err := hostapd.NewClient(localDir, p)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("unable to connect to hostapd control socket %q: %w", p, err)
		}
		h.clients = append(h.clients, c)

		st, err := c.Status()
		if err != nil {
			logger.Warn("Connected to hostapd interface; status unavailable", "socket", p, "error", err)
			continue
		}
		logger.Info("Connected to hostapd interface",
			"socket", p,
			"ssid", st.SSID,
			"bssid", st.BSSID,
			"channel", st.Channel,
			"state", st.State,
		)
	}
	return h, nil
}

// Close closes every control connection.
func (h *Hostapd) Close() error {
	var errs []error
	for _, c := range h.clients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Backfill returns a connect event for every station currently associated
// with any interface. hostapd keeps no history, so since is unused; each
// event is dated from the station's connected time.
func (h *Hostapd) Backfill(ctx context.Context, since time.Time) ([]presence.Event, error) {
	now := h.now()

	var events []presence.Event
	for _, c := range h.clients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stations, err := c.Stations()
		if err != nil {
			return nil, fmt.Errorf("%s: listing stations: %w", c.Interface(), err)
		}
		for _, s := range stations {
			if !s.Associated {
				continue
			}
			events = append(events, presence.Event{
				Kind:      presence.Connect,
				MAC:       s.MAC,
				Node:      h.node,
				Timestamp: now.Add(-s.Connected),
			})
		}
	}
	return events, nil
}

// Events attaches to every interface and passes station events to emit.
// It returns when ctx is done, emit fails, or any hostapd instance
// terminates (hostapd.ErrTerminating): the sockets are gone after a
// restart, so the caller must reconnect.
func (h *Hostapd) Events(ctx context.Context, emit func(presence.Event) error) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, c := range h.clients {
		c := c
		eg.Go(func() error {
			err := c.Attach(egCtx, func(ev hostapd.Event) error {
				h.logger.Debug("hostapd event", "iface", c.Interface(), "msg", ev.Raw())
				pev, ok := hostapd.StationEvent(ev, h.node, h.now())
				if !ok {
					return nil
				}
				return emit(pev)
			})
			if err != nil {
				return fmt.Errorf("%s: %w", c.Interface(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}
