package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

// signalLine matches one wifi_station_signal_dbm sample in the Prometheus
// text exposition format.
var signalLine = regexp.MustCompile(`(?m)^wifi_station_signal_dbm\{[^}]*mac="([^"]+)"[^}]*\}\s+(-?\d+(?:\.\d+)?)\s*$`)

// maxScrape bounds a single /metrics body.
const maxScrape = 4 << 20

// Exporters scrapes prometheus-node-exporter-lua on every AP directly.
type Exporters struct {
	nodes   map[string]string // Node name to /metrics URL.
	tracked map[presence.MAC]bool
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewExporters returns a snapshot source scraping the given node URLs.
// Only readings for tracked devices are returned.
func NewExporters(nodes map[string]string, tracked []presence.MAC, logger *slog.Logger) *Exporters {
	e := &Exporters{
		nodes:   make(map[string]string, len(nodes)),
		tracked: make(map[presence.MAC]bool, len(tracked)),
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
		now:     time.Now,
	}
	for n, u := range nodes {
		e.nodes[n] = u
	}
	for _, m := range tracked {
		e.tracked[m] = true
	}
	return e
}

// Snapshot scrapes every AP in parallel. APs that fail are logged and
// skipped; an error is only returned when every AP failed, since the
// readings would otherwise claim that nobody is connected.
func (e *Exporters) Snapshot(ctx context.Context) ([]presence.Reading, error) {
	names := make([]string, 0, len(e.nodes))
	for n := range e.nodes {
		names = append(names, n)
	}
	sort.Strings(names)

	var (
		mu       sync.Mutex
		readings = make([][]presence.Reading, len(names))
		failed   int
		lastErr  error
	)

	eg, egCtx := errgroup.WithContext(ctx)
	for i, node := range names {
		i, node := i, node
		eg.Go(func() error {
			r, err := e.scrape(egCtx, node, e.nodes[node])
			if err != nil {
				e.logger.Warn("Failed to scrape exporter", "node", node, "error", err)
				mu.Lock()
				failed++
				lastErr = err
				mu.Unlock()
				return nil
			}
			readings[i] = r
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(names) > 0 && failed == len(names) {
		return nil, fmt.Errorf("all %d exporters failed, last error: %w", failed, lastErr)
	}

	var out []presence.Reading
	for _, r := range readings {
		out = append(out, r...)
	}
	return out, nil
}

func (e *Exporters) scrape(ctx context.Context, node, u string) ([]presence.Reading, error) {
	body, err := fetch(ctx, e.client, u, true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	b, err := io.ReadAll(io.LimitReader(body, maxScrape))
	if err != nil {
		return nil, err
	}

	now := e.now()
	var readings []presence.Reading
	for _, r := range ParseSignalMetrics(string(b), node, now) {
		if e.tracked[r.MAC] {
			readings = append(readings, r)
		}
	}
	return readings, nil
}

// ParseSignalMetrics extracts station signal readings for node from a
// Prometheus text exposition body. Samples with an invalid MAC are
// skipped.
func ParseSignalMetrics(text, node string, observed time.Time) []presence.Reading {
	var readings []presence.Reading
	for _, m := range signalLine.FindAllStringSubmatch(text, -1) {
		mac, err := presence.ParseMAC(m[1])
		if err != nil {
			continue
		}
		signal, err := parseSignal(m[2])
		if err != nil {
			continue
		}
		readings = append(readings, presence.Reading{MAC: mac, Node: node, Signal: signal, ObservedAt: observed})
	}
	return readings
}
