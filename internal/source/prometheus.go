package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

// SignalMetric is the station signal gauge exported by
// prometheus-node-exporter-lua's wifi_stations collector.
const SignalMetric = "wifi_station_signal_dbm"

// Prometheus queries a Prometheus compatible TSDB (Prometheus,
// VictoriaMetrics) for the current signal of the tracked devices. The
// node of each reading is the instance label.
type Prometheus struct {
	url    string
	query  string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewPrometheus returns a snapshot source for the TSDB at baseURL.
func NewPrometheus(baseURL string, tracked []presence.MAC, logger *slog.Logger) *Prometheus {
	return &Prometheus{
		url:    strings.TrimRight(baseURL, "/"),
		query:  signalQuery(tracked),
		client: &http.Client{Timeout: DefaultHTTPTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// signalQuery builds the instant query for tracked. Exporters differ in
// MAC case, so the match is case insensitive.
func signalQuery(tracked []presence.MAC) string {
	macs := make([]string, len(tracked))
	for i, m := range tracked {
		macs[i] = m.String()
	}
	sort.Strings(macs)
	return fmt.Sprintf(`%s{mac=~"(?i)%s"}`, SignalMetric, strings.Join(macs, "|"))
}

// Snapshot returns the current readings. An error means no snapshot is
// available and the cycle should be skipped; an empty slice means nobody
// is connected.
func (p *Prometheus) Snapshot(ctx context.Context) ([]presence.Reading, error) {
	q := url.Values{}
	q.Set("query", p.query)

	body, err := fetch(ctx, p.client, p.url+"/api/v1/query?"+q.Encode(), false)
	if err != nil {
		return nil, fmt.Errorf("prometheus query: %w", err)
	}
	defer body.Close()

	var resp queryResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("prometheus query: decoding response: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("prometheus query: status %q: %s", resp.Status, resp.Error)
	}

	readings := make([]presence.Reading, 0, len(resp.Data.Result))
	for _, r := range resp.Data.Result {
		reading, err := r.reading(p.now())
		if err != nil {
			p.logger.Debug("Skipping malformed sample", "metric", r.Metric, "error", err)
			continue
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// queryResponse is the instant query envelope of the Prometheus HTTP API.
type queryResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string   `json:"resultType"`
		Result     []sample `json:"result"`
	} `json:"data"`
}

type sample struct {
	Metric map[string]string `json:"metric"`
	Value  []any             `json:"value"` // [unix seconds, "value"]
}

func (s sample) reading(now time.Time) (presence.Reading, error) {
	mac, err := presence.ParseMAC(s.Metric["mac"])
	if err != nil {
		return presence.Reading{}, err
	}
	node := s.Metric["instance"]
	if node == "" {
		return presence.Reading{}, fmt.Errorf("missing instance label")
	}
	if len(s.Value) != 2 {
		return presence.Reading{}, fmt.Errorf("value has %d elements", len(s.Value))
	}
	v, ok := s.Value[1].(string)
	if !ok {
		return presence.Reading{}, fmt.Errorf("value %v is not a string", s.Value[1])
	}
	signal, err := parseSignal(v)
	if err != nil {
		return presence.Reading{}, err
	}

	observed := now
	if ts, ok := s.Value[0].(float64); ok && ts > 0 {
		sec, frac := math.Modf(ts)
		observed = time.Unix(int64(sec), int64(frac*1e9))
	}

	return presence.Reading{MAC: mac, Node: node, Signal: signal, ObservedAt: observed}, nil
}

// parseSignal parses a dBm sample value, truncating fractions.
func parseSignal(v string) (int, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("signal %q is not finite", v)
	}
	return int(f), nil
}
