// Package history records presence changes in InfluxDB, one point per
// change, for dashboards and long term analysis.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/awilliams/openwrt-presence/internal/config"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

// Measurement is the InfluxDB measurement of every point.
const Measurement = "presence"

const pingTimeout = 5 * time.Second

var (
	// ErrDisabled is returned by Connect when history is not enabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
	// ErrConnectionFailed wraps failures of the initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Sink writes state changes to InfluxDB. Writes are synchronous: changes
// are rare and a failed write is reported to the caller.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// Connect creates the client and checks the server responds.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Sink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Close releases the client.
func (s *Sink) Close() {
	s.client.Close()
}

// Publish writes c as a point at its timestamp.
func (s *Sink) Publish(ctx context.Context, c presence.StateChange) error {
	if err := s.writeAPI.WritePoint(ctx, Point(c)); err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	return nil
}

// Point converts c to a point tagged by person and node.
func Point(c presence.StateChange) *write.Point {
	fields := map[string]interface{}{
		"home": c.Home,
		"room": c.Room,
		"mac":  c.MAC.String(),
	}
	if c.Signal != nil {
		fields["rssi"] = *c.Signal
	}
	return write.NewPoint(
		Measurement,
		map[string]string{
			"person": c.Person,
			"node":   c.Node,
		},
		fields,
		c.Timestamp,
	)
}
