package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

const validYAML = `
source:
  type: victorialogs
  url: http://victorialogs:9428
  backfill: 4h
mqtt:
  host: mqtt.lan
  topic_prefix: openwrt-presence
nodes:
  ap-garden: {room: garden, type: exit, timeout: 120}
  ap-office: {room: office, type: interior}
  ap-bedroom: {room: bedroom}
people:
  alice:
    macs: ["aa:bb:cc:dd:ee:01", "AA-BB-CC-DD-EE-02"]
  bob:
    macs: ["aa:bb:cc:dd:ee:03"]
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.Backfill != 4*time.Hour {
		t.Errorf("Source.Backfill = %s, want 4h", cfg.Source.Backfill)
	}
	if cfg.AwayTimeout != 64800 {
		t.Errorf("AwayTimeout = %d, want default 64800", cfg.AwayTimeout)
	}
	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %s, want default 30s", cfg.TickInterval)
	}
	if got := cfg.MQTT.Broker(); got != "tcp://mqtt.lan:1883" {
		t.Errorf("MQTT.Broker() = %q", got)
	}
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("MQTT.DiscoveryPrefix = %q", cfg.MQTT.DiscoveryPrefix)
	}
	if n := cfg.Nodes["ap-garden"]; n.Type != NodeExit || n.Timeout != 120 {
		t.Errorf("ap-garden = %+v", n)
	}
}

func TestLoad_JSONC(t *testing.T) {
	content := `{
  // Snapshot mode against Prometheus.
  "source": {"type": "prometheus", "url": "http://prom:9090", "poll_interval": "15s"},
  "mqtt": {"host": "localhost"},
  "nodes": {"ap-office": {"room": "office"}},
  "away_timeout": 3600,
  "people": {"alice": {"macs": ["aa:bb:cc:dd:ee:01"]}}, /* trailing comma */
}`
	cfg, err := Load(writeConfig(t, "config.jsonc", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Source.Snapshot() || cfg.Source.PollInterval != 15*time.Second {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Away() != time.Hour {
		t.Errorf("Away() = %s", cfg.Away())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRESENCE_MQTT_HOST", "broker.example")
	t.Setenv("PRESENCE_MQTT_PASSWORD", "hunter2")
	t.Setenv("PRESENCE_SOURCE_URL", "http://other:9428")
	t.Setenv("PRESENCE_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Host != "broker.example" || cfg.MQTT.Password != "hunter2" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.Source.URL != "http://other:9428" {
		t.Errorf("Source.URL = %q", cfg.Source.URL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{
			name: "duplicate mac",
			modify: func(c *Config) {
				c.People["bob"] = PersonConfig{MACs: []string{"AA:BB:CC:DD:EE:01"}}
			},
			want: "duplicate",
		},
		{
			name: "exit without timeout",
			modify: func(c *Config) {
				c.Nodes["ap-gate"] = NodeConfig{Room: "gate", Type: NodeExit}
			},
			want: "timeout",
		},
		{
			name:   "unknown source",
			modify: func(c *Config) { c.Source.Type = "nosql_blockchain" },
			want:   "source",
		},
		{
			name:   "missing url",
			modify: func(c *Config) { c.Source.URL = "" },
			want:   "source.url",
		},
		{
			name:   "no people",
			modify: func(c *Config) { c.People = nil },
			want:   "person",
		},
		{
			name:   "no nodes",
			modify: func(c *Config) { c.Nodes = nil },
			want:   "node",
		},
		{
			name: "bad mac",
			modify: func(c *Config) {
				c.People["carol"] = PersonConfig{MACs: []string{"nope"}}
			},
			want: "carol",
		},
		{
			name: "person without macs",
			modify: func(c *Config) {
				c.People["carol"] = PersonConfig{}
			},
			want: "at least one MAC",
		},
		{
			name:   "unknown node type",
			modify: func(c *Config) { c.Nodes["ap-office"] = NodeConfig{Type: "hallway"} },
			want:   "unknown type",
		},
		{
			name:   "away timeout",
			modify: func(c *Config) { c.AwayTimeout = 0 },
			want:   "away_timeout",
		},
		{
			name: "exporter for unknown node",
			modify: func(c *Config) {
				c.Source = SourceConfig{
					Type:         SourceExporters,
					Exporters:    map[string]string{"ap-attic": "http://10.0.0.9:9100/metrics"},
					PollInterval: time.Second,
				}
			},
			want: "ap-attic",
		},
		{
			name: "hostapd without node",
			modify: func(c *Config) {
				c.Source = SourceConfig{Type: SourceHostapd, Sockets: []string{"/var/run/hostapd/phy0-ap0"}}
			},
			want: "source.node",
		},
		{
			name:   "influxdb incomplete",
			modify: func(c *Config) { c.InfluxDB.Enabled = true },
			want:   "influxdb",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validYAML))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tc.modify(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestRoster(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	r, err := cfg.Roster()
	if err != nil {
		t.Fatal(err)
	}

	if p, ok := r.Owner(presence.MustParseMAC("aa:bb:cc:dd:ee:02")); !ok || p != "alice" {
		t.Errorf("Owner(ee:02) = %q, %v", p, ok)
	}
	if _, ok := r.Owner(presence.MustParseMAC("ff:ff:ff:ff:ff:ff")); ok {
		t.Error("unexpected owner for unknown MAC")
	}

	garden := r.Node("ap-garden")
	if garden.Kind != presence.Exit || garden.Timeout != 2*time.Minute || garden.Room != "garden" {
		t.Errorf("ap-garden = %+v", garden)
	}
	if office := r.Node("ap-office"); office.Kind != presence.Interior || office.Timeout != 0 {
		t.Errorf("ap-office = %+v", office)
	}
	if unknown := r.Node("ap-attic"); unknown != (presence.Node{}) {
		t.Errorf("unknown node = %+v", unknown)
	}

	if got := r.People(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("People() = %v", got)
	}
	if r.AwayTimeout() != 18*time.Hour {
		t.Errorf("AwayTimeout() = %s", r.AwayTimeout())
	}
}
