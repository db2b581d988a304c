// Package config loads and validates the openwrt-presence configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

// ErrInvalid wraps every validation failure returned by Load and Validate.
var ErrInvalid = errors.New("invalid configuration")

// Source types.
const (
	SourceVictoriaLogs = "victorialogs"
	SourceSyslog       = "syslog"
	SourcePrometheus   = "prometheus"
	SourceExporters    = "exporters"
	SourceHostapd      = "hostapd"
)

// Node types.
const (
	NodeInterior = "interior"
	NodeExit     = "exit"
)

// Config is the complete configuration.
type Config struct {
	Source       SourceConfig            `yaml:"source"`
	MQTT         MQTTConfig              `yaml:"mqtt"`
	Nodes        map[string]NodeConfig   `yaml:"nodes"`
	AwayTimeout  int                     `yaml:"away_timeout"` // Seconds.
	TickInterval time.Duration           `yaml:"tick_interval"`
	People       map[string]PersonConfig `yaml:"people"`
	Logging      LoggingConfig           `yaml:"logging"`
	Journal      JournalConfig           `yaml:"journal"`
	InfluxDB     InfluxDBConfig          `yaml:"influxdb"`
}

// SourceConfig selects and configures the ingestion source. Which fields
// are required depends on Type.
type SourceConfig struct {
	Type         string            `yaml:"type"`
	URL          string            `yaml:"url"`       // victorialogs, prometheus
	Listen       string            `yaml:"listen"`    // syslog
	Backfill     time.Duration     `yaml:"backfill"`  // victorialogs
	Exporters    map[string]string `yaml:"exporters"` // exporters: node name -> metrics URL
	Sockets      []string          `yaml:"sockets"`   // hostapd control sockets
	Node         string            `yaml:"node"`      // hostapd: node the local sockets belong to
	PollInterval time.Duration     `yaml:"poll_interval"`
}

// Snapshot reports whether the source delivers periodic signal snapshots
// rather than connect and disconnect events.
func (s SourceConfig) Snapshot() bool {
	return s.Type == SourcePrometheus || s.Type == SourceExporters
}

// MQTTConfig configures the broker connection and topic layout.
type MQTTConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	DataDir         string `yaml:"data_dir"`
}

// Broker returns the broker URL in the form the MQTT client expects.
func (m MQTTConfig) Broker() string {
	return "tcp://" + net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// NodeConfig describes an access point.
type NodeConfig struct {
	Room    string `yaml:"room"`
	Type    string `yaml:"type"`    // interior (default) or exit.
	Timeout int    `yaml:"timeout"` // Seconds; required for exit nodes.
}

// PersonConfig lists the devices owned by a person.
type PersonConfig struct {
	MACs []string `yaml:"macs"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout or stderr
}

// JournalConfig configures the local event journal. An empty Path
// disables it.
type JournalConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// InfluxDBConfig configures the optional presence history sink.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Load reads the configuration at path, applies defaults and environment
// overrides, and validates the result. Files ending in .json or .jsonc may
// contain comments and trailing commas.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	return Parse(data)
}

// Parse decodes YAML (or JSON) config data, applies defaults and
// environment overrides, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			PollInterval: 30 * time.Second,
		},
		MQTT: MQTTConfig{
			Host:            "localhost",
			Port:            1883,
			ClientID:        "openwrt-presence",
			TopicPrefix:     "openwrt-presence",
			DiscoveryPrefix: "homeassistant",
		},
		AwayTimeout:  64800,
		TickInterval: 30 * time.Second,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Journal: JournalConfig{
			Retention: 24 * time.Hour,
		},
	}
}

// applyEnvOverrides lets secrets and deployment specifics come from the
// environment: PRESENCE_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRESENCE_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("PRESENCE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("PRESENCE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("PRESENCE_SOURCE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := os.Getenv("PRESENCE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("PRESENCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration. All problems are reported at once,
// in a stable order, wrapped around ErrInvalid.
func (c *Config) Validate() error {
	var errs []string

	switch c.Source.Type {
	case SourceVictoriaLogs, SourcePrometheus:
		if c.Source.URL == "" {
			errs = append(errs, fmt.Sprintf("source.url is required for source type %q", c.Source.Type))
		}
	case SourceSyslog:
		if c.Source.Listen == "" {
			errs = append(errs, "source.listen is required for source type syslog")
		}
	case SourceExporters:
		if len(c.Source.Exporters) == 0 {
			errs = append(errs, "source.exporters is required for source type exporters")
		}
		for _, node := range sortedKeys(c.Source.Exporters) {
			if _, ok := c.Nodes[node]; !ok {
				errs = append(errs, fmt.Sprintf("source.exporters: %q is not a configured node", node))
			}
		}
	case SourceHostapd:
		if len(c.Source.Sockets) == 0 {
			errs = append(errs, "source.sockets is required for source type hostapd")
		}
		if c.Source.Node == "" {
			errs = append(errs, "source.node is required for source type hostapd")
		}
	case "":
		errs = append(errs, "source.type is required")
	default:
		errs = append(errs, fmt.Sprintf("unknown source type %q", c.Source.Type))
	}
	if c.Source.Backfill < 0 {
		errs = append(errs, "source.backfill must not be negative")
	}
	if c.Source.Snapshot() && c.Source.PollInterval <= 0 {
		errs = append(errs, "source.poll_interval must be positive")
	}

	if c.MQTT.Host == "" {
		errs = append(errs, "mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if len(c.Nodes) == 0 {
		errs = append(errs, "at least one node is required")
	}
	for _, name := range sortedKeys(c.Nodes) {
		n := c.Nodes[name]
		switch n.Type {
		case "", NodeInterior:
		case NodeExit:
			if n.Timeout <= 0 {
				errs = append(errs, fmt.Sprintf("node %q: exit nodes require a positive timeout", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("node %q: unknown type %q", name, n.Type))
		}
		if n.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("node %q: timeout must not be negative", name))
		}
	}

	if c.AwayTimeout <= 0 {
		errs = append(errs, "away_timeout must be positive")
	}
	if c.TickInterval <= 0 {
		errs = append(errs, "tick_interval must be positive")
	}

	if len(c.People) == 0 {
		errs = append(errs, "at least one person is required")
	}
	owners := make(map[presence.MAC]string)
	for _, person := range sortedKeys(c.People) {
		macs := c.People[person].MACs
		if len(macs) == 0 {
			errs = append(errs, fmt.Sprintf("person %q: at least one MAC is required", person))
		}
		for _, s := range macs {
			mac, err := presence.ParseMAC(s)
			if err != nil {
				errs = append(errs, fmt.Sprintf("person %q: %v", person, err))
				continue
			}
			if other, ok := owners[mac]; ok {
				errs = append(errs, fmt.Sprintf("person %q: duplicate MAC %s, already owned by %q", person, mac, other))
				continue
			}
			owners[mac] = person
		}
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format must be json or text, not %q", c.Logging.Format))
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Roster builds the immutable device and node directory used by the
// presence engine. The configuration must be valid.
func (c *Config) Roster() (*presence.Roster, error) {
	nodes := make(map[string]presence.Node, len(c.Nodes))
	for name, n := range c.Nodes {
		node := presence.Node{Room: n.Room}
		if n.Type == NodeExit {
			node.Kind = presence.Exit
			node.Timeout = time.Duration(n.Timeout) * time.Second
		}
		nodes[name] = node
	}

	people := make(map[string][]presence.MAC, len(c.People))
	for person, p := range c.People {
		for _, s := range p.MACs {
			mac, err := presence.ParseMAC(s)
			if err != nil {
				return nil, fmt.Errorf("%w: person %q: %v", ErrInvalid, person, err)
			}
			people[person] = append(people[person], mac)
		}
	}

	return presence.NewRoster(nodes, people, c.Away()), nil
}

// Away returns the global away timeout.
func (c *Config) Away() time.Duration {
	return time.Duration(c.AwayTimeout) * time.Second
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
