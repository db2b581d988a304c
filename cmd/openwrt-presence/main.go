package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/awilliams/openwrt-presence/internal/config"
	"github.com/awilliams/openwrt-presence/internal/daemon"
	"github.com/awilliams/openwrt-presence/internal/hass"
	"github.com/awilliams/openwrt-presence/internal/history"
	"github.com/awilliams/openwrt-presence/internal/journal"
	"github.com/awilliams/openwrt-presence/internal/logging"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

const appName = "openwrt-presence"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context when a terminating signal is received.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		fmt.Fprintf(os.Stderr, "Received signal %q, exiting...\n", <-sigs)
		cancel()
	}()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

const helpTxt = `
About:
openwrt-presence decides who is home, and in which room, from the WiFi
stations seen by OpenWrt access points. Presence is published to Home
Assistant over MQTT using discovery.

Sources:
Station data comes from one source, selected by source.type in the
configuration file: victorialogs, syslog, prometheus, exporters or
hostapd. Event sources report connects and disconnects; snapshot
sources are polled for signal strength.

MQTT:
For each person the following retained topics are published:

  $topic_prefix/$person/state       home | not_home
  $topic_prefix/$person/room        room name, empty when unknown
  $topic_prefix/$person/attributes  JSON, e.g. {"event_ts":"...","mac":"...","node":"...","rssi":-52}

The availability of every entity follows:

  $topic_prefix/status              online | offline

Run with --unregister to remove the entities, e.g. after a person is
dropped from the configuration:

  openwrt-presence --unregister bob
`

// run executes the openwrt-presence program. It stops when an error occurs
// or the context is cancelled.
func run(ctx context.Context, argv []string) error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	flags := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", configPath, "Configuration file (YAML, or JSON with comments); $CONFIG_PATH")
	verbose := flags.BoolP("verbose", "v", false, "Verbose logging, overrides logging.level")
	showVersion := flags.Bool("version", false, "Print version and exit")
	unregisterOnly := flags.Bool("unregister", false, "Remove the Home Assistant entities of the configured people, and of any people named as arguments, then exit")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [person...]\n\nOptions:\n", appName)
		flags.PrintDefaults()
		fmt.Fprint(os.Stderr, helpTxt)
	}
	if err := flags.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	logger := logging.New(cfg.Logging, version)
	logger.Info("Starting", "config", configPath, "source", cfg.Source.Type)

	roster, err := cfg.Roster()
	if err != nil {
		return err
	}

	// Connect to MQTT.

	instanceID, err := hass.InstanceID(cfg.MQTT.DataDir, cfg.MQTT.TopicPrefix)
	if err != nil {
		return fmt.Errorf("instance id: %w", err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	mc, err := hass.NewMQTT(connectCtx, hass.MQTTOpts{
		BrokerAddr:      cfg.MQTT.Broker(),
		ClientID:        cfg.MQTT.ClientID,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		InstanceID:      instanceID,
		Version:         version,
	})
	cancel()
	if err != nil {
		return err
	}
	logger.Info("Connected to MQTT broker", "broker", cfg.MQTT.Broker(), "instance_id", instanceID)

	if *unregisterOnly {
		defer mc.Close()
		return unregister(ctx, mc, append(append([]string(nil), roster.People()...), flags.Args()...), logger)
	}

	// The will only publishes offline if the connection breaks, so it
	// must be published explicitly on a normal shutdown.
	if err := mc.StatusOnline(ctx); err != nil {
		return err
	}
	defer func() {
		// Cannot use original context since it may have already
		// been cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = mc.StatusOffline(ctx)
		cancel()
		mc.Close()
	}()

	for _, person := range roster.People() {
		if err := mc.RegisterPerson(ctx, person); err != nil {
			return fmt.Errorf("register %q: %w", person, err)
		}
		if err := mc.PersonAway(ctx, person); err != nil {
			return fmt.Errorf("initial state %q: %w", person, err)
		}
	}

	opts := []daemon.Opt{
		daemon.WithEngine(presence.NewEngine(roster)),
		daemon.WithTickInterval(cfg.TickInterval),
		daemon.WithLogger(logger),
		daemon.WithSink(daemon.Fatal(mc)),
	}

	// Optional history and journal.

	influx, err := history.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, history.ErrDisabled):
	case err != nil:
		logger.Warn("InfluxDB unavailable; presence history disabled", "error", err)
	default:
		defer influx.Close()
		opts = append(opts, daemon.WithSink(influx))
		logger.Info("Writing presence history to InfluxDB", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		j, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, daemon.WithJournal(j, cfg.Journal.Retention))
	}

	src, err := newSource(cfg, roster, j, logger)
	if err != nil {
		return err
	}
	defer src.close()
	opts = append(opts, src.opts...)

	d, err := daemon.New(opts...)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	// Stop on MQTT connection loss.
	eg.Go(func() error {
		return mc.OnConnectionLost(egCtx)
	})

	eg.Go(func() error {
		return d.Run(egCtx)
	})

	err = eg.Wait()
	logger.Info("Shutdown complete", slog.Any("error", err))
	return err
}

type unregisterer interface {
	UnregisterPerson(ctx context.Context, person string) error
}

// unregister removes the Home Assistant entities of each distinct person.
func unregister(ctx context.Context, u unregisterer, people []string, logger *slog.Logger) error {
	seen := make(map[string]bool, len(people))
	for _, person := range people {
		if seen[person] {
			continue
		}
		seen[person] = true
		if err := u.UnregisterPerson(ctx, person); err != nil {
			return fmt.Errorf("unregister %q: %w", person, err)
		}
		logger.Info("Unregistered", "person", person)
	}
	return nil
}
