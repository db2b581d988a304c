package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

const (
	StatusOnline   = "online"
	StatusOffline  = "offline"
	PayloadHome    = "home"
	PayloadNotHome = "not_home"
	SourceRouter   = "router"

	trackerIcon = "mdi:wifi-marker"  // https://materialdesignicons.com/icon/wifi-marker
	roomIcon    = "mdi:map-marker"   // https://materialdesignicons.com/icon/map-marker
	deviceName  = "OpenWrt Presence" // Device registry name.
)

// MQTT QoS Values.
const (
	qosAtLeastOnce = 0x01
	qosExactlyOnce = 0x02
)

// tokenTimeout bounds every broker round trip.
const tokenTimeout = 5 * time.Second

// MQTTOpts configures an MQTT instance.
type MQTTOpts struct {
	BrokerAddr         string // Required
	ClientID           string // Required
	Username, Password string // Optional

	TopicPrefix     string // Optional
	DiscoveryPrefix string // Optional
	InstanceID      string // Keys the Home Assistant device.
	Version         string // Reported as the device software version.
}

func (o *MQTTOpts) topics() Topics {
	t := Topics{Prefix: o.TopicPrefix, HASSPrefix: o.DiscoveryPrefix}
	if t.Prefix == "" {
		t.Prefix = "openwrt-presence"
	}
	if t.HASSPrefix == "" {
		t.HASSPrefix = "homeassistant"
	}
	return t
}

// NewMQTT connects to the broker. The will marks the status topic
// offline if the connection drops. The connection is not re-established
// once lost; see OnConnectionLost.
func NewMQTT(ctx context.Context, opts MQTTOpts) (*MQTT, error) {
	if opts.BrokerAddr == "" {
		return nil, errors.New("BrokerAddr cannot be blank")
	}
	if opts.ClientID == "" {
		opts.ClientID = "openwrt-presence"
	}
	topics := opts.topics()

	connLostErrs := make(chan error, 1)

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerAddr)
	o.SetClientID(opts.ClientID)
	o.SetCleanSession(false)
	o.SetConnectRetry(false)  // Abort only.
	o.SetAutoReconnect(false) // Abort only.
	o.SetKeepAlive(2 * time.Minute)
	if opts.Username != "" || opts.Password != "" {
		o.SetCredentialsProvider(mqtt.CredentialsProvider(func() (username string, password string) {
			return opts.Username, opts.Password
		}))
	}
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		err = fmt.Errorf("MQTT connection lost: %w", err)
		select {
		case connLostErrs <- err:
		default:
		}
	})

	o.SetWill(topics.Status(), StatusOffline, qosAtLeastOnce, true)

	c := mqtt.NewClient(o)
	tkn := c.Connect()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout waiting for MQTT Connect: %w", ctx.Err())
	case <-tkn.Done():
		if err := tkn.Error(); err != nil {
			return nil, fmt.Errorf("MQTT Connect error: %w", err)
		}
	}

	return newMQTT(c, connLostErrs, opts), nil
}

func newMQTT(c mqtt.Client, connLostErrs <-chan error, opts MQTTOpts) *MQTT {
	topics := opts.topics()
	return &MQTT{
		c:            c,
		connLostErrs: connLostErrs,
		topics:       &topics,
		device: Device{
			Identifiers:  []string{"openwrt_presence_" + opts.InstanceID},
			Name:         deviceName,
			Manufacturer: "openwrt-presence",
			SWVersion:    opts.Version,
		},
	}
}

// MQTT publishes presence to Home Assistant.
type MQTT struct {
	c            mqtt.Client
	connLostErrs <-chan error

	topics *Topics
	device Device
}

// OnConnectionLost blocks until the connection is lost, returning the
// cause, or ctx is done.
func (m *MQTT) OnConnectionLost(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-m.connLostErrs:
		return err
	}
}

// Close the MQTT connection.
func (m *MQTT) Close() {
	m.c.Disconnect(2500)
}

// StatusOnline publishes that openwrt-presence is online using the same
// topic as the will.
func (m *MQTT) StatusOnline(ctx context.Context) error {
	return m.publishStatus(ctx, StatusOnline)
}

// StatusOffline publishes that openwrt-presence is offline. The will only
// covers unexpected disconnects, so this is needed on a normal shutdown.
func (m *MQTT) StatusOffline(ctx context.Context) error {
	return m.publishStatus(ctx, StatusOffline)
}

func (m *MQTT) publishStatus(ctx context.Context, status string) error {
	tkn := m.c.Publish(m.topics.Status(), qosExactlyOnce, true, status)
	return tokenWait(ctx, tkn, "publish status")
}

// RegisterPerson publishes the discovery messages for a person's device
// tracker and room sensor.
func (m *MQTT) RegisterPerson(ctx context.Context, person string) error {
	if person == "" {
		return errors.New("person cannot be blank")
	}
	title := titleCase(person)

	dt := DeviceTracker{
		AvailabilityTopic:   m.topics.Status(),
		Device:              m.device,
		Icon:                trackerIcon,
		JSONAttributesTopic: m.topics.Attributes(person),
		Name:                title + " WiFi",
		ObjectID:            objectID(person, "wifi"),
		PayloadAvailable:    StatusOnline,
		PayloadNotAvailable: StatusOffline,
		PayloadHome:         PayloadHome,
		PayloadNotHome:      PayloadNotHome,
		QOS:                 qosAtLeastOnce,
		SourceType:          SourceRouter,
		StateTopic:          m.topics.State(person),
		UniqueID:            "openwrt_presence_" + objectID(person, "wifi"),
	}
	if err := m.publishJSON(ctx, m.topics.TrackerDiscovery(person), qosAtLeastOnce, dt, "publish tracker discovery"); err != nil {
		return err
	}

	s := Sensor{
		AvailabilityTopic: m.topics.Status(),
		Device:            m.device,
		Icon:              roomIcon,
		Name:              title + " Room",
		ObjectID:          objectID(person, "room"),
		QOS:               qosAtLeastOnce,
		StateTopic:        m.topics.Room(person),
		UniqueID:          "openwrt_presence_" + objectID(person, "room"),
	}
	return m.publishJSON(ctx, m.topics.RoomDiscovery(person), qosAtLeastOnce, s, "publish room discovery")
}

// UnregisterPerson removes a person's entities from Home Assistant.
func (m *MQTT) UnregisterPerson(ctx context.Context, person string) error {
	if person == "" {
		return errors.New("person cannot be blank")
	}
	for _, topic := range []string{m.topics.TrackerDiscovery(person), m.topics.RoomDiscovery(person)} {
		tkn := m.c.Publish(topic, qosAtLeastOnce, true, []byte{})
		if err := tokenWait(ctx, tkn, "publish un-discovery"); err != nil {
			return err
		}
	}
	return nil
}

// PersonAway publishes person as not home, without attributes. It is used
// at startup, before anything is known, so retained topics from a
// previous run do not outlive it.
func (m *MQTT) PersonAway(ctx context.Context, person string) error {
	if err := m.publishString(ctx, m.topics.State(person), PayloadNotHome, "publish state"); err != nil {
		return err
	}
	return m.publishString(ctx, m.topics.Room(person), "", "publish room")
}

// Publish publishes a state change: state, room and attributes.
func (m *MQTT) Publish(ctx context.Context, c presence.StateChange) error {
	state := PayloadNotHome
	if c.Home {
		state = PayloadHome
	}
	if err := m.publishString(ctx, m.topics.State(c.Person), state, "publish state"); err != nil {
		return err
	}
	if err := m.publishString(ctx, m.topics.Room(c.Person), c.Room, "publish room"); err != nil {
		return err
	}

	attrs := Attrs{
		EventTS: c.Timestamp.UTC().Format(time.RFC3339),
		MAC:     c.MAC.String(),
		Node:    c.Node,
		RSSI:    c.Signal,
		Vendor:  VendorByMAC(c.MAC.String()),
	}
	return m.publishJSON(ctx, m.topics.Attributes(c.Person), qosAtLeastOnce, attrs, "publish attributes")
}

func (m *MQTT) publishString(ctx context.Context, topic, payload, description string) error {
	tkn := m.c.Publish(topic, qosAtLeastOnce, true, payload)
	return tokenWait(ctx, tkn, description)
}

func (m *MQTT) publishJSON(ctx context.Context, topic string, qos byte, v any, description string) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tkn := m.c.Publish(topic, qos, true, payload)
	return tokenWait(ctx, tkn, description)
}

// tokenWait waits for an MQTT token to complete, otherwise returning an error.
func tokenWait(ctx context.Context, tkn mqtt.Token, description string) error {
	t := time.NewTimer(tokenTimeout)
	defer t.Stop()

	select {
	case <-tkn.Done():
		if err := tkn.Error(); err != nil {
			return fmt.Errorf("mqtt token error (%s): %w", description, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("mqtt cancelled waiting for token completion (%s): %w", description, ctx.Err())
	case <-t.C:
		return fmt.Errorf("mqtt timeout waiting for token completion (%s)", description)
	}
	return nil
}

func titleCase(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}
