package hass

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

var mqttAddr = flag.String("mqttAddr", "", "MQTT broker address")

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeClient records publishes. Methods the publisher does not use are
// left to the embedded nil interface.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	published  []published
	err        error
	disconnect bool
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	var p string
	switch v := payload.(type) {
	case string:
		p = v
	case []byte:
		p = string(v)
	default:
		panic(fmt.Sprintf("unexpected payload type %T", payload))
	}
	if f.err == nil {
		f.published = append(f.published, published{topic, qos, retained, p})
	}
	return newFakeToken(f.err)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	f.disconnect = true
	f.mu.Unlock()
}

func (f *fakeClient) messages() map[string]published {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[string]published, len(f.published))
	for _, p := range f.published {
		m[p.topic] = p
	}
	return m
}

type fakeToken struct {
	mqtt.Token
	done chan struct{}
	err  error
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

func newFake(t *testing.T) (*MQTT, *fakeClient, chan error) {
	t.Helper()
	fc := &fakeClient{}
	lost := make(chan error, 1)
	m := newMQTT(fc, lost, MQTTOpts{
		TopicPrefix: "openwrt-presence",
		InstanceID:  "0190a0a0-0000-7000-8000-000000000000",
		Version:     "1.0.0",
	})
	return m, fc, lost
}

func TestMQTT_Publish(t *testing.T) {
	m, fc, _ := newFake(t)

	signal := -52
	err := m.Publish(context.Background(), presence.StateChange{
		Person:    "alice",
		Home:      true,
		Room:      "office",
		MAC:       presence.MustParseMAC("cc:20:e8:00:00:01"),
		Node:      "ap-office",
		Timestamp: time.Date(2026, 2, 12, 10, 0, 0, 0, time.FixedZone("CET", 3600)),
		Signal:    &signal,
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs := fc.messages()
	if got := msgs["openwrt-presence/alice/state"]; got.payload != "home" || !got.retained {
		t.Errorf("state = %+v", got)
	}
	if got := msgs["openwrt-presence/alice/room"]; got.payload != "office" || !got.retained {
		t.Errorf("room = %+v", got)
	}

	var attrs map[string]any
	if err := json.Unmarshal([]byte(msgs["openwrt-presence/alice/attributes"].payload), &attrs); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"event_ts": "2026-02-12T09:00:00Z",
		"mac":      "cc:20:e8:00:00:01",
		"node":     "ap-office",
		"rssi":     float64(-52),
		"vendor":   vendorApple,
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attributes[%s] = %v; want %v", k, attrs[k], v)
		}
	}
}

func TestMQTT_PublishAway(t *testing.T) {
	m, fc, _ := newFake(t)

	err := m.Publish(context.Background(), presence.StateChange{
		Person:    "Bob",
		MAC:       presence.MustParseMAC("02:00:00:00:00:03"),
		Node:      "ap-garden",
		Timestamp: time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs := fc.messages()
	if got := msgs["openwrt-presence/bob/state"].payload; got != PayloadNotHome {
		t.Errorf("state = %q", got)
	}
	if got, ok := msgs["openwrt-presence/bob/room"]; !ok || got.payload != "" {
		t.Errorf("room = %+v, %v", got, ok)
	}
	attrs := msgs["openwrt-presence/bob/attributes"].payload
	var decoded map[string]any
	if err := json.Unmarshal([]byte(attrs), &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["rssi"]; ok {
		t.Errorf("rssi present without a signal: %s", attrs)
	}
	if _, ok := decoded["vendor"]; ok {
		t.Errorf("vendor present for a randomized MAC: %s", attrs)
	}
}

func TestMQTT_RegisterPerson(t *testing.T) {
	m, fc, _ := newFake(t)

	if err := m.RegisterPerson(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	msgs := fc.messages()

	var dt DeviceTracker
	if err := json.Unmarshal([]byte(msgs["homeassistant/device_tracker/alice_wifi/config"].payload), &dt); err != nil {
		t.Fatal(err)
	}
	if dt.Name != "Alice WiFi" || dt.StateTopic != "openwrt-presence/alice/state" ||
		dt.JSONAttributesTopic != "openwrt-presence/alice/attributes" ||
		dt.AvailabilityTopic != "openwrt-presence/status" ||
		dt.UniqueID != "openwrt_presence_alice_wifi" ||
		dt.PayloadHome != "home" || dt.PayloadNotHome != "not_home" || dt.SourceType != "router" {
		t.Errorf("device tracker = %+v", dt)
	}

	var s Sensor
	if err := json.Unmarshal([]byte(msgs["homeassistant/sensor/alice_room/config"].payload), &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "Alice Room" || s.StateTopic != "openwrt-presence/alice/room" || s.UniqueID != "openwrt_presence_alice_room" {
		t.Errorf("sensor = %+v", s)
	}

	// Both entities belong to the same device.
	if len(dt.Device.Identifiers) != 1 || dt.Device.Identifiers[0] != "openwrt_presence_0190a0a0-0000-7000-8000-000000000000" {
		t.Errorf("device = %+v", dt.Device)
	}
	if fmt.Sprint(dt.Device) != fmt.Sprint(s.Device) || dt.Device.SWVersion != "1.0.0" {
		t.Errorf("device blocks differ: %+v, %+v", dt.Device, s.Device)
	}

	if err := m.RegisterPerson(context.Background(), ""); err == nil {
		t.Error("expected error for blank person")
	}
}

func TestMQTT_UnregisterPerson(t *testing.T) {
	m, fc, _ := newFake(t)

	if err := m.UnregisterPerson(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	msgs := fc.messages()
	for _, topic := range []string{"homeassistant/device_tracker/alice_wifi/config", "homeassistant/sensor/alice_room/config"} {
		if got, ok := msgs[topic]; !ok || got.payload != "" || !got.retained {
			t.Errorf("%s = %+v, %v", topic, got, ok)
		}
	}
}

func TestMQTT_StatusAndAway(t *testing.T) {
	m, fc, _ := newFake(t)
	ctx := context.Background()

	if err := m.StatusOnline(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.PersonAway(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	msgs := fc.messages()
	if got := msgs["openwrt-presence/status"]; got.payload != StatusOnline || got.qos != qosExactlyOnce || !got.retained {
		t.Errorf("status = %+v", got)
	}
	if got := msgs["openwrt-presence/alice/state"].payload; got != PayloadNotHome {
		t.Errorf("state = %q", got)
	}

	if err := m.StatusOffline(ctx); err != nil {
		t.Fatal(err)
	}
	if got := fc.messages()["openwrt-presence/status"]; got.payload != StatusOffline || got.qos != qosExactlyOnce {
		t.Errorf("status = %+v", got)
	}

	m.Close()
	if !fc.disconnect {
		t.Error("Close did not disconnect")
	}
}

func TestMQTT_PublishError(t *testing.T) {
	m, fc, _ := newFake(t)
	fc.err = errors.New("not connected")

	err := m.Publish(context.Background(), presence.StateChange{Person: "alice"})
	if !errors.Is(err, fc.err) {
		t.Errorf("got error %v; want %v", err, fc.err)
	}
}

func TestMQTT_OnConnectionLost(t *testing.T) {
	m, _, lost := newFake(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.OnConnectionLost(ctx); err != nil {
		t.Errorf("got %v after cancel; want nil", err)
	}

	want := errors.New("EOF")
	lost <- want
	if err := m.OnConnectionLost(context.Background()); err != want {
		t.Errorf("got %v; want %v", err, want)
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "p", HASSPrefix: "ha"}
	cases := []struct {
		got, want string
	}{
		{topics.Status(), "p/status"},
		{topics.State("Mary Ann"), "p/maryann/state"},
		{topics.Room("alice"), "p/alice/room"},
		{topics.Attributes("alice"), "p/alice/attributes"},
		{topics.TrackerDiscovery("alice"), "ha/device_tracker/alice_wifi/config"},
		{topics.RoomDiscovery("a.b"), "ha/sensor/ab_room/config"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %q; want %q", tc.got, tc.want)
		}
	}
}

func TestMQTTBroker_Publish(t *testing.T) {
	c := mqttClient(t)
	uid := c.topics.Prefix

	sub := mqtt.NewClient(mqtt.NewClientOptions().AddBroker(*mqttAddr).SetClientID(uid + "-sub"))
	if tkn := sub.Connect(); !tkn.WaitTimeout(time.Second) || tkn.Error() != nil {
		t.Fatalf("subscriber Connect() error: %v", tkn.Error())
	}
	defer sub.Disconnect(250)

	received := make(chan string, 1)
	tkn := sub.Subscribe(c.topics.State("alice"), qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case received <- string(msg.Payload()):
		default:
		}
	})
	if !tkn.WaitTimeout(time.Second) || tkn.Error() != nil {
		t.Fatalf("Subscribe() error: %v", tkn.Error())
	}

	err := c.Publish(context.Background(), presence.StateChange{
		Person:    "alice",
		Home:      true,
		Room:      "office",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case got := <-received:
		if got != PayloadHome {
			t.Errorf("got %q; want %q", got, PayloadHome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for state message")
	}

	// Clear the retained messages of this run.
	for _, topic := range []string{c.topics.State("alice"), c.topics.Room("alice"), c.topics.Attributes("alice")} {
		c.c.Publish(topic, qosAtLeastOnce, true, []byte{}).WaitTimeout(time.Second)
	}
}

func mqttClient(t *testing.T) *MQTT {
	t.Helper()
	if *mqttAddr == "" {
		t.Skip("skipping test that requires MQTT broker (set with mqttAddr flag)")
	}

	uid := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano()/100)

	opts := MQTTOpts{
		BrokerAddr:      *mqttAddr,
		ClientID:        fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano()),
		TopicPrefix:     uid,
		DiscoveryPrefix: "hass-" + uid,
		InstanceID:      uid,
	}
	t.Logf("ClientID: %s", opts.ClientID)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := NewMQTT(ctx, opts)
	if err != nil {
		t.Fatalf("NewMQTT() err: %v", err)
	}
	t.Cleanup(c.Close)

	return c
}
