package hass

import (
	"regexp"
	"strings"
)

// Topics generates the MQTT topics used for a set of people.
type Topics struct {
	Prefix     string
	HASSPrefix string
}

// Status topic for the overall availability, also used as the will.
func (t *Topics) Status() string {
	return mkTopic(t.Prefix, "status")
}

// State topic for a person's home/not_home state.
func (t *Topics) State(person string) string {
	return mkTopic(t.Prefix, sanitizeTopic(person), "state")
}

// Room topic for a person's current room.
func (t *Topics) Room(person string) string {
	return mkTopic(t.Prefix, sanitizeTopic(person), "room")
}

// Attributes topic for the JSON attributes of a person's state.
func (t *Topics) Attributes(person string) string {
	return mkTopic(t.Prefix, sanitizeTopic(person), "attributes")
}

// TrackerDiscovery topic for the person's Home Assistant device tracker.
func (t *Topics) TrackerDiscovery(person string) string {
	// https://www.home-assistant.io/docs/mqtt/discovery/#discovery-topic
	// Format: <discovery_prefix>/<component>/[<node_id>/]<object_id>/config
	// The object ID must only consist of characters from the character
	// class [a-zA-Z0-9_-].
	return mkTopic(t.HASSPrefix, "device_tracker", objectID(person, "wifi"), "config")
}

// RoomDiscovery topic for the person's Home Assistant room sensor.
func (t *Topics) RoomDiscovery(person string) string {
	return mkTopic(t.HASSPrefix, "sensor", objectID(person, "room"), "config")
}

func objectID(person, suffix string) string {
	return sanitizeTopic(person) + "_" + suffix
}

func mkTopic(parts ...string) string {
	return strings.Join(parts, "/")
}

var hassTopicRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeTopic(v string) string {
	return strings.ToLower(hassTopicRe.ReplaceAllString(v, ""))
}
