package hass

// Documentation:
// https://www.home-assistant.io/integrations/device_tracker.mqtt/
// https://www.home-assistant.io/integrations/sensor.mqtt/

// DeviceTracker is used to configure HomeAssistant to track a person.
type DeviceTracker struct {
	AvailabilityTopic   string `json:"availability_topic,omitempty"`    // The MQTT topic subscribed to receive availability (online/offline) updates.
	Device              Device `json:"device"`                          // Ties the entity into the device registry.
	Icon                string `json:"icon,omitempty"`                  // Icon for the entity. https://materialdesignicons.com
	JSONAttributesTopic string `json:"json_attributes_topic,omitempty"` // The MQTT topic subscribed to receive a JSON dictionary payload and then set as device_tracker attributes.
	Name                string `json:"name,omitempty"`                  // The name of the MQTT device_tracker.
	ObjectID            string `json:"object_id,omitempty"`             // Used instead of name for automatic generation of entity_id.
	PayloadAvailable    string `json:"payload_available,omitempty"`     // Default: online.
	PayloadHome         string `json:"payload_home,omitempty"`          // Default: home.
	PayloadNotAvailable string `json:"payload_not_available,omitempty"` // Default: offline.
	PayloadNotHome      string `json:"payload_not_home,omitempty"`      // Default: not_home.
	QOS                 int    `json:"qos"`                             // The QoS level of the topic.
	SourceType          string `json:"source_type,omitempty"`           // gps, router, bluetooth, or bluetooth_le.
	StateTopic          string `json:"state_topic"`                     // Required.
	UniqueID            string `json:"unique_id,omitempty"`             // Must be unique across all device trackers.
}

// Sensor is used to configure a HomeAssistant sensor holding a person's
// room.
type Sensor struct {
	AvailabilityTopic string `json:"availability_topic,omitempty"`
	Device            Device `json:"device"`
	Icon              string `json:"icon,omitempty"`
	Name              string `json:"name,omitempty"`
	ObjectID          string `json:"object_id,omitempty"`
	QOS               int    `json:"qos"`
	StateTopic        string `json:"state_topic"`
	UniqueID          string `json:"unique_id,omitempty"`
}

// Device is the device block shared by every entity of one instance.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// Attrs are the attributes of a person's state.
type Attrs struct {
	EventTS string `json:"event_ts"` // RFC 3339.
	MAC     string `json:"mac"`
	Node    string `json:"node"`
	RSSI    *int   `json:"rssi,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
}
