package presence

import "time"

// DeviceState is the connection state of a single tracked device.
type DeviceState int

// Device states. The zero value is StateAway, which is the state of every
// device before it is first observed.
const (
	StateAway DeviceState = iota
	StateConnected
	StateDeparting
)

func (s DeviceState) String() string {
	switch s {
	case StateAway:
		return "away"
	case StateConnected:
		return "connected"
	case StateDeparting:
		return "departing"
	default:
		return "?"
	}
}

// present reports whether a device in state s keeps its owner home.
func (s DeviceState) present() bool {
	return s == StateConnected || s == StateDeparting
}

// NodeKind classifies a node (access point).
type NodeKind int

const (
	// Interior nodes have no departure timeout of their own. A device last
	// seen on one is only marked away by the global away timeout.
	Interior NodeKind = iota
	// Exit nodes sit where people leave the premises. A device that
	// disconnects from one is marked away after the node's Timeout.
	Exit
)

func (k NodeKind) String() string {
	if k == Exit {
		return "exit"
	}
	return "interior"
}

// Node describes an access point. The zero value is what unknown nodes
// resolve to: interior, no room.
type Node struct {
	Room    string
	Kind    NodeKind
	Timeout time.Duration // Required for Exit nodes.
}

// EventKind is the kind of a station Event.
type EventKind int

const (
	Connect EventKind = iota
	Disconnect
)

func (k EventKind) String() string {
	switch k {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	default:
		return "?"
	}
}

// Event is a discrete station connect or disconnect observed on a node.
type Event struct {
	Kind      EventKind
	MAC       MAC
	Node      string
	Timestamp time.Time
}

// Reading is one device's signal strength as seen by one node during a
// snapshot. Higher Signal is stronger.
type Reading struct {
	MAC        MAC
	Node       string
	Signal     int
	ObservedAt time.Time
}

// PersonState is the aggregated presence of a person. An empty Room
// means the room is unknown (or the person is away).
type PersonState struct {
	Home bool
	Room string
}

// StateChange is emitted when a person's aggregated state changes.
type StateChange struct {
	Person    string
	Home      bool
	Room      string
	MAC       MAC    // Device that caused or best represents the change.
	Node      string // Last node of MAC.
	Timestamp time.Time
	Signal    *int // Set for snapshot-driven changes.
}

// State returns the PersonState carried by the change.
func (c StateChange) State() PersonState {
	return PersonState{Home: c.Home, Room: c.Room}
}
