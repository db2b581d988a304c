package presence

import "time"

// device tracks the state of one MAC. A zero time.Time means "unset" for
// every timestamp field.
type device struct {
	mac   MAC
	state DeviceState
	node  string // Last node the device connected to.

	connectedAt    time.Time
	disconnectedAt time.Time
	exitDeadline   time.Time // Only while departing from an exit node.

	signal    int
	hasSignal bool // Signal is from the current snapshot.

	// connectSeq orders connects by processing order. Source timestamps
	// can be skewed, so room selection never compares connectedAt.
	connectSeq uint64
}

// connect moves the device to StateConnected on node. Any pending
// departure is cancelled.
func (d *device) connect(node string, t time.Time, seq uint64) {
	d.state = StateConnected
	d.node = node
	d.connectedAt = t
	d.disconnectedAt = time.Time{}
	d.exitDeadline = time.Time{}
	d.connectSeq = seq
}

// disconnect applies a disconnect reported by node. Only a connected
// device can start departing, and only its current node can disconnect
// it: a disconnect from another node arrives late, after the device has
// already roamed. last is the Node the device is connected to.
func (d *device) disconnect(node string, t time.Time, last Node) bool {
	if d.state != StateConnected {
		return false
	}
	if node != "" && d.node != "" && node != d.node {
		return false
	}
	d.depart(t, last)
	return true
}

// depart moves the device to StateDeparting. The exit deadline is only
// armed when last is an exit node; otherwise the away timeout governs.
func (d *device) depart(t time.Time, last Node) {
	d.state = StateDeparting
	d.disconnectedAt = t
	d.exitDeadline = time.Time{}
	d.hasSignal = false
	if last.Kind == Exit {
		d.exitDeadline = t.Add(last.Timeout)
	}
}

// expired reports whether a departing device should now be away. The away
// timeout applies to every departing device, including those with an exit
// deadline that has not elapsed yet.
func (d *device) expired(now time.Time, awayTimeout time.Duration) bool {
	if d.state != StateDeparting {
		return false
	}
	if !d.exitDeadline.IsZero() && !now.Before(d.exitDeadline) {
		return true
	}
	if !d.connectedAt.IsZero() && awayTimeout > 0 && now.Sub(d.connectedAt) >= awayTimeout {
		return true
	}
	return false
}

func (d *device) expire() {
	d.state = StateAway
	d.exitDeadline = time.Time{}
	d.hasSignal = false
}

// better reports whether d represents its owner better than o: a device
// with a current signal beats one without, a stronger signal beats a
// weaker one, and otherwise the most recent connect wins.
func (d *device) better(o *device) bool {
	if o == nil {
		return true
	}
	if d.hasSignal != o.hasSignal {
		return d.hasSignal
	}
	if d.hasSignal && d.signal != o.signal {
		return d.signal > o.signal
	}
	return d.connectSeq > o.connectSeq
}

// DeviceStatus is a read-only view of a tracked device.
type DeviceStatus struct {
	MAC            MAC
	State          DeviceState
	Node           string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	ExitDeadline   time.Time
	Signal         *int
}

func (d *device) status() DeviceStatus {
	s := DeviceStatus{
		MAC:            d.mac,
		State:          d.state,
		Node:           d.node,
		ConnectedAt:    d.connectedAt,
		DisconnectedAt: d.disconnectedAt,
		ExitDeadline:   d.exitDeadline,
	}
	if d.hasSignal {
		signal := d.signal
		s.Signal = &signal
	}
	return s
}
