package presence

import (
	"sort"
	"time"
)

// Engine is the presence state machine. It tracks every configured device,
// aggregates devices into per-person state, and reports only real changes.
//
// Engine never reads the clock; every timestamp comes from the caller.
// It is not safe for concurrent use: the caller must deliver events,
// snapshots and ticks one at a time.
type Engine struct {
	dir     Directory
	devices map[MAC]*device
	order   []*device // Creation order, for deterministic iteration.
	seq     uint64
	emitter *emitter
}

// NewEngine returns an Engine where every person starts away.
func NewEngine(dir Directory) *Engine {
	return &Engine{
		dir:     dir,
		devices: make(map[MAC]*device),
		emitter: newEmitter(dir.People()),
	}
}

// device returns the tracker for mac, creating it on first use.
func (e *Engine) device(mac MAC) *device {
	d, ok := e.devices[mac]
	if !ok {
		d = &device{mac: mac}
		e.devices[mac] = d
		e.order = append(e.order, d)
	}
	return d
}

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

// emit aggregates person and returns the change, if any.
func (e *Engine) emit(person string, mac MAC, node string, t time.Time, signal *int) (StateChange, bool) {
	return e.emitter.emit(e.computeState(person), StateChange{
		Person:    person,
		MAC:       mac,
		Node:      node,
		Timestamp: t,
		Signal:    signal,
	})
}

// ProcessEvent applies a connect or disconnect. Events for devices that
// belong to nobody are ignored.
func (e *Engine) ProcessEvent(ev Event) []StateChange {
	person, ok := e.dir.Owner(ev.MAC)
	if !ok {
		return nil
	}

	d := e.device(ev.MAC)
	switch ev.Kind {
	case Connect:
		d.connect(ev.Node, ev.Timestamp, e.nextSeq())
	case Disconnect:
		if !d.disconnect(ev.Node, ev.Timestamp, e.dir.Node(d.node)) {
			return nil
		}
	default:
		return nil
	}

	c, ok := e.emit(person, d.mac, d.node, ev.Timestamp, nil)
	if !ok {
		return nil
	}
	return []StateChange{c}
}

// ProcessSnapshot applies the full set of readings visible at now. Every
// visible device is connected to the node that hears it best; every
// previously connected device that is missing starts departing; departing
// devices whose deadline has passed go away. A device with several readings
// of equal signal is assigned to the node of the first of them.
func (e *Engine) ProcessSnapshot(now time.Time, readings []Reading) []StateChange {
	best := make(map[MAC]Reading, len(readings))
	var visible []MAC
	for _, r := range readings {
		if _, ok := e.dir.Owner(r.MAC); !ok {
			continue
		}
		cur, seen := best[r.MAC]
		if !seen {
			visible = append(visible, r.MAC)
			best[r.MAC] = r
			continue
		}
		if r.Signal > cur.Signal {
			best[r.MAC] = r
		}
	}

	// Devices that newly connected or moved get fresh sequence numbers,
	// weakest first, so the strongest is the most recent connect.
	var moved []*device
	for _, mac := range visible {
		r := best[mac]
		d := e.device(mac)
		if d.state == StateConnected && d.node == r.Node {
			d.connect(r.Node, now, d.connectSeq)
		} else {
			moved = append(moved, d)
		}
		d.signal = r.Signal
		d.hasSignal = true
	}
	sort.SliceStable(moved, func(i, j int) bool {
		return moved[i].signal < moved[j].signal
	})
	for _, d := range moved {
		d.connect(best[d.mac].Node, now, e.nextSeq())
	}

	for _, d := range e.order {
		if _, ok := best[d.mac]; ok {
			continue
		}
		if d.state == StateConnected {
			d.depart(now, e.dir.Node(d.node))
		}
	}

	away := e.dir.AwayTimeout()
	for _, d := range e.order {
		if d.expired(now, away) {
			d.expire()
		}
	}

	var changes []StateChange
	for _, person := range e.dir.People() {
		rep := e.representative(person)
		if rep == nil {
			continue
		}
		var signal *int
		if rep.hasSignal {
			s := rep.signal
			signal = &s
		}
		if c, ok := e.emit(person, rep.mac, rep.node, now, signal); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

// Tick expires departing devices whose exit deadline or away timeout has
// passed at now. Tick is idempotent: calling it again with the same or an
// earlier now produces nothing.
func (e *Engine) Tick(now time.Time) []StateChange {
	away := e.dir.AwayTimeout()

	var people []string
	timedOut := make(map[string]*device)
	for _, d := range e.order {
		if !d.expired(now, away) {
			continue
		}
		d.expire()
		person, ok := e.dir.Owner(d.mac)
		if !ok {
			continue
		}
		if _, seen := timedOut[person]; !seen {
			people = append(people, person)
		}
		timedOut[person] = d
	}
	sort.Strings(people)

	var changes []StateChange
	for _, person := range people {
		d := timedOut[person]
		if c, ok := e.emit(person, d.mac, d.node, now, nil); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

// PersonState returns the current aggregated state of person. Unknown
// people are away.
func (e *Engine) PersonState(person string) PersonState {
	return e.computeState(person)
}

// LastEmitted returns the state most recently reported for person.
func (e *Engine) LastEmitted(person string) PersonState {
	return e.emitter.lastEmitted(person)
}

// Device returns the status of mac, if it has been observed.
func (e *Engine) Device(mac MAC) (DeviceStatus, bool) {
	d, ok := e.devices[mac]
	if !ok {
		return DeviceStatus{}, false
	}
	return d.status(), true
}

// Home returns the people currently home, sorted.
func (e *Engine) Home() []string {
	var home []string
	for _, person := range e.dir.People() {
		if e.computeState(person).Home {
			home = append(home, person)
		}
	}
	return home
}
