package presence

import (
	"sort"
	"time"
)

// Directory answers the engine's read-only questions about the configured
// people, their devices and the nodes. Implementations must not change
// while an Engine uses them.
type Directory interface {
	// Owner returns the person that owns mac.
	Owner(mac MAC) (person string, ok bool)
	// Devices returns the devices owned by person.
	Devices(person string) []MAC
	// People returns every configured person, sorted.
	People() []string
	// Node returns the named node, or the zero Node if unknown.
	Node(name string) Node
	// AwayTimeout is the global fallback timeout, measured from a
	// device's last connect.
	AwayTimeout() time.Duration
}

// Roster is an immutable Directory built from configuration.
type Roster struct {
	nodes       map[string]Node
	owners      map[MAC]string
	devices     map[string][]MAC
	people      []string
	awayTimeout time.Duration
}

// NewRoster builds a Roster. Validation (duplicate owners, exit nodes
// without timeouts) is the caller's job; if a MAC is listed for more than
// one person the last person in sorted order wins.
func NewRoster(nodes map[string]Node, people map[string][]MAC, awayTimeout time.Duration) *Roster {
	r := &Roster{
		nodes:       make(map[string]Node, len(nodes)),
		owners:      make(map[MAC]string),
		devices:     make(map[string][]MAC, len(people)),
		awayTimeout: awayTimeout,
	}
	for name, n := range nodes {
		r.nodes[name] = n
	}
	for person := range people {
		r.people = append(r.people, person)
	}
	sort.Strings(r.people)

	for _, person := range r.people {
		macs := append([]MAC(nil), people[person]...)
		r.devices[person] = macs
		for _, mac := range macs {
			r.owners[mac] = person
		}
	}
	return r
}

func (r *Roster) Owner(mac MAC) (string, bool) {
	p, ok := r.owners[mac]
	return p, ok
}

func (r *Roster) Devices(person string) []MAC {
	return r.devices[person]
}

func (r *Roster) People() []string {
	return r.people
}

func (r *Roster) Node(name string) Node {
	return r.nodes[name]
}

func (r *Roster) AwayTimeout() time.Duration {
	return r.awayTimeout
}

// Tracked returns every configured device, in person order.
func (r *Roster) Tracked() []MAC {
	var macs []MAC
	for _, person := range r.people {
		macs = append(macs, r.devices[person]...)
	}
	return macs
}
