package presence

// computeState aggregates the devices of person. The person is home while
// any device is connected or departing, and the room is that of the device
// chosen by locate.
func (e *Engine) computeState(person string) PersonState {
	d := e.locate(person)
	if d == nil {
		return PersonState{}
	}
	return PersonState{
		Home: true,
		Room: e.dir.Node(d.node).Room,
	}
}

// locate returns the device that places person: the connected device with
// the strongest current signal, or without signals (event mode) the most
// recently connected one, by processing order. Failing any connected
// device, the most recently connected departing device keeps the room
// until the person is actually away. nil means away.
func (e *Engine) locate(person string) *device {
	var connected, departing *device
	for _, mac := range e.dir.Devices(person) {
		d, ok := e.devices[mac]
		if !ok {
			continue
		}
		switch d.state {
		case StateConnected:
			if d.better(connected) {
				connected = d
			}
		case StateDeparting:
			if departing == nil || d.connectSeq > departing.connectSeq {
				departing = d
			}
		}
	}
	if connected != nil {
		return connected
	}
	return departing
}

// representative returns the device reported with person's state. While
// the person is home it is the device that decides the room; once away it
// is the last device seen. nil if none of its devices has been observed.
func (e *Engine) representative(person string) *device {
	if d := e.locate(person); d != nil {
		return d
	}
	var best *device
	for _, mac := range e.dir.Devices(person) {
		if d, ok := e.devices[mac]; ok && d.better(best) {
			best = d
		}
	}
	return best
}
