package presence

// emitter remembers the last state emitted for each person and suppresses
// repeats.
type emitter struct {
	last map[string]PersonState
}

func newEmitter(people []string) *emitter {
	em := &emitter{
		last: make(map[string]PersonState, len(people)),
	}
	for _, p := range people {
		em.last[p] = PersonState{}
	}
	return em
}

// emit returns a StateChange carrying next if it differs from the last
// state emitted for c.Person. The Home and Room fields of c are filled in
// from next.
func (em *emitter) emit(next PersonState, c StateChange) (StateChange, bool) {
	if em.last[c.Person] == next {
		return StateChange{}, false
	}
	em.last[c.Person] = next

	c.Home = next.Home
	c.Room = next.Room
	return c, true
}

// lastEmitted returns the last state emitted for person.
func (em *emitter) lastEmitted(person string) PersonState {
	return em.last[person]
}
