package shortcut

import "sync"

// chord is a platform key code plus an exact modifier set.
type chord struct {
	code uint16
	mods Modifier
}

// matcher maps chords to OS ids for backends that match in user space.
// It is shared by the event callback and the registering goroutine.
type matcher struct {
	mu     sync.RWMutex
	nextID uint32
	byID   map[uint32]chord
	chords map[chord]uint32
}

func newMatcher() *matcher {
	return &matcher{
		byID:   make(map[uint32]chord),
		chords: make(map[chord]uint32),
	}
}

func (m *matcher) add(c chord) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.chords[c]; taken {
		return 0, false
	}
	m.nextID++
	m.byID[m.nextID] = c
	m.chords[c] = m.nextID
	return m.nextID, true
}

func (m *matcher) remove(osID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[osID]
	if !ok {
		return false
	}
	delete(m.byID, osID)
	delete(m.chords, c)
	return true
}

func (m *matcher) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[uint32]chord)
	m.chords = make(map[chord]uint32)
}

func (m *matcher) lookup(c chord) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.chords[c]
	return id, ok
}

// modTracker follows modifier state from a stream of evdev key events.
type modTracker struct {
	held map[uint16]bool
}

func newModTracker() *modTracker {
	return &modTracker{held: make(map[uint16]bool)}
}

// Key event values.
const (
	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

// feed records one EV_KEY event. For a non-modifier key press it returns the
// chord formed with the modifiers currently held.
func (t *modTracker) feed(code uint16, value int32) (chord, bool) {
	if _, isMod := evdevModifier(code); isMod {
		switch value {
		case keyPress, keyRepeat:
			t.held[code] = true
		case keyRelease:
			delete(t.held, code)
		}
		return chord{}, false
	}
	if value != keyPress {
		return chord{}, false
	}
	return chord{code: code, mods: t.mods()}, true
}

func (t *modTracker) mods() Modifier {
	var m Modifier
	for code := range t.held {
		mod, _ := evdevModifier(code)
		m |= mod
	}
	return m
}

func (t *modTracker) reset() {
	t.held = make(map[uint16]bool)
}
