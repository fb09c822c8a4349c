package shortcut

// keyCodes holds the platform codes for one key: the macOS virtual key code
// (kVK_ANSI_*) and the Linux evdev code (KEY_*).
type keyCodes struct {
	mac   uint16
	evdev uint16
}

var keyTable = map[Key]keyCodes{
	"a": {0, 30}, "b": {11, 48}, "c": {8, 46}, "d": {2, 32},
	"e": {14, 18}, "f": {3, 33}, "g": {5, 34}, "h": {4, 35},
	"i": {34, 23}, "j": {38, 36}, "k": {40, 37}, "l": {37, 38},
	"m": {46, 50}, "n": {45, 49}, "o": {31, 24}, "p": {35, 25},
	"q": {12, 16}, "r": {15, 19}, "s": {1, 31}, "t": {17, 20},
	"u": {32, 22}, "v": {9, 47}, "w": {13, 17}, "x": {7, 45},
	"y": {16, 21}, "z": {6, 44},

	"1": {18, 2}, "2": {19, 3}, "3": {20, 4}, "4": {21, 5},
	"5": {23, 6}, "6": {22, 7}, "7": {26, 8}, "8": {28, 9},
	"9": {25, 10}, "0": {29, 11},

	"space": {49, 57},
}

// MacKeyCode returns the macOS virtual key code for k.
func MacKeyCode(k Key) (uint16, bool) {
	c, ok := keyTable[k]
	return c.mac, ok
}

// EvdevCode returns the Linux input event code for k.
func EvdevCode(k Key) (uint16, bool) {
	c, ok := keyTable[k]
	return c.evdev, ok
}

// Linux modifier key codes, left and right.
const (
	evKeyLeftCtrl   = 29
	evKeyRightCtrl  = 97
	evKeyLeftShift  = 42
	evKeyRightShift = 54
	evKeyLeftAlt    = 56
	evKeyRightAlt   = 100
	evKeyLeftMeta   = 125
	evKeyRightMeta  = 126
)

func evdevModifier(code uint16) (Modifier, bool) {
	switch code {
	case evKeyLeftCtrl, evKeyRightCtrl:
		return ModCtrl, true
	case evKeyLeftShift, evKeyRightShift:
		return ModShift, true
	case evKeyLeftAlt, evKeyRightAlt:
		return ModAlt, true
	case evKeyLeftMeta, evKeyRightMeta:
		return ModSuper, true
	}
	return 0, false
}

// macOS CGEventFlags bits.
const (
	cgFlagShift   = 0x00020000
	cgFlagControl = 0x00040000
	cgFlagAlt     = 0x00080000
	cgFlagCommand = 0x00100000
)

func macModifiers(flags uint64) Modifier {
	var m Modifier
	if flags&cgFlagControl != 0 {
		m |= ModCtrl
	}
	if flags&cgFlagShift != 0 {
		m |= ModShift
	}
	if flags&cgFlagAlt != 0 {
		m |= ModAlt
	}
	if flags&cgFlagCommand != 0 {
		m |= ModSuper
	}
	return m
}
