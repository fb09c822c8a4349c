//go:build darwin && cgo

package shortcut

/*
#include <stdint.h>
*/
import "C"

//export hcShortcutKeyDown
func hcShortcutKeyDown(keycode C.uint16_t, flags C.uint64_t, autorepeat C.int) C.int {
	tapMu.RLock()
	b := currentTap
	tapMu.RUnlock()

	if b == nil {
		return 0
	}
	if b.keyDown(uint16(keycode), uint64(flags), autorepeat != 0) {
		return 1
	}
	return 0
}
