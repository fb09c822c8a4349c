//go:build darwin && cgo

package input

/*
#cgo LDFLAGS: -framework ApplicationServices

#include <ApplicationServices/ApplicationServices.h>

static int hcPostCommandChord(CGKeyCode key) {
    CGEventSourceRef source = CGEventSourceCreate(kCGEventSourceStateCombinedSessionState);
    if (source == NULL) {
        return -1;
    }

    CGEventRef down = CGEventCreateKeyboardEvent(source, key, true);
    CGEventRef up = CGEventCreateKeyboardEvent(source, key, false);
    if (down == NULL || up == NULL) {
        if (down != NULL) CFRelease(down);
        if (up != NULL) CFRelease(up);
        CFRelease(source);
        return -2;
    }

    CGEventSetFlags(down, kCGEventFlagMaskCommand);
    CGEventSetFlags(up, kCGEventFlagMaskCommand);
    CGEventPost(kCGAnnotatedSessionEventTap, down);
    CGEventPost(kCGAnnotatedSessionEventTap, up);

    CFRelease(down);
    CFRelease(up);
    CFRelease(source);
    return 0;
}
*/
import "C"

import "fmt"

// Virtual key codes kVK_ANSI_C and kVK_ANSI_V.
const (
	macKeyC = 8
	macKeyV = 9
)

// EventInjector posts Cmd-chords with CGEventPost.
type EventInjector struct{}

// NewPlatformInjector returns the CGEvent injector.
func NewPlatformInjector() (Injector, error) {
	return EventInjector{}, nil
}

// PressCopyChord implements Injector.
func (EventInjector) PressCopyChord() error { return post(macKeyC) }

// PressPasteChord implements Injector.
func (EventInjector) PressPasteChord() error { return post(macKeyV) }

// Close implements Injector.
func (EventInjector) Close() error { return nil }

func post(key C.CGKeyCode) error {
	if rc := C.hcPostCommandChord(key); rc != 0 {
		return fmt.Errorf("input: CGEventPost failed (code %d)", int(rc))
	}
	return nil
}
