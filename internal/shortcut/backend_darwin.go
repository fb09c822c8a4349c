//go:build darwin && cgo

package shortcut

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework Foundation

#include <ApplicationServices/ApplicationServices.h>
#include <pthread.h>
#include <stdint.h>
#include <unistd.h>

extern int hcShortcutKeyDown(uint16_t keycode, uint64_t flags, int autorepeat);

static CFMachPortRef hcTap = NULL;
static CFRunLoopSourceRef hcTapSource = NULL;
static CFRunLoopRef hcTapRunLoop = NULL;
static pthread_t hcTapThread;
static volatile int hcTapEnabled = 0;
static volatile int hcTapThreadRunning = 0;

static void hcStopTap(void);

static CGEventRef hcTapCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
    (void)proxy;
    (void)refcon;

    if (type == kCGEventTapDisabledByTimeout || type == kCGEventTapDisabledByUserInput) {
        if (hcTap != NULL) {
            CGEventTapEnable(hcTap, true);
        }
        return event;
    }
    if (type != kCGEventKeyDown) {
        return event;
    }

    int64_t keycode = CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
    int64_t repeat = CGEventGetIntegerValueField(event, kCGKeyboardEventAutorepeat);
    CGEventFlags flags = CGEventGetFlags(event);

    // A matched chord is consumed so the focused app never sees it.
    if (hcShortcutKeyDown((uint16_t)keycode, (uint64_t)flags, (int)repeat)) {
        return NULL;
    }
    return event;
}

static void *hcTapThreadMain(void *arg) {
    (void)arg;
    hcTapRunLoop = CFRunLoopGetCurrent();
    CFRunLoopAddSource(hcTapRunLoop, hcTapSource, kCFRunLoopCommonModes);
    CGEventTapEnable(hcTap, true);
    hcTapEnabled = 1;

    CFRunLoopRun();

    hcTapEnabled = 0;
    hcTapRunLoop = NULL;
    return NULL;
}

static int hcStartTap(void) {
    if (hcTap != NULL) {
        return 1;
    }

    hcTap = CGEventTapCreate(
        kCGSessionEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionDefault,
        CGEventMaskBit(kCGEventKeyDown),
        hcTapCallback,
        NULL
    );
    if (hcTap == NULL) {
        return -1;
    }

    hcTapSource = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, hcTap, 0);
    if (hcTapSource == NULL) {
        CFRelease(hcTap);
        hcTap = NULL;
        return -2;
    }

    hcTapThreadRunning = 1;
    if (pthread_create(&hcTapThread, NULL, hcTapThreadMain, NULL) != 0) {
        CFRelease(hcTapSource);
        CFRelease(hcTap);
        hcTapSource = NULL;
        hcTap = NULL;
        hcTapThreadRunning = 0;
        return -3;
    }

    for (int i = 0; i < 100 && !hcTapEnabled; i++) {
        usleep(10000);
    }
    if (!hcTapEnabled) {
        hcStopTap();
        return -4;
    }
    return 0;
}

static void hcStopTap(void) {
    if (hcTap == NULL) {
        return;
    }
    CGEventTapEnable(hcTap, false);
    hcTapEnabled = 0;

    if (hcTapRunLoop != NULL) {
        CFRunLoopStop(hcTapRunLoop);
    }
    if (hcTapThreadRunning) {
        pthread_join(hcTapThread, NULL);
        hcTapThreadRunning = 0;
    }
    if (hcTapSource != NULL) {
        CFRelease(hcTapSource);
        hcTapSource = NULL;
    }
    CFRelease(hcTap);
    hcTap = NULL;
    hcTapRunLoop = NULL;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
)

var (
	tapMu      sync.RWMutex
	currentTap *TapBackend
)

// TapBackend matches chords in a CGEventTap on its own CFRunLoop thread.
// Only one tap exists per process.
type TapBackend struct {
	mu      sync.Mutex
	handler func(uint32)
	match   *matcher
}

// NewPlatformBackend returns the event tap backend.
func NewPlatformBackend() Backend {
	return &TapBackend{match: newMatcher()}
}

// Install implements Backend.
func (b *TapBackend) Install(handler func(uint32)) error {
	tapMu.Lock()
	defer tapMu.Unlock()
	if currentTap != nil {
		return errors.New("event tap already installed")
	}

	switch rc := C.hcStartTap(); rc {
	case 0:
	case -1:
		return errors.New("event tap creation failed (Accessibility permission not granted?)")
	default:
		return fmt.Errorf("event tap start failed (code %d)", int(rc))
	}

	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	currentTap = b
	return nil
}

// Register implements Backend.
func (b *TapBackend) Register(bind Binding) (uint32, error) {
	code, ok := MacKeyCode(bind.Key)
	if !ok {
		return 0, fmt.Errorf("no key code for %q", bind.Key)
	}
	id, ok := b.match.add(chord{code: code, mods: bind.Modifiers})
	if !ok {
		return 0, fmt.Errorf("%s is already registered", bind.Chord())
	}
	return id, nil
}

// Unregister implements Backend.
func (b *TapBackend) Unregister(osID uint32) error {
	if !b.match.remove(osID) {
		return fmt.Errorf("unknown registration %d", osID)
	}
	return nil
}

// Uninstall implements Backend. It blocks until the tap thread exits.
func (b *TapBackend) Uninstall() error {
	tapMu.Lock()
	if currentTap == b {
		currentTap = nil
	}
	tapMu.Unlock()

	C.hcStopTap()

	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
	b.match.clear()
	return nil
}

// keyDown runs on the tap thread. It reports whether the event matched.
func (b *TapBackend) keyDown(code uint16, flags uint64, autorepeat bool) bool {
	osID, ok := b.match.lookup(chord{code: code, mods: macModifiers(flags)})
	if !ok {
		return false
	}
	if autorepeat {
		return true
	}

	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(osID)
	}
	return true
}
