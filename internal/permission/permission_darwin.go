//go:build darwin && cgo

package permission

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework Foundation

#include <ApplicationServices/ApplicationServices.h>
#import <Foundation/Foundation.h>

static int hcAccessibilityTrusted(int prompt) {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: prompt ? @YES : @NO};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

// AccessibilityOracle reports the Accessibility trust of this process.
type AccessibilityOracle struct{}

// NewPlatformOracle returns the Accessibility oracle.
func NewPlatformOracle() Oracle { return AccessibilityOracle{} }

// Granted implements Oracle.
func (AccessibilityOracle) Granted() (bool, string) {
	if C.hcAccessibilityTrusted(0) == 1 {
		return true, ""
	}
	return false, "Accessibility permission required: System Settings > Privacy & Security > Accessibility"
}

// Prompt asks macOS to show the Accessibility dialog and reports the
// current grant.
func Prompt() bool {
	return C.hcAccessibilityTrusted(1) == 1
}
