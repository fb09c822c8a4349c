//go:build darwin && cgo

package vault

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework Foundation -framework LocalAuthentication

#include <stdlib.h>
#import <Foundation/Foundation.h>
#import <LocalAuthentication/LocalAuthentication.h>

static int hc_biometry_status(void) {
    LAContext *ctx = [[LAContext alloc] init];
    NSError *error = nil;
    if ([ctx canEvaluatePolicy:LAPolicyDeviceOwnerAuthenticationWithBiometrics error:&error]) {
        return 0;
    }
    return error != nil ? (int)error.code : -1;
}

static void *hc_context_new(void) {
    return (__bridge_retained void *)[[LAContext alloc] init];
}

static void hc_context_invalidate(void *ref) {
    LAContext *ctx = (__bridge LAContext *)ref;
    [ctx invalidate];
}

static void hc_context_free(void *ref) {
    LAContext *ctx = (__bridge_transfer LAContext *)ref;
    ctx = nil;
}

// hc_evaluate blocks until the prompt completes and returns 0 on success or
// the LAError code.
static int hc_evaluate(void *ref, const char *reason) {
    LAContext *ctx = (__bridge LAContext *)ref;
    NSString *text = [NSString stringWithUTF8String:reason];
    __block int result = 0;
    dispatch_semaphore_t done = dispatch_semaphore_create(0);

    [ctx evaluatePolicy:LAPolicyDeviceOwnerAuthenticationWithBiometrics
        localizedReason:text
                  reply:^(BOOL success, NSError *error) {
        result = success ? 0 : (error != nil ? (int)error.code : -1);
        dispatch_semaphore_signal(done);
    }];

    dispatch_semaphore_wait(done, DISPATCH_TIME_FOREVER);
    return result;
}
*/
import "C"

import (
	"context"
	"fmt"
	"unsafe"
)

// LAError codes from LocalAuthentication.
const (
	laErrorAuthenticationFailed = -1
	laErrorUserCancel           = -2
	laErrorUserFallback         = -3
	laErrorSystemCancel         = -4
	laErrorPasscodeNotSet       = -5
	laErrorBiometryNotAvailable = -6
	laErrorBiometryNotEnrolled  = -7
	laErrorBiometryLockout      = -8
	laErrorAppCancel            = -9
	laErrorInvalidContext       = -10
)

// TouchIDGate prompts for Touch ID through LocalAuthentication.
type TouchIDGate struct{}

// NewPlatformGate returns the Touch ID gate.
func NewPlatformGate() Gate { return TouchIDGate{} }

// Available implements Gate.
func (TouchIDGate) Available() bool {
	return C.hc_biometry_status() == 0
}

// Authenticate implements Gate. Cancelling ctx invalidates the context,
// which dismisses the prompt and yields ErrUserCancelled.
func (TouchIDGate) Authenticate(ctx context.Context, reason string) error {
	ref := C.hc_context_new()
	defer C.hc_context_free(ref)

	creason := C.CString(reason)
	defer C.free(unsafe.Pointer(creason))

	result := make(chan int, 1)
	go func() {
		result <- int(C.hc_evaluate(ref, creason))
	}()

	var code int
	select {
	case code = <-result:
	case <-ctx.Done():
		C.hc_context_invalidate(ref)
		code = <-result
	}
	return mapLAError(code)
}

func mapLAError(code int) error {
	switch code {
	case 0:
		return nil
	case laErrorUserCancel, laErrorSystemCancel, laErrorAppCancel, laErrorUserFallback, laErrorInvalidContext:
		return ErrUserCancelled
	case laErrorAuthenticationFailed, laErrorBiometryLockout:
		return ErrAuthenticationFailed
	case laErrorPasscodeNotSet, laErrorBiometryNotAvailable, laErrorBiometryNotEnrolled:
		return ErrPlatformUnavailable
	default:
		return &UnexpectedError{Code: code, Err: fmt.Errorf("LocalAuthentication error %d", code)}
	}
}
