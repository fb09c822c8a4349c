//go:build linux

package vault

import (
	"context"
	"errors"
	"fmt"
	"os/user"

	"github.com/godbus/dbus/v5"
)

const (
	fprintService   = "net.reactivated.Fprint"
	fprintManager   = "/net/reactivated/Fprint/Manager"
	fprintManagerIf = "net.reactivated.Fprint.Manager"
	fprintDeviceIf  = "net.reactivated.Fprint.Device"
)

// FprintGate verifies a fingerprint through fprintd on the system bus.
type FprintGate struct {
	connect func() (*dbus.Conn, error)
}

// NewPlatformGate returns the fprintd gate.
func NewPlatformGate() Gate {
	return &FprintGate{connect: func() (*dbus.Conn, error) {
		return dbus.ConnectSystemBus()
	}}
}

func (g *FprintGate) device(conn *dbus.Conn) (dbus.BusObject, error) {
	var path dbus.ObjectPath
	err := conn.Object(fprintService, fprintManager).
		Call(fprintManagerIf+".GetDefaultDevice", 0).
		Store(&path)
	if err != nil {
		return nil, err
	}
	return conn.Object(fprintService, path), nil
}

// Available implements Gate. It requires a reader with at least one
// enrolled finger for the current user.
func (g *FprintGate) Available() bool {
	conn, err := g.connect()
	if err != nil {
		return false
	}
	defer conn.Close()

	dev, err := g.device(conn)
	if err != nil {
		return false
	}

	u, err := user.Current()
	if err != nil {
		return false
	}
	var fingers []string
	if err := dev.Call(fprintDeviceIf+".ListEnrolledFingers", 0, u.Username).Store(&fingers); err != nil {
		return false
	}
	return len(fingers) > 0
}

// Authenticate implements Gate. The reason is not shown; fprintd has no
// prompt text of its own.
func (g *FprintGate) Authenticate(ctx context.Context, _ string) error {
	conn, err := g.connect()
	if err != nil {
		return fmt.Errorf("%w: system bus: %v", ErrPlatformUnavailable, err)
	}
	defer conn.Close()

	dev, err := g.device(conn)
	if err != nil {
		return mapFprintError(err)
	}

	if err := dev.CallWithContext(ctx, fprintDeviceIf+".Claim", 0, "").Err; err != nil {
		return mapFprintError(err)
	}
	defer dev.Call(fprintDeviceIf+".Release", 0)

	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(dev.Path()),
		dbus.WithMatchInterface(fprintDeviceIf),
		dbus.WithMatchMember("VerifyStatus"),
	}
	if err := conn.AddMatchSignal(match...); err != nil {
		return &UnexpectedError{Code: -1, Err: err}
	}
	defer conn.RemoveMatchSignal(match...)

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	if err := dev.CallWithContext(ctx, fprintDeviceIf+".VerifyStart", 0, "any").Err; err != nil {
		return mapFprintError(err)
	}
	defer dev.Call(fprintDeviceIf+".VerifyStop", 0)

	for {
		select {
		case <-ctx.Done():
			return ErrUserCancelled
		case sig, ok := <-signals:
			if !ok {
				return &UnexpectedError{Code: -1, Err: errors.New("fprintd signal channel closed")}
			}
			if sig.Name != fprintDeviceIf+".VerifyStatus" || len(sig.Body) < 2 {
				continue
			}
			result, _ := sig.Body[0].(string)
			done, _ := sig.Body[1].(bool)
			if final, err := verifyOutcome(result, done); final {
				return err
			}
		}
	}
}

// verifyOutcome maps a VerifyStatus signal. final is false for retry
// prompts that leave the verification running.
func verifyOutcome(result string, done bool) (final bool, err error) {
	switch result {
	case "verify-match":
		return true, nil
	case "verify-no-match":
		return true, ErrAuthenticationFailed
	case "verify-disconnected":
		return true, ErrPlatformUnavailable
	case "verify-unknown-error":
		return true, &UnexpectedError{Code: -1, Err: errors.New(result)}
	}
	if done {
		return true, &UnexpectedError{Code: -1, Err: fmt.Errorf("fprintd: %s", result)}
	}
	return false, nil
}

func mapFprintError(err error) error {
	var name string
	var derr dbus.Error
	var pderr *dbus.Error
	switch {
	case errors.As(err, &derr):
		name = derr.Name
	case errors.As(err, &pderr):
		name = pderr.Name
	}
	switch name {
	case "net.reactivated.Fprint.Error.NoSuchDevice",
		"net.reactivated.Fprint.Error.NoEnrolledPrints",
		"net.reactivated.Fprint.Error.PermissionDenied",
		"org.freedesktop.DBus.Error.ServiceUnknown":
		return fmt.Errorf("%w: %s", ErrPlatformUnavailable, name)
	}
	if errors.Is(err, context.Canceled) {
		return ErrUserCancelled
	}
	return &UnexpectedError{Code: -1, Err: err}
}
