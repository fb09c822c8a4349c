//go:build linux

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"hotcrypt/internal/logging"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// DBusNotifier posts to org.freedesktop.Notifications on the session bus.
// Each notification replaces the previous one so bursts do not pile up.
type DBusNotifier struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	appName string
	timeout time.Duration
	lastID  uint32
	logger  *logging.Logger
}

func newDesktop(appName string, timeout time.Duration, logger *logging.Logger) (Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("notify: session bus: %w", err)
	}

	var names []string
	err = conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: list bus names: %w", err)
	}
	if !hasName(names, notifyService) {
		// The service may still be D-Bus activatable.
		var activatable []string
		if err := conn.BusObject().Call("org.freedesktop.DBus.ListActivatableNames", 0).Store(&activatable); err != nil || !hasName(activatable, notifyService) {
			conn.Close()
			return nil, fmt.Errorf("notify: %s not on the session bus", notifyService)
		}
	}

	return &DBusNotifier{conn: conn, appName: appName, timeout: timeout, logger: logger}, nil
}

func hasName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// Notify implements Notifier. The call runs on its own goroutine.
func (d *DBusNotifier) Notify(title, message string) {
	go d.send(title, message)
}

func (d *DBusNotifier) send(title, message string) {
	defer d.logger.Recover("dbus notify")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uint32
	err := d.conn.Object(notifyService, notifyPath).CallWithContext(ctx,
		notifyInterface+".Notify", 0,
		d.appName,
		d.lastID,
		"",
		title,
		message,
		[]string{},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(1))},
		int32(d.timeout/time.Millisecond),
	).Store(&id)
	if err != nil {
		d.logger.Warn("desktop notification failed", "error", err)
		return
	}
	d.lastID = id
}

// Close releases the bus connection.
func (d *DBusNotifier) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Close()
}
