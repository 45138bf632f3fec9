package notifier

import (
	"context"

	"github.com/godbus/dbus/v5"
)

const (
	_busName    = "org.freedesktop.Notifications"
	_objectPath = "/org/freedesktop/Notifications"
	_interface  = "org.freedesktop.Notifications"
)

// NotifyArgs are the arguments of org.freedesktop.Notifications.Notify
type NotifyArgs struct {
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []string
	Hints         map[string]dbus.Variant
	ExpireTimeout int32
}

// DBusClient defines the D-Bus operations the notifier needs.
// This abstraction allows us to mock D-Bus interactions in tests.
//
//go:generate mockgen -destination=mocks/dbus_client_mock.go -package=mocks github.com/genricoloni/medianotify/internal/notifier DBusClient
type DBusClient interface {
	// Close closes the D-Bus connection
	Close() error

	// AddMatchSignal adds a signal match rule
	AddMatchSignal(options ...dbus.MatchOption) error

	// Signal registers a channel to receive D-Bus signals
	Signal(ch chan<- *dbus.Signal)

	// Notify posts or replaces a notification and returns the server's id for it
	Notify(ctx context.Context, args NotifyArgs) (uint32, error)

	// CloseNotification withdraws a notification by server id
	CloseNotification(ctx context.Context, id uint32) error
}

// notificationBus is a private session bus connection bound to the
// notification server object
type notificationBus struct {
	*dbus.Conn
	server dbus.BusObject
}

func connectNotificationBus() (*notificationBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &notificationBus{Conn: conn, server: conn.Object(_busName, _objectPath)}, nil
}

func (b *notificationBus) Notify(ctx context.Context, args NotifyArgs) (uint32, error) {
	var id uint32
	err := b.server.CallWithContext(ctx, _interface+".Notify", 0,
		args.AppName,
		args.ReplacesID,
		args.AppIcon,
		args.Summary,
		args.Body,
		args.Actions,
		args.Hints,
		args.ExpireTimeout,
	).Store(&id)
	return id, err
}

func (b *notificationBus) CloseNotification(ctx context.Context, id uint32) error {
	return b.server.CallWithContext(ctx, _interface+".CloseNotification", 0, id).Err
}
