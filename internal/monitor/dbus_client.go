package monitor

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// DBusClient is the slice of the session bus the monitor talks to.
//
//go:generate mockgen -destination=mocks/dbus_client_mock.go -package=mocks github.com/genricoloni/medianotify/internal/monitor DBusClient
type DBusClient interface {
	Close() error
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)

	// ListNames returns every name currently on the bus
	ListNames() ([]string, error)

	// GetNameOwner resolves a well-known name (org.mpris.MediaPlayer2.vlc)
	// to its unique connection name (:1.45)
	GetNameOwner(name string) (string, error)

	// GetProperty reads prop ("org.mpris.MediaPlayer2.Player.Metadata")
	// from the object at path on player
	GetProperty(player, path, prop string) (dbus.Variant, error)

	// CallMethod invokes a method taking no arguments, such as
	// "org.mpris.MediaPlayer2.Player.Next", and discards the reply
	CallMethod(ctx context.Context, player, path, method string) error
}

// sessionBus is a private session bus connection. The connection is not
// shared with the notifier, so closing one leaves the other usable.
type sessionBus struct {
	*dbus.Conn
}

func connectSessionBus() (*sessionBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &sessionBus{Conn: conn}, nil
}

func (b *sessionBus) ListNames() ([]string, error) {
	var names []string
	if err := b.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("ListNames: %w", err)
	}
	return names, nil
}

func (b *sessionBus) GetNameOwner(name string) (string, error) {
	var owner string
	if err := b.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner); err != nil {
		return "", fmt.Errorf("GetNameOwner %s: %w", name, err)
	}
	return owner, nil
}

func (b *sessionBus) GetProperty(player, path, prop string) (dbus.Variant, error) {
	return b.Object(player, dbus.ObjectPath(path)).GetProperty(prop)
}

func (b *sessionBus) CallMethod(ctx context.Context, player, path, method string) error {
	return b.Object(player, dbus.ObjectPath(path)).CallWithContext(ctx, method, 0).Err
}
