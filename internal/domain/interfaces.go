package domain

import (
	"context"
	"image"
)

// Fetcher defines the interface for retrieving album artwork
type Fetcher interface {
	// Fetch downloads image data from a URL
	// Returns the raw image bytes or an error
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ImageProcessor turns raw album art bytes into an image ready for use as a large icon
type ImageProcessor interface {
	// Decode decodes and scales image data
	Decode(data []byte) (image.Image, error)
}

// NotificationSink is the platform capability that shows notifications.
// Posting twice with the same id updates the notification in place.
type NotificationSink interface {
	Post(ctx context.Context, n RenderedNotification) error
	Cancel(ctx context.Context, id int) error
	CancelAll(ctx context.Context) error
	// Shown reports whether the notification for id is still on screen. It
	// turns false when the user dismissed it or the platform dropped it.
	Shown(id int) bool
}

// ActionSource delivers inbound button presses
type ActionSource interface {
	// Actions returns a read-only channel of button presses
	Actions() <-chan ActionSignal
}

// EventSink receives ActionButtonClicked events on behalf of the host
type EventSink interface {
	Deliver(ev ActionEvent)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ev ActionEvent)

// Deliver calls f(ev)
func (f EventSinkFunc) Deliver(ev ActionEvent) {
	f(ev)
}

// Painter re-renders the stored notification for an id
type Painter interface {
	Paint(ctx context.Context, id int)
}

// Monitor defines the interface for monitoring media players.
// Implementations handle D-Bus/MPRIS communication.
type Monitor interface {
	// Start connects and begins monitoring for player events.
	// It returns once monitoring runs in the background.
	Start(ctx context.Context) error

	// Stop gracefully stops the monitor
	Stop(ctx context.Context) error

	// Events returns a read-only channel that emits PlayerEvent
	// when a player's metadata, status or presence changes
	Events() <-chan PlayerEvent
}

// PlayerController sends transport commands to a media player
type PlayerController interface {
	Control(ctx context.Context, player string, kind ActionKind) error
}

// Config defines the interface for application configuration
type Config interface {
	// Channel returns the current channel tags
	Channel() Channel

	// AppName is the application name reported to the notification server
	AppName() string

	// AssetDir is the directory local album art assets are loaded from
	AssetDir() string

	// IconSize is the edge length large icons are scaled to
	IconSize() int
}
