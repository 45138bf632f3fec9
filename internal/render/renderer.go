// Package render turns notification records into platform-independent
// notification descriptions.
package render

import (
	"image"

	"github.com/genricoloni/medianotify/internal/domain"
)

// CompactActions are the actions shown in the collapsed view: all three,
// in prev/play/next order
var CompactActions = []int{0, 1, 2}

// ChannelProvider supplies the current channel tags
type ChannelProvider interface {
	Channel() domain.Channel
}

// Renderer builds RenderedNotifications
type Renderer struct {
	channels ChannelProvider
}

// NewRenderer creates a renderer tagging output with the configured channel
func NewRenderer(channels ChannelProvider) *Renderer {
	return &Renderer{channels: channels}
}

// Render describes rec as a notification with largeIcon (may be nil)
func (r *Renderer) Render(rec domain.NotificationRecord, largeIcon image.Image) domain.RenderedNotification {
	return domain.RenderedNotification{
		ID:        rec.ID,
		Title:     rec.Metadata.Title,
		Artist:    rec.Metadata.Artist,
		LargeIcon: largeIcon,
		Actions: [3]domain.ActionDescriptor{
			{Icon: domain.IconPrevious, Kind: domain.ActionPrev},
			{Icon: ToggleIcon(rec.IsPlaying), Kind: domain.ActionPlay},
			{Icon: domain.IconNext, Kind: domain.ActionNext},
		},
		CompactActions: append([]int(nil), CompactActions...),
		Priority:       rec.Priority,
		Visibility:     domain.VisibilityPublic,
		OnlyAlertOnce:  rec.OnlyAlertOnce,
		Channel:        r.channels.Channel(),
	}
}

// ToggleIcon is the middle button icon: pause while playing, play while paused
func ToggleIcon(playing bool) domain.Icon {
	if playing {
		return domain.IconPause
	}
	return domain.IconPlay
}

// KindForIcon maps a button icon back to the action it triggers
func KindForIcon(icon domain.Icon) (domain.ActionKind, bool) {
	switch icon {
	case domain.IconPrevious:
		return domain.ActionPrev, true
	case domain.IconPlay, domain.IconPause:
		return domain.ActionPlay, true
	case domain.IconNext:
		return domain.ActionNext, true
	default:
		return "", false
	}
}
