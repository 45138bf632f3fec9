package domain

import (
	"fmt"
	"image"
	"strings"
)

// Priority is the display priority of a notification
type Priority int

const (
	// PriorityMin is for items that may only show up in detailed logs
	PriorityMin Priority = -2
	// PriorityLow is for less important items
	PriorityLow Priority = -1
	// PriorityDefault is the priority to use when nothing else applies
	PriorityDefault Priority = 0
	// PriorityHigh is for more important notifications
	PriorityHigh Priority = 1
	// PriorityMax is for items that require prompt attention
	PriorityMax Priority = 2
)

var priorityNames = map[Priority]string{
	PriorityMin:     "Min",
	PriorityLow:     "Low",
	PriorityDefault: "Default",
	PriorityHigh:    "High",
	PriorityMax:     "Max",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Valid reports whether p is one of the five named priorities
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority maps a priority name (case-insensitive) to its value
func ParsePriority(name string) (Priority, error) {
	for p, n := range priorityNames {
		if strings.EqualFold(n, name) {
			return p, nil
		}
	}
	return PriorityDefault, fmt.Errorf("unknown priority %q", name)
}

// Importance is the importance level of the notification channel
type Importance string

const (
	ImportanceDefault     Importance = "Default"
	ImportanceHigh        Importance = "High"
	ImportanceLow         Importance = "Low"
	ImportanceMax         Importance = "Max"
	ImportanceMin         Importance = "Min"
	ImportanceNone        Importance = "None"
	ImportanceUnspecified Importance = "Unspecified"
)

// Importances lists every accepted channel importance
var Importances = []Importance{
	ImportanceDefault,
	ImportanceHigh,
	ImportanceLow,
	ImportanceMax,
	ImportanceMin,
	ImportanceNone,
	ImportanceUnspecified,
}

// ParseImportance validates an importance name
func ParseImportance(name string) (Importance, error) {
	for _, imp := range Importances {
		if string(imp) == name {
			return imp, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidImportance, name)
}

// ActionKind identifies a transport button or the intent relayed to the host
type ActionKind string

const (
	// ActionPrev is the "previous track" button
	ActionPrev ActionKind = "prev"
	// ActionPlay is the play/pause toggle button, and the intent to start playing
	ActionPlay ActionKind = "play"
	// ActionPause is the intent to pause; only ever emitted, never received
	ActionPause ActionKind = "pause"
	// ActionNext is the "next track" button
	ActionNext ActionKind = "next"
)

// ActionSignal is an inbound button press
type ActionSignal struct {
	Kind ActionKind
	ID   int
}

// ActionEvent is the outbound ActionButtonClicked event delivered to the host
type ActionEvent struct {
	Kind ActionKind
	ID   int
}

// LocalAsset is album art loaded from the host's bundled assets
type LocalAsset struct {
	Name  string
	Image image.Image
}

// AlbumArt holds either a remote URL or a decoded local asset, never both.
// A zero AlbumArt means the notification has no large icon.
type AlbumArt struct {
	URL   string
	Asset *LocalAsset
}

// IsRemote reports whether the art must be fetched over the network
func (a AlbumArt) IsRemote() bool {
	return a.URL != ""
}

// IsEmpty reports whether no album art was supplied
func (a AlbumArt) IsEmpty() bool {
	return a.URL == "" && a.Asset == nil
}

// Source returns the reference the art was created from
func (a AlbumArt) Source() string {
	switch {
	case a.URL != "":
		return a.URL
	case a.Asset != nil:
		return "asset:" + a.Asset.Name
	default:
		return ""
	}
}

// MediaMetadata describes the media shown in a notification
type MediaMetadata struct {
	// Title of the media
	Title string
	// Artist name
	Artist string
	// Art is the album art reference
	Art AlbumArt
}

// ArtCache is a fetched album art image together with the URL it came from
type ArtCache struct {
	Source string
	Image  image.Image
}

// NotificationRecord is the stored state of one notification id
type NotificationRecord struct {
	ID            int
	Priority      Priority
	Metadata      MediaMetadata
	IsPlaying     bool
	ArtCache      *ArtCache
	OnlyAlertOnce bool
}

// Icon is a freedesktop icon name used for action buttons
type Icon string

const (
	IconPrevious Icon = "media-skip-backward"
	IconPlay     Icon = "media-playback-start"
	IconPause    Icon = "media-playback-pause"
	IconNext     Icon = "media-skip-forward"
)

// Visibility controls how much of a notification shows on a locked screen
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilitySecret  Visibility = "secret"
)

// ActionDescriptor is one button of a rendered notification
type ActionDescriptor struct {
	Icon Icon
	Kind ActionKind
}

// Channel carries the tags of the channel a notification is delivered on
type Channel struct {
	ID         string
	Name       string
	Importance Importance
}

// RenderedNotification is the platform-independent description of a
// notification ready to be posted
type RenderedNotification struct {
	ID             int
	Title          string
	Artist         string
	LargeIcon      image.Image
	Actions        [3]ActionDescriptor
	CompactActions []int
	Priority       Priority
	Visibility     Visibility
	OnlyAlertOnce  bool
	Channel        Channel
}

// PlayerStatus represents the current state of an MPRIS media player
type PlayerStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlayerStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlayerStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlayerStatus = "Stopped"
)

// PlayerEventType distinguishes metadata updates from player removal
type PlayerEventType int

const (
	PlayerUpdated PlayerEventType = iota
	PlayerRemoved
)

// PlayerEvent is emitted by the MPRIS monitor when a player changes
type PlayerEvent struct {
	Type PlayerEventType
	// Player is the well-known bus name, e.g. org.mpris.MediaPlayer2.spotify
	Player string
	Title  string
	Artist string
	Album  string
	// ArtUrl is the URL or local path to the album artwork
	ArtUrl string
	Status PlayerStatus
}
