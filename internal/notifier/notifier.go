// Package notifier shows rendered notifications through the freedesktop
// notification server and turns button presses back into action signals.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/medianotify/internal/domain"
	"github.com/genricoloni/medianotify/internal/render"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	_signalActionInvoked = _interface + ".ActionInvoked"
	_signalClosed        = _interface + ".NotificationClosed"
	_signalOwnerChanged  = "org.freedesktop.DBus.NameOwnerChanged"

	_actionBuffer = 10
)

// Close reasons of NotificationClosed
const (
	reasonExpired   uint32 = 1
	reasonDismissed uint32 = 2
	reasonClosed    uint32 = 3
)

// ErrNotConnected is returned when posting before Start
var ErrNotConnected = errors.New("notification server not connected")

// Dialer opens the D-Bus connection used by the notifier
type Dialer func() (DBusClient, error)

// DialSessionBus connects to the session bus
func DialSessionBus() (DBusClient, error) {
	return connectNotificationBus()
}

// Settings holds the values reported with every notification
type Settings struct {
	AppName string
	// ExpireTimeout in milliseconds; 0 keeps notifications until withdrawn
	ExpireTimeout int32
}

// imageData is the (iiibiiay) payload of the image-data hint
type imageData struct {
	Width         int32
	Height        int32
	Rowstride     int32
	HasAlpha      bool
	BitsPerSample int32
	Channels      int32
	Data          []byte
}

// Notifier implements domain.NotificationSink and domain.ActionSource
// on org.freedesktop.Notifications
type Notifier struct {
	logger   *zap.Logger
	settings Settings
	dial     Dialer
	actions  chan domain.ActionSignal

	mu              sync.Mutex
	client          DBusClient
	running         bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	serverIDs       map[int]uint32 // notification id -> server id
	appIDs          map[uint32]int // server id -> notification id
	lastDropWarning time.Time
}

// New creates a notifier. It connects on Start.
func New(logger *zap.Logger, settings Settings, dial Dialer) *Notifier {
	return &Notifier{
		logger:    logger,
		settings:  settings,
		dial:      dial,
		actions:   make(chan domain.ActionSignal, _actionBuffer),
		serverIDs: make(map[int]uint32),
		appIDs:    make(map[uint32]int),
	}
}

// Start connects to the session bus and starts listening for button presses.
// It returns immediately (non-blocking).
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return nil
	}

	client, err := n.dial()
	if err != nil {
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	if err := client.AddMatchSignal(
		dbus.WithMatchObjectPath(_objectPath),
		dbus.WithMatchInterface(_interface),
	); err != nil {
		return multierr.Append(
			fmt.Errorf("failed to add match signal: %w", err),
			client.Close(),
		)
	}

	// Notification ids die with the server
	if err := client.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, _busName),
	); err != nil {
		n.logger.Warn("Failed to watch notification server restarts", zap.Error(err))
	}

	signals := make(chan *dbus.Signal, _actionBuffer)
	client.Signal(signals)

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.client = client
	n.cancel = cancel
	n.running = true

	n.wg.Add(1)
	go n.listen(listenCtx, signals)

	n.logger.Info("Notifier connected", zap.String("app", n.settings.AppName))
	return nil
}

// Stop withdraws leftover notifications and closes the connection
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.cancel()
	n.mu.Unlock()

	n.wg.Wait()
	close(n.actions)

	n.mu.Lock()
	defer n.mu.Unlock()

	var err error
	for id, sid := range n.serverIDs {
		err = multierr.Append(err, n.client.CloseNotification(ctx, sid))
		n.forget(id, sid)
	}
	err = multierr.Append(err, n.client.Close())

	n.logger.Info("Notifier shutdown complete")
	return err
}

// Actions returns a read-only channel of button presses
func (n *Notifier) Actions() <-chan domain.ActionSignal {
	return n.actions
}

// Post shows rn, replacing the notification previously posted for the same id
func (n *Notifier) Post(ctx context.Context, rn domain.RenderedNotification) error {
	if rn.Channel.Importance == domain.ImportanceNone {
		n.logger.Debug("Channel disabled, not posting", zap.String("channel", rn.Channel.ID))
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client == nil || !n.running {
		return ErrNotConnected
	}

	replaces := n.serverIDs[rn.ID]
	args := NotifyArgs{
		AppName:       n.settings.AppName,
		ReplacesID:    replaces,
		Summary:       rn.Title,
		Body:          rn.Artist,
		Actions:       actionList(rn.Actions),
		Hints:         hints(rn, replaces != 0),
		ExpireTimeout: n.settings.ExpireTimeout,
	}

	sid, err := n.client.Notify(ctx, args)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	if replaces != 0 && replaces != sid {
		delete(n.appIDs, replaces)
	}
	n.serverIDs[rn.ID] = sid
	n.appIDs[sid] = rn.ID

	n.logger.Debug("Notification posted",
		zap.Int("id", rn.ID),
		zap.Uint32("server_id", sid),
		zap.Bool("replaced", replaces != 0))
	return nil
}

// Shown reports whether the server still displays the notification for id.
// Dismissed notifications, posts on a disabled channel and everything posted
// before a server restart are not shown.
func (n *Notifier) Shown(id int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.serverIDs[id]
	return ok
}

// Cancel withdraws the notification for id. Unknown ids are ignored.
func (n *Notifier) Cancel(ctx context.Context, id int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sid, ok := n.serverIDs[id]
	if !ok {
		return nil
	}
	n.forget(id, sid)

	if n.client == nil || !n.running {
		return ErrNotConnected
	}
	if err := n.client.CloseNotification(ctx, sid); err != nil {
		return fmt.Errorf("close notification %d: %w", id, err)
	}
	return nil
}

// CancelAll withdraws every notification posted by this notifier
func (n *Notifier) CancelAll(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client == nil || !n.running {
		clear(n.serverIDs)
		clear(n.appIDs)
		return nil
	}

	var err error
	for id, sid := range n.serverIDs {
		if cerr := n.client.CloseNotification(ctx, sid); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close notification %d: %w", id, cerr))
		}
		n.forget(id, sid)
	}
	return err
}

// forget drops both mappings; callers hold mu
func (n *Notifier) forget(id int, sid uint32) {
	delete(n.serverIDs, id)
	delete(n.appIDs, sid)
}

// listen processes notification server signals
func (n *Notifier) listen(ctx context.Context, signals <-chan *dbus.Signal) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				n.logger.Info("Notification signal channel closed")
				return
			}
			if sig == nil {
				continue
			}
			switch sig.Name {
			case _signalActionInvoked:
				n.handleActionInvoked(sig)
			case _signalClosed:
				n.handleClosed(sig)
			case _signalOwnerChanged:
				n.handleOwnerChanged(sig)
			}
		}
	}
}

// handleActionInvoked turns an ActionInvoked(u id, s key) signal into an ActionSignal
func (n *Notifier) handleActionInvoked(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	sid, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}
	key, ok := sig.Body[1].(string)
	if !ok {
		return
	}

	n.mu.Lock()
	id, known := n.appIDs[sid]
	n.mu.Unlock()
	if !known {
		// Another application's notification
		return
	}

	kind, ok := render.KindForIcon(domain.Icon(key))
	if !ok {
		n.logger.Debug("Ignoring unknown action key", zap.String("key", key), zap.Int("id", id))
		return
	}

	select {
	case n.actions <- domain.ActionSignal{Kind: kind, ID: id}:
		n.logger.Debug("Action invoked", zap.String("action", string(kind)), zap.Int("id", id))
	default:
		n.logChannelFullWarning()
	}
}

// handleClosed forgets notifications the server closed on its own so the next
// post creates a fresh one
func (n *Notifier) handleClosed(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	sid, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}
	reason, _ := sig.Body[1].(uint32)

	n.mu.Lock()
	defer n.mu.Unlock()
	id, known := n.appIDs[sid]
	if !known {
		return
	}
	n.forget(id, sid)

	switch reason {
	case reasonDismissed:
		n.logger.Info("Notification dismissed by user", zap.Int("id", id))
	case reasonExpired, reasonClosed:
		n.logger.Debug("Notification closed", zap.Int("id", id), zap.Uint32("reason", reason))
	default:
		n.logger.Debug("Notification closed for unknown reason", zap.Int("id", id), zap.Uint32("reason", reason))
	}
}

// handleOwnerChanged drops every server id when the notification server goes away
func (n *Notifier) handleOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if name != _busName || newOwner != "" {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger.Warn("Notification server disappeared", zap.Int("notifications", len(n.serverIDs)))
	clear(n.serverIDs)
	clear(n.appIDs)
}

// logChannelFullWarning is rate limited to avoid log spam during button mashing
func (n *Notifier) logChannelFullWarning() {
	n.mu.Lock()
	defer n.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(n.lastDropWarning) >= warningInterval {
		n.logger.Warn("Action channel full, dropping button press")
		n.lastDropWarning = now
	}
}

// actionList flattens the descriptors into the key/label pairs of the Notify call.
// Keys are the icon names so that the action-icons hint shows them.
func actionList(actions [3]domain.ActionDescriptor) []string {
	list := make([]string, 0, len(actions)*2)
	for _, a := range actions {
		list = append(list, string(a.Icon), actionLabel(a.Icon))
	}
	return list
}

func actionLabel(icon domain.Icon) string {
	switch icon {
	case domain.IconPrevious:
		return "Previous"
	case domain.IconPause:
		return "Pause"
	case domain.IconPlay:
		return "Play"
	case domain.IconNext:
		return "Next"
	default:
		return string(icon)
	}
}

// hints builds the Notify hints for rn
func hints(rn domain.RenderedNotification, update bool) map[string]dbus.Variant {
	h := map[string]dbus.Variant{
		"urgency":        dbus.MakeVariant(urgency(rn.Priority)),
		"action-icons":   dbus.MakeVariant(true),
		"resident":       dbus.MakeVariant(true),
		"category":       dbus.MakeVariant("x-medianotify.media"),
		"x-channel-id":   dbus.MakeVariant(rn.Channel.ID),
		"x-visibility":   dbus.MakeVariant(string(rn.Visibility)),
		"suppress-sound": dbus.MakeVariant(update && rn.OnlyAlertOnce),
	}
	if rn.LargeIcon != nil {
		h["image-data"] = dbus.MakeVariant(toImageData(rn.LargeIcon))
	}
	return h
}

// urgency maps priority onto the three freedesktop urgency levels
func urgency(p domain.Priority) byte {
	switch {
	case p < domain.PriorityDefault:
		return 0
	case p > domain.PriorityDefault:
		return 2
	default:
		return 1
	}
}

func toImageData(img image.Image) imageData {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	return imageData{
		Width:         int32(b.Dx()),
		Height:        int32(b.Dy()),
		Rowstride:     int32(nrgba.Stride),
		HasAlpha:      true,
		BitsPerSample: 8,
		Channels:      4,
		Data:          nrgba.Pix,
	}
}
