// Package monitor tracks MPRIS media players on the session bus and sends
// transport commands to them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/medianotify/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	_playerPrefix    = "org.mpris.MediaPlayer2."
	_playerPath      = "/org/mpris/MediaPlayer2"
	_playerInterface = "org.mpris.MediaPlayer2.Player"
	_propMetadata    = _playerInterface + ".Metadata"
	_propStatus      = _playerInterface + ".PlaybackStatus"

	_eventBuffer = 32
)

// ErrStopped is returned when starting a monitor that was stopped; its
// event channel is closed for good
var ErrStopped = errors.New("monitor stopped")

// Dialer opens the D-Bus connection used by the monitor
type Dialer func() (DBusClient, error)

// DialSessionBus connects to the session bus
func DialSessionBus() (DBusClient, error) {
	return connectSessionBus()
}

// MprisMonitor monitors media players via the D-Bus MPRIS interface
type MprisMonitor struct {
	logger          *zap.Logger
	dial            Dialer
	events          chan domain.PlayerEvent
	mu              sync.RWMutex
	running         bool
	stopped         bool
	cancel          context.CancelFunc
	conn            DBusClient
	lastDropWarning time.Time
	wg              sync.WaitGroup    // Tracks active producer goroutines
	playerNames     map[string]string // Maps unique bus names (:1.45) to well-known names
}

// NewMprisMonitor creates a new MPRIS monitor instance
func NewMprisMonitor(logger *zap.Logger, dial Dialer) *MprisMonitor {
	return &MprisMonitor{
		logger:      logger,
		dial:        dial,
		events:      make(chan domain.PlayerEvent, _eventBuffer),
		playerNames: make(map[string]string),
	}
}

// Start connects to the session bus, reports the players already running and
// starts following player changes. It returns immediately (non-blocking).
func (m *MprisMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	conn, err := m.dial()
	if err != nil {
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(_playerPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(cerr))
		}
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	// Without it players are only seen at startup
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	}

	signals := make(chan *dbus.Signal, _eventBuffer)
	conn.Signal(signals)

	monitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.conn = conn
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	if err := m.detectExistingPlayers(); err != nil {
		m.logger.Warn("Failed to detect existing players", zap.Error(err))
	}

	m.wg.Add(1)
	go m.monitorSignals(monitorCtx, signals)

	m.logger.Info("MPRIS monitor started")
	return nil
}

// Stop gracefully stops the monitor
func (m *MprisMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.running = false
	m.stopped = true
	m.mu.Unlock()

	// Producers must be gone before the channel is closed
	m.wg.Wait()
	close(m.events)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.conn.Close(); err != nil {
		m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
	}

	m.logger.Info("MPRIS monitor shutdown complete")
	return nil
}

// Events returns a read-only channel of player changes
func (m *MprisMonitor) Events() <-chan domain.PlayerEvent {
	return m.events
}

// Control sends a transport command to player
func (m *MprisMonitor) Control(ctx context.Context, player string, kind domain.ActionKind) error {
	var method string
	switch kind {
	case domain.ActionPrev:
		method = "Previous"
	case domain.ActionPlay:
		method = "Play"
	case domain.ActionPause:
		method = "Pause"
	case domain.ActionNext:
		method = "Next"
	default:
		return fmt.Errorf("unsupported action kind %q", kind)
	}

	m.mu.RLock()
	conn := m.conn
	running := m.running
	m.mu.RUnlock()
	if !running {
		return fmt.Errorf("monitor not running")
	}

	if err := conn.CallMethod(ctx, player, _playerPath, _playerInterface+"."+method); err != nil {
		return fmt.Errorf("%s on %s: %w", method, player, err)
	}
	m.logger.Debug("Player command sent", zap.String("player", player), zap.String("method", method))
	return nil
}

// detectExistingPlayers queries D-Bus for currently running MPRIS players
func (m *MprisMonitor) detectExistingPlayers() error {
	names, err := m.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	count := 0
	for _, name := range names {
		if !strings.HasPrefix(name, _playerPrefix) {
			continue
		}
		count++
		m.logger.Info("Detected MPRIS player", zap.String("name", name))

		if unique, err := m.conn.GetNameOwner(name); err == nil {
			m.mu.Lock()
			m.playerNames[unique] = name
			m.mu.Unlock()
		}

		if err := m.fetchPlayerState(name); err != nil {
			m.logger.Warn("Failed to fetch initial player state",
				zap.String("player", name),
				zap.Error(err))
		}
	}

	m.logger.Info("Player detection complete", zap.Int("count", count))
	return nil
}

// fetchPlayerState reads metadata and status of a player and emits them
func (m *MprisMonitor) fetchPlayerState(player string) error {
	variant, err := m.conn.GetProperty(player, _playerPath, _propMetadata)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	// Players with nothing loaded may return an empty variant
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		m.logger.Debug("Metadata variant is not a map, skipping", zap.String("player", player))
		return nil
	}

	statusVariant, err := m.conn.GetProperty(player, _playerPath, _propStatus)
	if err != nil {
		return fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := statusVariant.Value().(string)
	if !ok {
		return fmt.Errorf("invalid playback status format")
	}

	m.emit(m.parseMetadata(player, metadata, status))
	return nil
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisMonitor) monitorSignals(ctx context.Context, signals <-chan *dbus.Signal) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Signal monitoring goroutine stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}
			if sig.Name == "org.freedesktop.DBus.NameOwnerChanged" {
				m.handleNameOwnerChanged(sig)
			} else {
				m.handleSignal(sig)
			}
		}
	}
}

// handleNameOwnerChanged tracks players appearing and disappearing
func (m *MprisMonitor) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, _playerPrefix) {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	m.mu.Lock()
	if oldOwner != "" {
		delete(m.playerNames, oldOwner)
	}
	if newOwner != "" {
		m.playerNames[newOwner] = name
	}
	m.mu.Unlock()

	switch {
	case oldOwner == "" && newOwner != "":
		m.logger.Info("New MPRIS player detected", zap.String("player", name), zap.String("unique", newOwner))
		if err := m.fetchPlayerState(name); err != nil {
			m.logger.Warn("Failed to fetch state of new player", zap.String("player", name), zap.Error(err))
		}

	case oldOwner != "" && newOwner == "":
		m.logger.Info("MPRIS player removed", zap.String("player", name), zap.String("unique", oldOwner))
		m.emit(domain.PlayerEvent{Type: domain.PlayerRemoved, Player: name})

	default:
		m.logger.Debug("MPRIS player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
	}
}

// handleSignal processes a PropertiesChanged(s interface, a{sv} changed, as invalidated) signal
func (m *MprisMonitor) handleSignal(sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || len(sig.Body) < 2 {
		return
	}

	iface, ok := sig.Body[0].(string)
	if !ok || iface != _playerInterface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	metadataVariant, hasMetadata := changed["Metadata"]
	statusVariant, hasStatus := changed["PlaybackStatus"]
	if !hasMetadata && !hasStatus {
		return
	}

	var metadata map[string]dbus.Variant
	var status string

	if hasMetadata {
		metadata, ok = metadataVariant.Value().(map[string]dbus.Variant)
		if !ok {
			m.logger.Warn("Invalid metadata format in signal, ignoring")
			return
		}
	} else if v, err := m.conn.GetProperty(sig.Sender, _playerPath, _propMetadata); err == nil {
		metadata, _ = v.Value().(map[string]dbus.Variant)
	}

	if hasStatus {
		status, ok = statusVariant.Value().(string)
		if !ok {
			m.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
	} else if v, err := m.conn.GetProperty(sig.Sender, _playerPath, _propStatus); err == nil {
		status, _ = v.Value().(string)
	}

	ev := m.parseMetadata(m.getPlayerName(sig.Sender), metadata, status)
	m.logger.Debug("Player change detected",
		zap.String("player", ev.Player),
		zap.String("title", ev.Title),
		zap.String("status", string(ev.Status)))
	m.emit(ev)
}

// parseMetadata converts MPRIS metadata to a player update
func (m *MprisMonitor) parseMetadata(player string, metadata map[string]dbus.Variant, status string) domain.PlayerEvent {
	ev := domain.PlayerEvent{Type: domain.PlayerUpdated, Player: player}

	switch status {
	case "Playing":
		ev.Status = domain.StatusPlaying
	case "Paused":
		ev.Status = domain.StatusPaused
	default:
		ev.Status = domain.StatusStopped
	}

	if metadata == nil {
		return ev
	}

	if v, ok := metadata["xesam:title"]; ok {
		ev.Title, _ = v.Value().(string)
	}

	// xesam:artist is a list; some players send a plain string
	if v, ok := metadata["xesam:artist"]; ok {
		switch artists := v.Value().(type) {
		case []string:
			ev.Artist = strings.Join(artists, ", ")
		case string:
			ev.Artist = artists
		default:
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", v.Value())))
		}
	}

	if v, ok := metadata["xesam:album"]; ok {
		ev.Album, _ = v.Value().(string)
	}
	if v, ok := metadata["mpris:artUrl"]; ok {
		ev.ArtUrl, _ = v.Value().(string)
	}

	return ev
}

// emit sends without blocking the D-Bus reader
func (m *MprisMonitor) emit(ev domain.PlayerEvent) {
	select {
	case m.events <- ev:
	default:
		m.logChannelFullWarning()
	}
}

// getPlayerName returns the well-known player name for a unique bus name.
// Falls back to the unique name if no mapping exists.
func (m *MprisMonitor) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return wellKnown
	}
	return uniqueName
}

// logChannelFullWarning is rate limited to avoid log spam during fast skipping
func (m *MprisMonitor) logChannelFullWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(m.lastDropWarning) >= warningInterval {
		m.logger.Warn("Events channel full, dropping player event")
		m.lastDropWarning = now
	}
}
