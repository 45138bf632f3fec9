package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/genricoloni/medianotify/internal/domain"
	"github.com/genricoloni/medianotify/internal/metadata"
	"go.uber.org/zap"
)

// Notifications is the engine surface the bridge drives
type Notifications interface {
	CreateMetadata(title, artist, albumArtRef string) (domain.MediaMetadata, error)
	ShowPlayback(ctx context.Context, id int, priority domain.Priority, meta domain.MediaMetadata, playing bool) error
	CancelNotification(ctx context.Context, id int) error
}

// PlayerEvents is the monitor surface the bridge reads
type PlayerEvents interface {
	Events() <-chan domain.PlayerEvent
}

// Settings tunes the bridge
type Settings struct {
	// Priority of player notifications
	Priority domain.Priority
	// Debounce coalesces bursts of updates, e.g. while skipping tracks; 0 disables it
	Debounce time.Duration
}

// Bridge turns player events into notifications
type Bridge struct {
	logger        *zap.Logger
	dir           *Directory
	players       PlayerEvents
	notifications Notifications
	settings      Settings

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a bridge
func New(logger *zap.Logger, dir *Directory, players PlayerEvents, notifications Notifications, settings Settings) *Bridge {
	return &Bridge{
		logger:        logger,
		dir:           dir,
		players:       players,
		notifications: notifications,
		settings:      settings,
	}
}

// Start launches the event loop in a goroutine.
// It returns immediately (non-blocking).
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.runLoop(loopCtx)
	return nil
}

// Stop stops the event loop. Notifications are left to the engine.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.cancel()
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// runLoop keeps the latest update per player and applies the batch once
// the debounce window passed without new events
func (b *Bridge) runLoop(ctx context.Context) {
	defer b.wg.Done()

	events := b.players.Events()
	timer := time.NewTimer(b.settings.Debounce)
	timer.Stop()

	pending := make(map[string]domain.PlayerEvent)
	var order []string

	flush := func() {
		for _, player := range order {
			b.apply(ctx, pending[player])
		}
		clear(pending)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				b.logger.Info("Player event channel closed")
				flush()
				return
			}

			if ev.Type == domain.PlayerRemoved {
				if _, queued := pending[ev.Player]; queued {
					delete(pending, ev.Player)
					order = removePlayer(order, ev.Player)
				}
				b.apply(ctx, ev)
				continue
			}

			if b.settings.Debounce <= 0 {
				b.apply(ctx, ev)
				continue
			}
			if _, queued := pending[ev.Player]; !queued {
				order = append(order, ev.Player)
			}
			pending[ev.Player] = ev
			timer.Reset(b.settings.Debounce)

		case <-timer.C:
			flush()
		}
	}
}

func removePlayer(order []string, player string) []string {
	for i, p := range order {
		if p == player {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// apply brings the notification of ev.Player in line with ev
func (b *Bridge) apply(ctx context.Context, ev domain.PlayerEvent) {
	logger := b.logger.With(zap.String("player", ev.Player))

	if ev.Type == domain.PlayerRemoved {
		if id, ok := b.dir.Release(ev.Player); ok {
			b.withdraw(ctx, logger, id)
		}
		return
	}

	if ev.Status == domain.StatusStopped || ev.Title == "" {
		if id, ok := b.dir.Lookup(ev.Player); ok {
			b.withdraw(ctx, logger, id)
		}
		return
	}

	// Only http(s) art can be fetched; file URLs are not served from the asset dir
	artRef := ev.ArtUrl
	if !metadata.IsRemoteURL(artRef) {
		artRef = ""
	}

	meta, err := b.notifications.CreateMetadata(ev.Title, ev.Artist, artRef)
	if err != nil {
		logger.Warn("Failed to build metadata", zap.Error(err))
		return
	}

	id := b.dir.ID(ev.Player)
	playing := ev.Status == domain.StatusPlaying
	if err := b.notifications.ShowPlayback(ctx, id, b.settings.Priority, meta, playing); err != nil {
		logger.Error("Failed to show notification", zap.Int("id", id), zap.Error(err))
	}
}

func (b *Bridge) withdraw(ctx context.Context, logger *zap.Logger, id int) {
	err := b.notifications.CancelNotification(ctx, id)
	switch {
	case err == nil:
		logger.Info("Player notification withdrawn", zap.Int("id", id))
	case errors.Is(err, domain.ErrInvalidID):
		// Never shown or already gone
	default:
		logger.Error("Failed to withdraw notification", zap.Int("id", id), zap.Error(err))
	}
}
