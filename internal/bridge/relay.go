package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/medianotify/internal/domain"
	"go.uber.org/zap"
)

const (
	_commandBuffer  = 16
	_commandTimeout = 5 * time.Second
)

// Relay is the EventSink of the daemon: it forwards ActionButtonClicked
// events to the player owning the notification. Deliver never blocks; the
// D-Bus calls happen on the relay's own goroutine.
type Relay struct {
	logger     *zap.Logger
	dir        *Directory
	controller domain.PlayerController
	commands   chan domain.ActionEvent

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRelay creates a relay sending commands through controller
func NewRelay(logger *zap.Logger, dir *Directory, controller domain.PlayerController) *Relay {
	return &Relay{
		logger:     logger,
		dir:        dir,
		controller: controller,
		commands:   make(chan domain.ActionEvent, _commandBuffer),
	}
}

// Deliver queues ev for its player
func (r *Relay) Deliver(ev domain.ActionEvent) {
	select {
	case r.commands <- ev:
	default:
		r.logger.Warn("Command queue full, dropping button press",
			zap.String("action", string(ev.Kind)),
			zap.Int("id", ev.ID))
	}
}

// Start launches the command worker
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.run(workerCtx)
	return nil
}

// Stop waits for the command in flight, if any. Queued commands are dropped.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.commands:
			r.send(ctx, ev)
		}
	}
}

func (r *Relay) send(ctx context.Context, ev domain.ActionEvent) {
	player, ok := r.dir.Player(ev.ID)
	if !ok {
		r.logger.Debug("No player for notification", zap.Int("id", ev.ID))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, _commandTimeout)
	defer cancel()

	if err := r.controller.Control(ctx, player, ev.Kind); err != nil {
		r.logger.Warn("Failed to control player",
			zap.String("player", player),
			zap.String("action", string(ev.Kind)),
			zap.Error(err))
		return
	}
	r.logger.Info("Player command sent",
		zap.String("player", player),
		zap.String("action", string(ev.Kind)))
}
