package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/genricoloni/medianotify/internal/artcache"
	"github.com/genricoloni/medianotify/internal/domain"
	"github.com/genricoloni/medianotify/internal/metadata"
	"github.com/genricoloni/medianotify/internal/registry"
	"github.com/genricoloni/medianotify/internal/render"
	"github.com/genricoloni/medianotify/internal/router"
	"go.uber.org/zap"
)

// op is a unit of work executed on the control goroutine
type op func(ctx context.Context)

// Engine owns the notification state. Every registry mutation, action route
// and render happens on a single control goroutine; boundary calls are
// submitted to it and wait for their result.
type Engine struct {
	logger   *zap.Logger
	builder  *metadata.Builder
	registry *registry.Registry
	art      *artcache.Cache
	renderer *render.Renderer
	router   *router.Router
	sink     domain.NotificationSink
	source   domain.ActionSource

	ops  chan op
	done chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc

	// posted tracks ids with a visible notification; loop owned
	posted map[int]struct{}
}

// NewEngine creates a new notification engine. source may be nil when button
// presses are only injected through HandleAction.
func NewEngine(
	logger *zap.Logger,
	builder *metadata.Builder,
	reg *registry.Registry,
	art *artcache.Cache,
	renderer *render.Renderer,
	sink domain.NotificationSink,
	source domain.ActionSource,
	events domain.EventSink,
) *Engine {
	e := &Engine{
		logger:   logger,
		builder:  builder,
		registry: reg,
		art:      art,
		renderer: renderer,
		sink:     sink,
		source:   source,
		ops:      make(chan op),
		done:     make(chan struct{}),
		posted:   make(map[int]struct{}),
	}
	e.router = router.New(logger, reg, events, e)
	return e
}

// Start launches the control loop in a goroutine.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return domain.ErrEngineStopped
	}
	if e.started {
		return nil
	}

	// The loop outlives the start context
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.started = true

	var actions <-chan domain.ActionSignal
	if e.source != nil {
		actions = e.source.Actions()
	}

	e.logger.Info("Engine starting...")
	go e.runLoop(loopCtx, actions)
	return nil
}

// runLoop is the control goroutine
func (e *Engine) runLoop(ctx context.Context, actions <-chan domain.ActionSignal) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case fn := <-e.ops:
			fn(ctx)

		case sig, ok := <-actions:
			if !ok {
				e.logger.Info("Action channel closed")
				actions = nil
				continue
			}
			e.route(ctx, sig)
		}
	}
}

// do runs fn on the control goroutine and waits for its result
func (e *Engine) do(ctx context.Context, fn func(loopCtx context.Context) error) error {
	e.mu.Lock()
	running := e.started && !e.stopped
	e.mu.Unlock()
	if !running {
		return domain.ErrEngineStopped
	}

	result := make(chan error, 1)
	work := func(loopCtx context.Context) { result <- fn(loopCtx) }

	select {
	case e.ops <- work:
	case <-e.done:
		return domain.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// Accepted work always runs to completion
	return <-result
}

// enqueue hands work to the control goroutine without waiting for it.
// Used by fetch goroutines.
func (e *Engine) enqueue(fn op) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

// CreateMetadata builds immutable media metadata. A URL album art reference
// is not fetched here.
func (e *Engine) CreateMetadata(title, artist, albumArtRef string) (domain.MediaMetadata, error) {
	return e.builder.Build(title, artist, albumArtRef)
}

// ShowNotification creates or updates the notification for id. Repeating a
// call with unchanged content leaves a visible notification alone; one that
// was dismissed meanwhile is shown again.
func (e *Engine) ShowNotification(ctx context.Context, id int, priority domain.Priority, meta domain.MediaMetadata) error {
	return e.show(ctx, id, priority, meta, nil)
}

// ShowPlayback is ShowNotification with the host's play state applied in the
// same step, so a track that starts paused is posted once, with a play button.
func (e *Engine) ShowPlayback(ctx context.Context, id int, priority domain.Priority, meta domain.MediaMetadata, playing bool) error {
	return e.show(ctx, id, priority, meta, &playing)
}

func (e *Engine) show(ctx context.Context, id int, priority domain.Priority, meta domain.MediaMetadata, playing *bool) error {
	if !priority.Valid() {
		return fmt.Errorf("show %d: invalid priority %d", id, priority)
	}

	return e.do(ctx, func(loopCtx context.Context) error {
		rec, changed := e.registry.Upsert(id, priority, meta)
		if playing != nil && rec.IsPlaying != *playing {
			if err := e.registry.SetPlaying(id, *playing); err != nil {
				return err
			}
			changed = true
		}

		// A notification the platform lost is posted again even when unchanged
		if _, posted := e.posted[id]; posted && !changed && e.sink.Shown(id) {
			e.logger.Debug("Notification unchanged", zap.Int("id", id))
			return nil
		}

		e.logger.Info("Showing notification",
			zap.Int("id", id),
			zap.String("track", meta.Title),
			zap.String("artist", meta.Artist),
			zap.Stringer("priority", priority))
		return e.paint(ctx, loopCtx, id)
	})
}

// CancelNotification removes the notification for id and abandons its
// pending album art fetch
func (e *Engine) CancelNotification(ctx context.Context, id int) error {
	return e.do(ctx, func(context.Context) error {
		if !e.registry.Remove(id) {
			return fmt.Errorf("cancel %d: %w", id, domain.ErrInvalidID)
		}
		e.art.Forget(id)

		if _, shown := e.posted[id]; !shown {
			return nil
		}
		delete(e.posted, id)

		e.logger.Info("Cancelling notification", zap.Int("id", id))
		if err := e.sink.Cancel(ctx, id); err != nil {
			return fmt.Errorf("cancel %d: %w", id, err)
		}
		return nil
	})
}

// CancelAllNotifications removes every notification. It is a no-op when
// there are none.
func (e *Engine) CancelAllNotifications(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error {
		n := e.registry.RemoveAll()
		e.art.ForgetAll()
		if n == 0 {
			return nil
		}

		e.logger.Info("Cancelling all notifications", zap.Int("count", n))
		clear(e.posted)
		if err := e.sink.CancelAll(ctx); err != nil {
			return fmt.Errorf("cancel all: %w", err)
		}
		return nil
	})
}

// SetPlaybackState syncs the play state of id with the host and re-renders
// when it changed
func (e *Engine) SetPlaybackState(ctx context.Context, id int, playing bool) error {
	return e.do(ctx, func(loopCtx context.Context) error {
		rec, ok := e.registry.Get(id)
		if !ok {
			return fmt.Errorf("set playback state of %d: %w", id, domain.ErrUnknownID)
		}
		if rec.IsPlaying == playing {
			return nil
		}
		if err := e.registry.SetPlaying(id, playing); err != nil {
			return err
		}
		return e.paint(ctx, loopCtx, id)
	})
}

// HandleAction injects a button press and waits until it was routed. Presses
// for unknown ids are reported in the log and otherwise ignored.
func (e *Engine) HandleAction(ctx context.Context, sig domain.ActionSignal) error {
	return e.do(ctx, func(loopCtx context.Context) error {
		e.route(loopCtx, sig)
		return nil
	})
}

// Errors returns the channel album art fetch failures are reported on
func (e *Engine) Errors() <-chan error {
	return e.art.Errors()
}

// Paint re-renders the stored notification for id. It is called by the action
// router on the control goroutine.
func (e *Engine) Paint(ctx context.Context, id int) {
	if err := e.paint(ctx, ctx, id); err != nil {
		e.logger.Error("Failed to update notification", zap.Int("id", id), zap.Error(err))
	}
}

func (e *Engine) route(ctx context.Context, sig domain.ActionSignal) {
	e.logger.Debug("Action received", zap.String("action", string(sig.Kind)), zap.Int("id", sig.ID))

	if err := e.router.Route(ctx, sig); err != nil {
		if errors.Is(err, domain.ErrUnknownID) {
			e.logger.Debug("Ignoring action for unknown notification", zap.Error(err))
			return
		}
		e.logger.Warn("Failed to route action", zap.Error(err))
	}
}

// paint posts id when its art is available. Remote art that is not cached yet
// is fetched first and the post happens once it arrives; nothing is posted
// when the fetch fails.
func (e *Engine) paint(ctx, loopCtx context.Context, id int) error {
	rec, ok := e.registry.Get(id)
	if !ok {
		return nil
	}

	if img, ok := e.art.Lookup(rec); ok || !rec.Metadata.Art.IsRemote() {
		return e.post(ctx, rec, img)
	}

	e.art.Fetch(loopCtx, rec, func(image.Image) {
		e.enqueue(func(ctx context.Context) {
			e.paintFetched(ctx, id)
		})
	})
	return nil
}

// paintFetched runs on the control goroutine after a fetch stored its image
func (e *Engine) paintFetched(ctx context.Context, id int) {
	rec, ok := e.registry.Get(id)
	if !ok {
		e.logger.Debug("Notification cancelled while fetching album art", zap.Int("id", id))
		return
	}
	img, ok := e.art.Lookup(rec)
	if !ok {
		// Album art changed meanwhile; its own fetch will paint
		return
	}
	if err := e.post(ctx, rec, img); err != nil {
		e.logger.Error("Failed to update notification", zap.Int("id", id), zap.Error(err))
	}
}

func (e *Engine) post(ctx context.Context, rec domain.NotificationRecord, img image.Image) error {
	n := e.renderer.Render(rec, img)
	if err := e.sink.Post(ctx, n); err != nil {
		return fmt.Errorf("post %d: %w", rec.ID, err)
	}
	e.posted[rec.ID] = struct{}{}
	return nil
}

// Stop gracefully stops the engine and withdraws every visible notification
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.stopped = true
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.logger.Info("Engine stopping...")
	e.cancel()

	e.art.ForgetAll()

	select {
	case <-e.done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for control loop: %w", ctx.Err())
	}
	e.art.Wait()

	var err error
	if len(e.posted) > 0 {
		e.logger.Info("Withdrawing notifications", zap.Int("count", len(e.posted)))
		if err = e.sink.CancelAll(ctx); err != nil {
			err = fmt.Errorf("withdrawing notifications: %w", err)
		}
	}
	if n := e.registry.RemoveAll(); n > 0 {
		e.logger.Debug("Dropped notification records", zap.Int("count", n))
	}
	clear(e.posted)

	return err
}
