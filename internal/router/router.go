// Package router resolves inbound button presses against the registry and
// relays them to the host.
package router

import (
	"context"
	"fmt"

	"github.com/genricoloni/medianotify/internal/domain"
	"go.uber.org/zap"
)

// State is the part of the registry the router reads and mutates
type State interface {
	Get(id int) (domain.NotificationRecord, bool)
	TogglePlaying(id int) (bool, error)
}

// Router dispatches ActionSignals. It must be driven from the control loop.
type Router struct {
	logger  *zap.Logger
	state   State
	events  domain.EventSink
	painter domain.Painter
}

// New creates an action router
func New(logger *zap.Logger, state State, events domain.EventSink, painter domain.Painter) *Router {
	return &Router{
		logger:  logger,
		state:   state,
		events:  events,
		painter: painter,
	}
}

// Route handles one button press. Prev and Next are relayed as is. Play is the
// toggle: the event carries the intent derived from the state before the toggle,
// the re-render shows the state after it.
func (r *Router) Route(ctx context.Context, sig domain.ActionSignal) error {
	rec, ok := r.state.Get(sig.ID)
	if !ok {
		return fmt.Errorf("action %s for %d: %w", sig.Kind, sig.ID, domain.ErrUnknownID)
	}

	switch sig.Kind {
	case domain.ActionPrev, domain.ActionNext:
		r.events.Deliver(domain.ActionEvent{Kind: sig.Kind, ID: sig.ID})
		return nil

	case domain.ActionPlay:
		intent := domain.ActionPlay
		if rec.IsPlaying {
			intent = domain.ActionPause
		}
		r.events.Deliver(domain.ActionEvent{Kind: intent, ID: sig.ID})

		playing, err := r.state.TogglePlaying(sig.ID)
		if err != nil {
			return err
		}
		r.logger.Debug("Play state toggled", zap.Int("id", sig.ID), zap.Bool("playing", playing))

		r.painter.Paint(ctx, sig.ID)
		return nil

	default:
		return fmt.Errorf("unsupported action kind %q", sig.Kind)
	}
}
