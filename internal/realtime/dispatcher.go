package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DispatchResult counts the sessions a message reached.
type DispatchResult struct {
	Matched   int
	Delivered int
	Failed    int
}

// Dispatcher fans an update out to every session subscribed to one of its
// target channels. A failed send never removes the session.
type Dispatcher struct {
	registry *Registry
	clock    clockwork.Clock
	metrics  *metrics.RealtimeMetrics
}

func NewDispatcher(registry *Registry, clock clockwork.Clock, m *metrics.RealtimeMetrics) *Dispatcher {
	return &Dispatcher{registry: registry, clock: clock, metrics: m}
}

// Dispatch serializes msg once and queues it to every matching session.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.UpdateMessage) (DispatchResult, error) {
	var result DispatchResult
	if len(msg.TargetChannels) == 0 {
		return result, nil
	}

	data, err := encodeUpdate(msg, d.clock.Now())
	if err != nil {
		return result, fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}

	d.registry.ForEach(func(s *Session) {
		if !s.SubscribedToAny(msg.TargetChannels) {
			return
		}
		result.Matched++

		if err := s.Enqueue(data); err != nil {
			result.Failed++
			d.metrics.SendFailed(sendFailureReason(err))
			slog.WarnContext(ctx, "Dispatch to session failed",
				"session_id", s.ID().String(),
				"type", string(msg.Type),
				"error", err,
			)
			return
		}
		result.Delivered++
	})

	d.metrics.Delivered(result.Delivered)
	return result, nil
}

func sendFailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSendBufferFull):
		return "buffer_full"
	case errors.Is(err, domain.ErrSessionClosed):
		return "closed"
	default:
		return "other"
	}
}
