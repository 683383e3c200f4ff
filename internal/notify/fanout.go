package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/fjod/go_cart/settlement-service/internal/metrics"
)

// Publisher is one destination for order events.
type Publisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

// Sink names a publisher for metrics and errors.
type Sink struct {
	Name      string
	Publisher Publisher
}

// Fanout publishes every event to all sinks. A failing sink does not stop the
// others; their errors are joined.
type Fanout struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

func NewFanout(m *metrics.Metrics, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, metrics: m}
}

func (f *Fanout) Publish(ctx context.Context, event domain.OrderEvent) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.Publisher.Publish(ctx, event)
		f.metrics.EventPublished(s.Name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
