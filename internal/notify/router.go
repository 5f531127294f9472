package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage"
	"github.com/vietddude/rpcsla/internal/metrics"
)

// Route sends events matching every condition to a sink. A route without
// conditions matches every event.
type Route struct {
	Sink       storage.AlertSink
	Conditions []Condition
}

// Matches reports whether the route accepts the event.
func (r Route) Matches(ev domain.AlertEvent) bool {
	for _, c := range r.Conditions {
		if !c.Match(ev) {
			return false
		}
	}
	return true
}

// Router fans alert events out to the sinks whose routes match.
type Router struct {
	routes []Route
	log    *slog.Logger
}

// NewRouter creates a router.
func NewRouter(routes ...Route) *Router {
	return &Router{
		routes: routes,
		log:    slog.Default().With("component", "notify"),
	}
}

// Add appends a route.
func (r *Router) Add(route Route) {
	r.routes = append(r.routes, route)
}

func (r *Router) Name() string { return "router" }

// Deliver sends the event to every matching sink. Every sink is attempted; failures
// are logged and returned joined.
func (r *Router) Deliver(ctx context.Context, ev domain.AlertEvent) error {
	var errs []error
	for _, route := range r.routes {
		if !route.Matches(ev) {
			continue
		}
		if err := route.Sink.Deliver(ctx, ev); err != nil {
			metrics.SinkErrors.WithLabelValues(route.Sink.Name()).Inc()
			r.log.Warn("Alert delivery failed",
				"sink", route.Sink.Name(),
				"alert", ev.Alert.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", route.Sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
