package api

import (
	"context"
	"net/http"
	"time"
)

const backendCheckTimeout = 2 * time.Second

// SystemStatus represents the overall health state of the monitored endpoints.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// HealthReport summarizes endpoint health.
type HealthReport struct {
	Status    SystemStatus `json:"status"`
	Endpoints int          `json:"endpoints"`
	Healthy   int          `json:"healthy"`
	Unhealthy int          `json:"unhealthy"`
	Unknown   int          `json:"unknown"`

	Backends map[string]string `json:"backends,omitempty"`
}

// CheckHealth aggregates the last probe result of every enabled endpoint and pings
// the backing stores. Endpoints not probed yet count as unknown and do not degrade
// the status; an unreachable backend does.
func (s *Server) CheckHealth(ctx context.Context) HealthReport {
	var report HealthReport
	for _, ep := range s.deps.Registry.Enabled() {
		report.Endpoints++
		h, ok := s.deps.Prober.Health(ep.ID)
		switch {
		case !ok:
			report.Unknown++
		case h.IsHealthy:
			report.Healthy++
		default:
			report.Unhealthy++
		}
	}

	backendDown := false
	if len(s.deps.Backends) > 0 {
		report.Backends = make(map[string]string, len(s.deps.Backends))
		for name, b := range s.deps.Backends {
			checkCtx, cancel := context.WithTimeout(ctx, backendCheckTimeout)
			err := b.Health(checkCtx)
			cancel()
			if err != nil {
				backendDown = true
				report.Backends[name] = err.Error()
				continue
			}
			report.Backends[name] = "ok"
		}
	}

	report.Status = StatusHealthy
	if report.Unhealthy > 0 || backendDown {
		report.Status = StatusDegraded
	}
	if report.Unhealthy > 0 && report.Healthy == 0 && report.Unknown == 0 {
		report.Status = StatusCritical
	}
	return report
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.CheckHealth(r.Context())
	status := http.StatusOK
	if report.Status == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
