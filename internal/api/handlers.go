package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// defaultReportPeriod is used when a report request gives no range.
const defaultReportPeriod = 30 * 24 * time.Hour

type endpointRequest struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Network   string `json:"network"`
	ChainID   uint64 `json:"chain_id"`
	TimeoutMS int64  `json:"timeout_ms"`
	Enabled   *bool  `json:"enabled"`
	Priority  int    `json:"priority"`
}

func (req endpointRequest) endpoint() domain.Endpoint {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return domain.Endpoint{
		ID:       req.ID,
		OwnerID:  req.OwnerID,
		Name:     req.Name,
		URL:      req.URL,
		Network:  req.Network,
		ChainID:  req.ChainID,
		Timeout:  time.Duration(req.TimeoutMS) * time.Millisecond,
		Enabled:  enabled,
		Priority: req.Priority,
	}
}

type endpointView struct {
	domain.EndpointStatus
	TimeoutMS int64 `json:"timeout_ms"`
}

func (s *Server) view(ep domain.Endpoint) endpointView {
	return endpointView{
		EndpointStatus: s.deps.Prober.Status(ep),
		TimeoutMS:      ep.ProbeTimeout().Milliseconds(),
	}
}

type metricRequest struct {
	OrgID      string            `json:"org_id"`
	EndpointID string            `json:"endpoint_id"`
	Type       domain.MetricType `json:"metric_type"`
	Value      float64           `json:"value"`
	Threshold  float64           `json:"threshold"`
}

type ackRequest struct {
	By string `json:"by"`
}

func (s *Server) registerEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !decode(w, r, &req) {
		return
	}
	ep, err := s.deps.Registry.Create(r.Context(), req.endpoint())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(ep))
}

func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request) {
	eps := s.deps.Registry.List(r.URL.Query().Get("owner"))
	out := make([]endpointView, 0, len(eps))
	for _, ep := range eps {
		out = append(out, s.view(ep))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := s.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(ep))
}

func (s *Server) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	prior, err := s.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req endpointRequest
	if !decode(w, r, &req) {
		return
	}

	ep := req.endpoint()
	ep.ID = prior.ID
	if req.Enabled == nil {
		ep.Enabled = prior.Enabled
	}
	if req.URL == "" {
		ep.URL = prior.URL
	}
	if req.ChainID == 0 {
		ep.ChainID = prior.ChainID
	}
	if req.Network == "" {
		ep.Network = prior.Network
	}
	if req.TimeoutMS == 0 {
		ep.Timeout = prior.Timeout
	}

	updated, err := s.deps.Registry.Update(r.Context(), ep)
	if err != nil {
		writeError(w, err)
		return
	}
	if updated.URL != prior.URL || updated.ProbeTimeout() != prior.ProbeTimeout() {
		if _, err := s.deps.Prober.ProbeNow(r.Context(), updated.ID); err != nil {
			s.log.Warn("Re-probe after update failed", "endpoint", updated.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, s.view(updated))
}

func (s *Server) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := s.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Registry.Delete(r.Context(), ep.ID); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Prober.Forget(ep.ID)
	if s.deps.Recorder != nil {
		s.deps.Recorder.Forget(ep.ID)
	}
	if err := s.deps.Tracker.Forget(r.Context(), ep.Key()); err != nil {
		s.log.Warn("Failed to drop metric history for deleted endpoint", "endpoint", ep.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) probeNow(w http.ResponseWriter, r *http.Request) {
	ep, err := s.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sample, err := s.deps.Prober.ProbeNow(r.Context(), ep.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) recordMetric(w http.ResponseWriter, r *http.Request) {
	var req metricRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.deps.Tracker.RecordMetric(r.Context(), req.OrgID, req.EndpointID, req.Type, req.Value, req.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateReports(req.OrgID)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org := q.Get("org")
	if org == "" {
		writeErrorMessage(w, http.StatusBadRequest, "org is required")
		return
	}
	all, _ := strconv.ParseBool(q.Get("all"))
	writeJSON(w, http.StatusOK, s.deps.Tracker.Manager().Alerts(org, all))
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Tracker.Manager().Alert(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	ok, err := s.deps.Tracker.Manager().AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"), req.By)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": ok})
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org := q.Get("org")
	if org == "" {
		writeErrorMessage(w, http.StatusBadRequest, "org is required")
		return
	}

	now := s.deps.Clock.Now()
	period := domain.Period{Start: now.Add(-defaultReportPeriod), End: now}
	var err error
	if v := q.Get("from"); v != "" {
		if period.Start, err = time.Parse(time.RFC3339, v); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if period.End, err = time.Parse(time.RFC3339, v); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
	}

	cacheable := q.Get("from") != "" && q.Get("to") != ""
	key := org + "|" + period.Start.Format(time.RFC3339) + "|" + period.End.Format(time.RFC3339)
	if cacheable {
		if cached, ok := s.reports.Get(key); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	report := s.deps.Tracker.GenerateReport(r.Context(), org, period)
	if cacheable {
		s.reports.SetDefault(key, report)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) invalidateReports(org string) {
	for key := range s.reports.Items() {
		if strings.HasPrefix(key, org+"|") {
			s.reports.Delete(key)
		}
	}
}

// owned loads the endpoint in the path, scoped to the ?owner= parameter when given.
func (s *Server) owned(r *http.Request) (domain.Endpoint, error) {
	ep, err := s.deps.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		return domain.Endpoint{}, err
	}
	if owner := r.URL.Query().Get("owner"); owner != "" && owner != ep.OwnerID {
		return domain.Endpoint{}, domain.ErrNotFound
	}
	return ep, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorMessage(w, statusFor(err), err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConnectivity), errors.Is(err, domain.ErrConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
