package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
	"github.com/Sternrassler/gmail-label-sync/pkg/syncer"
)

// maxLoadCount caps ?count= on load-more.
const maxLoadCount = 500

type reportResponse struct {
	SessionID  string `json:"session_id"`
	Skipped    bool   `json:"skipped"`
	Requested  int    `json:"requested"`
	Fetched    int    `json:"fetched"`
	Added      int    `json:"added"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
	HasMore    bool   `json:"has_more"`
	DurationMS int64  `json:"duration_ms"`
}

func newReportResponse(r syncer.Report) reportResponse {
	return reportResponse{
		SessionID:  r.SessionID,
		Skipped:    r.Skipped,
		Requested:  r.Requested,
		Fetched:    r.Fetched,
		Added:      r.Added,
		Failed:     r.Failed,
		Total:      r.Total,
		HasMore:    r.HasMore,
		DurationMS: r.Duration.Milliseconds(),
	}
}

type resultsResponse struct {
	Count   int               `json:"count"`
	Records []*results.Record `json:"records"`
}

type partitionsRequest struct {
	Partitions []string `json:"partitions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			s.writeError(w, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Syncer.Snapshot())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	set := s.opts.Syncer.Results()
	if set == nil {
		set = results.Set{}
	}
	s.writeJSON(w, http.StatusOK, resultsResponse{Count: len(set), Records: set})
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 || parsed > maxLoadCount {
			s.writeError(w, http.StatusBadRequest, "count must be an integer between 0 and 500")
			return
		}
		n = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	report, err := s.opts.Syncer.LoadMore(ctx, n)
	s.writeReport(w, report, err)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	report, err := s.opts.Syncer.Refresh(ctx)
	s.writeReport(w, report, err)
}

func (s *Server) writeReport(w http.ResponseWriter, report syncer.Report, err error) {
	var authErr *credential.AuthError
	switch {
	case errors.As(err, &authErr):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	case report.Skipped:
		s.writeJSON(w, http.StatusConflict, newReportResponse(report))
	default:
		s.writeJSON(w, http.StatusOK, newReportResponse(report))
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.opts.Syncer.Reset()
	s.writeJSON(w, http.StatusAccepted, s.opts.Syncer.Snapshot())
}

func (s *Server) handleSetPartitions(w http.ResponseWriter, r *http.Request) {
	var req partitionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.opts.Syncer.SetSelectedPartitions(req.Partitions)
	s.writeJSON(w, http.StatusAccepted, s.opts.Syncer.Snapshot())
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	if s.opts.Labels == nil || s.opts.Creds == nil {
		s.writeError(w, http.StatusNotImplemented, "label listing is not configured")
		return
	}

	cred, err := s.opts.Creds.EnsureValid(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	labels, err := s.opts.Labels.ListLabels(r.Context(), cred)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Label listing failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
