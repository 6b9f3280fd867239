package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/banshee-data/impact.report/internal/db"
	"github.com/banshee-data/impact.report/internal/httputil"
	"github.com/banshee-data/impact.report/internal/impact/l6eval"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// registry writes a 503 and returns false when no database is attached.
func (s *Server) registry(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "run registry disabled: start the server with --db-path")
		return false
	}
	return true
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("invalid 'limit' parameter")
	}
	return n, nil
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.registry(w) {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	runs, err := s.db.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []db.TrainingRun{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if !s.registry(w) {
		return
	}
	run, err := s.db.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, run)
}

func (s *Server) loadReport(w http.ResponseWriter, r *http.Request) *l6eval.Report {
	if !s.registry(w) {
		return nil
	}
	report, err := s.db.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return nil
	}
	return report
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if report := s.loadReport(w, r); report != nil {
		httputil.WriteJSONOK(w, report)
	}
}

func (s *Server) showDashboard(w http.ResponseWriter, r *http.Request) {
	report := s.loadReport(w, r)
	if report == nil {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := l6eval.RenderDashboard(w, report); err != nil {
		monitoring.Logf("api: dashboard render failed: %v", err)
	}
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	if !s.registry(w) {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	q := r.URL.Query()
	filter := db.DetectionFilter{VehicleID: q.Get("vehicle_id"), Limit: limit}
	if raw := q.Get("accidents"); raw != "" {
		if filter.AccidentsOnly, err = strconv.ParseBool(raw); err != nil {
			httputil.BadRequest(w, "invalid 'accidents' parameter")
			return
		}
	}
	detections, err := s.db.ListDetections(r.Context(), filter)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"count":      len(detections),
		"detections": detections,
	})
}

func writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}
