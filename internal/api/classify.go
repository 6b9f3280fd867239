package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/impact.report/internal/httputil"
	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l2windows"
	"github.com/banshee-data/impact.report/internal/impact/l5model"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
	"github.com/banshee-data/impact.report/internal/impact/pipeline"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

// SampleJSON is one accelerometer reading on the wire. A missing
// timestamp is synthesised from the sample's position and the model's
// sampling rate.
type SampleJSON struct {
	VehicleID string   `json:"vehicle_id,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	AccelX    float64  `json:"accel_x"`
	AccelY    float64  `json:"accel_y"`
	AccelZ    float64  `json:"accel_z"`
	Label     int      `json:"accident,omitempty"`
}

// ClassifyRequest carries exactly one window of samples.
type ClassifyRequest struct {
	VehicleID string       `json:"vehicle_id"`
	Samples   []SampleJSON `json:"samples"`
	Policy    string       `json:"policy,omitempty"`
}

// PredictRequest has the shape of ClassifyRequest but carries a recording
// of any length, possibly from several vehicles, to be windowed.
type PredictRequest = ClassifyRequest

// PredictResponse lists every classified window and any vehicle with too
// few samples for one.
type PredictResponse struct {
	ModelVersion string                `json:"model_version"`
	Predictions  []pipeline.Prediction `json:"predictions"`
	Skipped      []SkippedVehicle      `json:"skipped,omitempty"`
}

// SkippedVehicle reports a stream shorter than one window.
type SkippedVehicle struct {
	VehicleID string `json:"vehicle_id"`
	Have      int    `json:"have"`
	Need      int    `json:"need"`
}

// ModelInfo describes the loaded artifact without its trees.
type ModelInfo struct {
	ModelVersion          string                      `json:"model_version"`
	CreatedAt             time.Time                   `json:"created_at"`
	BuildVersion          string                      `json:"build_version"`
	SamplingRate          float64                     `json:"sampling_rate"`
	WindowSize            int                         `json:"window_size"`
	StepSize              int                         `json:"step_size"`
	BalancedThreshold     float64                     `json:"balanced_threshold"`
	RecallTargetThreshold float64                     `json:"recall_target_threshold"`
	TargetRecall          float64                     `json:"target_recall"`
	DefaultPolicy         string                      `json:"default_policy"`
	Features              int                         `json:"features"`
	TopFeatures           []l5model.FeatureImportance `json:"top_features"`
	Training              l7serving.TrainingMetadata  `json:"training"`
}

func (s *Server) toSamples(in []SampleJSON, vehicleID string, samplingRate float64) []l1samples.Sample {
	if vehicleID == "" {
		vehicleID = l1samples.DefaultVehicleID
	}
	out := make([]l1samples.Sample, len(in))
	for i, sj := range in {
		ts := float64(i) / samplingRate
		if sj.Timestamp != nil {
			ts = *sj.Timestamp
		}
		vid := sj.VehicleID
		if vid == "" {
			vid = vehicleID
		}
		out[i] = l1samples.Sample{
			Timestamp: ts,
			VehicleID: vid,
			AccelX:    sj.AccelX,
			AccelY:    sj.AccelY,
			AccelZ:    sj.AccelZ,
			Label:     sj.Label,
		}
	}
	return out
}

func (s *Server) resolvePolicy(raw string) (l7serving.Policy, error) {
	if raw == "" {
		return s.policy, nil
	}
	return l7serving.ParsePolicy(raw)
}

// currentModel writes a 503 and returns nil when nothing is loaded.
func (s *Server) currentModel(w http.ResponseWriter) *l7serving.Model {
	m, err := s.handle.Current()
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return nil
	}
	return m
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	policy, err := s.resolvePolicy(req.Policy)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	m := s.currentModel(w)
	if m == nil {
		return
	}

	samples := s.toSamples(req.Samples, req.VehicleID, m.Artifact().SamplingRate)
	window := l2windows.NewWindow(samples)
	if window.VehicleID == "" {
		window.VehicleID = req.VehicleID
	}
	res, err := m.Classify(window, policy)
	if err != nil {
		writeClassifyError(w, err)
		return
	}
	s.recordDetections(r, res)
	httputil.WriteJSONOK(w, res)
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	policy, err := s.resolvePolicy(req.Policy)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	m := s.currentModel(w)
	if m == nil {
		return
	}

	samples := s.toSamples(req.Samples, req.VehicleID, m.Artifact().SamplingRate)
	preds, skipped, err := pipeline.Predict(r.Context(), m, samples, policy)
	if err != nil {
		writeClassifyError(w, err)
		return
	}

	resp := PredictResponse{ModelVersion: m.Version(), Predictions: preds}
	for _, sk := range skipped {
		resp.Skipped = append(resp.Skipped, SkippedVehicle{VehicleID: sk.VehicleID, Have: sk.Have, Need: sk.Need})
	}
	if len(preds) == 0 {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	results := make([]l7serving.Result, len(preds))
	for i, p := range preds {
		results[i] = p.Result
	}
	s.recordDetections(r, results...)
	httputil.WriteJSONOK(w, resp)
}

func writeClassifyError(w http.ResponseWriter, err error) {
	var malformed *l2windows.MalformedWindowError
	var short *l2windows.DataInsufficientError
	switch {
	case errors.As(err, &malformed):
		httputil.BadRequest(w, err.Error())
	case errors.As(err, &short):
		httputil.UnprocessableEntity(w, err.Error())
	case errors.Is(err, l7serving.ErrNoModel):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) recordDetections(r *http.Request, results ...l7serving.Result) {
	if s.db == nil {
		return
	}
	for _, res := range results {
		if err := s.db.RecordDetection(r.Context(), res); err != nil {
			monitoring.Logf("api: failed to record detection for %s: %v", res.VehicleID, err)
			return
		}
	}
}

func (s *Server) modelInfo(m *l7serving.Model) ModelInfo {
	a := m.Artifact()
	return ModelInfo{
		ModelVersion:          a.ModelVersion,
		CreatedAt:             a.CreatedAt,
		BuildVersion:          a.BuildVersion,
		SamplingRate:          a.SamplingRate,
		WindowSize:            a.WindowSize,
		StepSize:              a.StepSize,
		BalancedThreshold:     a.BalancedThreshold,
		RecallTargetThreshold: a.RecallTargetThreshold,
		TargetRecall:          a.TargetRecall,
		DefaultPolicy:         s.policy.String(),
		Features:              len(a.Pipeline.FeatureColumns),
		TopFeatures:           a.Pipeline.TopFeatures(10),
		Training:              a.Training,
	}
}

func (s *Server) showModel(w http.ResponseWriter, r *http.Request) {
	m := s.currentModel(w)
	if m == nil {
		return
	}
	httputil.WriteJSONOK(w, s.modelInfo(m))
}

func (s *Server) reloadModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.handle.Reload()
	if err != nil {
		// The previous model, if any, is still serving.
		httputil.InternalServerError(w, fmt.Sprintf("reload failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.modelInfo(m))
}
