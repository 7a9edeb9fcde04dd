package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/decision"
	"github.com/promptgate/promptgate/internal/dlp"
	"github.com/promptgate/promptgate/internal/store"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeServiceError maps decision service errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, decision.ErrPayloadInvalid):
		writeError(w, http.StatusUnprocessableEntity, "PAYLOAD_INVALID", err.Error())
	default:
		s.logger.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	profileCount := 0
	if s.profiles != nil {
		profileCount = len(s.profiles.List())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "promptgate",
		"version":           decision.Version,
		"default_profile":   s.config.DLP.DefaultProfile,
		"profiles_count":    profileCount,
		"websocket_enabled": s.config.WebSocket.Enabled,
	})
}

// handlePing is the extension health check.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.decisions.Ping())
}

// handleDecision runs the full decision flow for one captured event.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decision.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.Event.App.Domain == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "event.app.domain is required")
		return
	}

	resp, err := s.decisions.Evaluate(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.WithRequestID(getRequestID(r.Context())).
		LogDecision(resp.DecisionID, resp.EventID, resp.Outcome, resp.RiskScore, len(resp.DetectorHits))

	writeJSON(w, http.StatusOK, resp)
}

// handleUserAction acknowledges client-side action reports.
func (s *Server) handleUserAction(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, s.decisions.RecordUserAction(body))
}

// handleCreateApproval opens an approval case for a blocked decision.
func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	var req decision.CreateApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.EventID == "" || req.DecisionID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "event_id and decision_id are required")
		return
	}

	info, err := s.decisions.CreateApprovalCase(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleApprovalStatus polls one approval case.
func (s *Server) handleApprovalStatus(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]

	status, err := s.decisions.GetApprovalCaseStatus(r.Context(), caseID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type detectRequest struct {
	Text         string   `json:"text"`
	Profile      string   `json:"profile,omitempty"`
	EnabledTypes []string `json:"enabled_types,omitempty"`
}

type detectResponse struct {
	Findings     []dlp.Finding     `json:"findings"`
	DetectorHits []dlp.DetectorHit `json:"detector_hits"`
	TotalCount   int               `json:"total_count"`
}

func (s *Server) detectOptions(req *detectRequest) (dlp.DetectOptions, error) {
	opts := dlp.DetectOptions{
		Profile:   req.Profile,
		MaxLength: s.config.DLP.MaxContentLength,
	}
	if opts.Profile == "" {
		opts.Profile = s.config.DLP.DefaultProfile
	}
	if len(req.EnabledTypes) > 0 {
		types := make([]dlp.FindingType, 0, len(req.EnabledTypes))
		for _, t := range req.EnabledTypes {
			ft := dlp.FindingType(t)
			if !dlp.IsValidType(ft) {
				return opts, fmt.Errorf("unknown finding type %q", t)
			}
			types = append(types, ft)
		}
		opts.EnabledTypes = types
	}
	return opts, nil
}

// handleDetect classifies text without persisting anything.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	opts, err := s.detectOptions(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	findings := s.classifier.Detect(req.Text, opts)
	if findings == nil {
		findings = []dlp.Finding{}
	}
	writeJSON(w, http.StatusOK, detectResponse{
		Findings:     findings,
		DetectorHits: dlp.FindingsToHits(findings),
		TotalCount:   dlp.TotalCount(findings),
	})
}

type maskRequest struct {
	Text    string            `json:"text"`
	Profile string            `json:"profile,omitempty"`
	Methods map[string]string `json:"methods,omitempty"`
}

type maskResponse struct {
	MaskedText   string            `json:"masked_text"`
	AppliedCount int               `json:"applied_count"`
	AppliedTypes []dlp.FindingType `json:"applied_types"`
	Findings     []dlp.Finding     `json:"findings"`
}

// handleMask detects and rewrites sensitive spans in one pass.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	s.handleRewrite(w, r, dlp.Mask)
}

// handleAnonymize replaces sensitive spans with format-valid fakes.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	s.handleRewrite(w, r, dlp.Anonymize)
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request, rewrite func(string, []dlp.Finding, dlp.MaskConfig) dlp.MaskResult) {
	var req maskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	methods, err := dlp.NewMaskConfig(req.Methods)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	opts, err := s.detectOptions(&detectRequest{Text: req.Text, Profile: req.Profile})
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	// Findings carry offsets into the normalized text, so the rewrite runs
	// against the same normalization.
	normalized := dlp.Normalize(req.Text, opts.MaxLength)
	findings := s.classifier.Detect(req.Text, opts)
	result := rewrite(normalized, findings, methods)

	if findings == nil {
		findings = []dlp.Finding{}
	}
	if result.AppliedTypes == nil {
		result.AppliedTypes = []dlp.FindingType{}
	}
	writeJSON(w, http.StatusOK, maskResponse{
		MaskedText:   result.MaskedText,
		AppliedCount: result.AppliedCount,
		AppliedTypes: result.AppliedTypes,
		Findings:     findings,
	})
}

// handleProfiles lists the registered detection profiles.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	var profiles []dlp.DetectionProfile
	if s.profiles != nil {
		profiles = s.profiles.List()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": profiles})
}

// handleRegisterProfile registers or replaces a detection profile.
func (s *Server) handleRegisterProfile(w http.ResponseWriter, r *http.Request) {
	var profile dlp.DetectionProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if profile.Name == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "name is required")
		return
	}
	for _, t := range profile.EnabledTypes {
		if !dlp.IsValidType(t) {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST",
				fmt.Sprintf("unknown finding type %q", t))
			return
		}
	}
	if len(profile.DefaultMaskConfig) > 0 {
		methods := make(map[string]string, len(profile.DefaultMaskConfig))
		for k, v := range profile.DefaultMaskConfig {
			methods[string(k)] = v
		}
		cfg, err := dlp.NewMaskConfig(methods)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		profile.DefaultMaskConfig = cfg
	}

	s.profiles.Register(profile)
	s.logger.Info("Detection profile registered",
		zap.String("profile", profile.Name),
		zap.Int("enabled_types", len(profile.EnabledTypes)))

	writeJSON(w, http.StatusCreated, profile)
}
