package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/clawgate/internal/classify"
	"github.com/stellarlinkco/clawgate/internal/hooks"
	"github.com/stellarlinkco/clawgate/internal/model"
	"github.com/stellarlinkco/clawgate/internal/permission"
)

type hooksHealth struct {
	Enabled               bool   `json:"enabled"`
	ClassifierAvailable   bool   `json:"classifier_available"`
	ModelLoaded           bool   `json:"model_loaded"`
	ModelName             string `json:"model_name"`
	ClassificationLatency *int64 `json:"classification_latency_ms"`
}

type healthResponse struct {
	Status        string      `json:"status"`
	Version       string      `json:"version"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Port          int         `json:"port"`
	Hooks         hooksHealth `json:"hooks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	modelName := s.cfg.Model.Name
	if s.classifier == nil {
		modelName = "none"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.start).Seconds()),
		Port:          s.port(),
		Hooks: hooksHealth{
			Enabled:               s.hooksEnabled(),
			ClassifierAvailable:   s.classifier != nil,
			ModelLoaded:           s.manager != nil && s.manager.State() == model.StateLoaded,
			ModelName:             modelName,
			ClassificationLatency: s.lastLatency(),
		},
	})
}

// hooksEnabled prefers the handler's live policy, which tracks config
// reloads, over the startup snapshot.
func (s *Server) hooksEnabled() bool {
	if s.handler != nil {
		return s.handler.Enabled()
	}
	return s.cfg.Hooks.Enabled
}

type classifyRequest struct {
	Command string `json:"command"`
	Context string `json:"context,omitempty"`
}

type classifyResponse struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
	Timestamp      string  `json:"timestamp"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		writeError(w, http.StatusServiceUnavailable, "CRUD classifier not available",
			"Hooks system disabled or classifier failed to initialize")
		return
	}

	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Classification failed", "invalid JSON body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "Classification failed", "command is required")
		return
	}

	start := time.Now()
	res := s.classifier.Classify(r.Context(), req.Command)
	s.trackClassification(req.Command, res, time.Since(start))

	reasoning := res.Reasoning
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}
	writeJSON(w, http.StatusOK, classifyResponse{
		Classification: string(res.Classification),
		Confidence:     res.Confidence,
		Reasoning:      reasoning,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

type permissionRequestPayload struct {
	Command           string            `json:"command"`
	SkipConfirmations bool              `json:"dangerously_skip_confirmations,omitempty"`
	Context           map[string]string `json:"context,omitempty"`
}

type permissionResponse struct {
	Decision       string   `json:"decision"`
	Reasoning      string   `json:"reasoning"`
	Timestamp      string   `json:"timestamp"`
	Classification string   `json:"classification,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	ResponseTimeMs int64    `json:"response_time_ms"`
}

func (s *Server) handlePermissionRequest(w http.ResponseWriter, r *http.Request) {
	if s.handler == nil {
		writeError(w, http.StatusServiceUnavailable, "permission handler not available", "")
		return
	}

	var req permissionRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid permission request", "invalid JSON body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "invalid permission request", "command is required")
		return
	}

	// Pre-command hooks observe the request but can never block the
	// decision; their failures are logged and set aside.
	if s.executor != nil {
		payload := hooks.NewPayload(req.Command)
		for k, v := range req.Context {
			payload.WithContext(k, v)
		}
		payload.WithMetadata("request_id", requestID(r))
		if err := s.executor.Execute(r.Context(), hooks.PreCommand, payload); err != nil {
			log.Printf("[server] pre-command hooks: %v", err)
		}
	}

	resp := s.handler.Evaluate(r.Context(), permission.Request{
		Command:           req.Command,
		SkipConfirmations: req.SkipConfirmations,
		Context:           req.Context,
	})

	out := permissionResponse{
		Decision:       string(resp.Decision),
		Reasoning:      resp.Reasoning,
		Timestamp:      resp.Timestamp.Format(time.RFC3339),
		ResponseTimeMs: resp.ResponseTimeMs,
	}
	if resp.Classification != nil {
		out.Classification = string(resp.Classification.Classification)
		confidence := resp.Classification.Confidence
		out.Confidence = &confidence
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store unavailable", "")
		return
	}
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query stats failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store unavailable", "")
		return
	}

	limit := historyDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = parsed
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	records, err := s.store.Recent(limit, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query history failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type decisionsResponse struct {
	Recent               []trackedDecision `json:"recent"`
	Stats                trackStats        `json:"stats"`
	Enabled              bool              `json:"enabled"`
	ModelLoaded          bool              `json:"model_loaded"`
	ModelName            string            `json:"model_name"`
	LastClassificationMs *int64            `json:"last_classification_ms"`
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	modelName := s.cfg.Model.Name
	if s.classifier == nil {
		modelName = "none"
	}

	writeJSON(w, http.StatusOK, decisionsResponse{
		Recent:               s.recentClassifications(20),
		Stats:                s.trackSnapshot(),
		Enabled:              s.hooksEnabled(),
		ModelLoaded:          s.manager != nil && s.manager.State() == model.StateLoaded,
		ModelName:            modelName,
		LastClassificationMs: s.lastLatency(),
	})
}

type executionCompleteRequest struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

type hookFailureSummary struct {
	Hook  string `json:"hook"`
	Error string `json:"error"`
}

type executionCompleteResponse struct {
	Status   string               `json:"status"`
	Failures []hookFailureSummary `json:"failures,omitempty"`
}

// handleExecutionComplete reports how a previously gated command ran
// and fires the post-command and post-execution hooks with the result.
func (s *Server) handleExecutionComplete(w http.ResponseWriter, r *http.Request) {
	var req executionCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution report", "invalid JSON body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "invalid execution report", "command is required")
		return
	}

	payload := hooks.NewPayload(req.Command).
		WithExecution(&hooks.ExecutionResult{
			ExitCode: req.ExitCode,
			Stdout:   req.Stdout,
			Stderr:   req.Stderr,
			Duration: time.Duration(req.DurationMs) * time.Millisecond,
		}).
		WithMetadata("request_id", requestID(r))

	var failures []hookFailureSummary
	if s.executor != nil {
		for _, typ := range []hooks.HookType{hooks.PostCommand, hooks.PostExecution} {
			err := s.executor.Execute(r.Context(), typ, payload)
			if err == nil {
				continue
			}
			var execErr *hooks.ExecutionError
			if errors.As(err, &execErr) {
				for _, f := range execErr.Failures {
					failures = append(failures, hookFailureSummary{Hook: f.Hook, Error: f.Err.Error()})
				}
				continue
			}
			writeError(w, http.StatusInternalServerError, "hook dispatch failed", err.Error())
			return
		}
	}

	status := "ok"
	if len(failures) > 0 {
		status = "partial"
	}
	writeJSON(w, http.StatusOK, executionCompleteResponse{Status: status, Failures: failures})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if s.onShutdown == nil {
		writeError(w, http.StatusServiceUnavailable, "shutdown not supported", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go s.onShutdown()
}

// trackedDecision is one in-memory classification record for the
// dashboard view.
type trackedDecision struct {
	Command         string    `json:"command"`
	Classification  string    `json:"classification"`
	Timestamp       time.Time `json:"timestamp"`
	Decision        string    `json:"decision"`
	ConfidenceScore float64   `json:"confidence_score"`
}

type trackStats struct {
	TotalRequests int64 `json:"total_requests"`
	ReadCount     int64 `json:"read_count"`
	CreateCount   int64 `json:"create_count"`
	UpdateCount   int64 `json:"update_count"`
	DeleteCount   int64 `json:"delete_count"`
}

// trackClassification records a classification in the newest-first
// ring buffer and bumps the counters.
func (s *Server) trackClassification(command string, res *classify.Result, latency time.Duration) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()

	if len(s.recent) < recentTrackCap {
		s.recent = append(s.recent, trackedDecision{})
	}
	copy(s.recent[1:], s.recent)
	s.recent[0] = trackedDecision{
		Command:         command,
		Classification:  string(res.Classification),
		Timestamp:       time.Now().UTC(),
		Decision:        "APPROVED",
		ConfidenceScore: res.Confidence,
	}

	s.stats.TotalRequests++
	switch res.Classification {
	case classify.Read:
		s.stats.ReadCount++
	case classify.Create:
		s.stats.CreateCount++
	case classify.Update:
		s.stats.UpdateCount++
	case classify.Delete:
		s.stats.DeleteCount++
	}

	s.lastMs = latency.Milliseconds()
	s.hasLast = true
}

func (s *Server) recentClassifications(n int) []trackedDecision {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()

	if n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]trackedDecision, n)
	copy(out, s.recent[:n])
	return out
}

func (s *Server) trackSnapshot() trackStats {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	return s.stats
}

func (s *Server) lastLatency() *int64 {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if !s.hasLast {
		return nil
	}
	ms := s.lastMs
	return &ms
}
