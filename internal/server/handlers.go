package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
	"github.com/raaihank/llm-anonymizer/internal/audit"
	"github.com/raaihank/llm-anonymizer/internal/privacy"
	"github.com/raaihank/llm-anonymizer/internal/session"
	"github.com/raaihank/llm-anonymizer/internal/websocket"
)

type anonymizeRequest struct {
	Text      string             `json:"text"`
	SessionID string             `json:"session_id,omitempty"`
	Context   string             `json:"context,omitempty"`
	Mapping   []anonymizer.Entry `json:"mapping,omitempty"`
}

type anonymizeResponse struct {
	*anonymizer.Result
	SessionID string `json:"session_id,omitempty"`
}

type documentRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type documentResponse struct {
	*anonymizer.DocumentResult
	SessionID string `json:"session_id"`
}

type deanonymizeRequest struct {
	Text      string             `json:"text"`
	SessionID string             `json:"session_id,omitempty"`
	Mapping   []anonymizer.Entry `json:"mapping,omitempty"`
}

// handleAnonymize anonymizes one message, against a session store when
// session_id is given and against the supplied mapping otherwise.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req anonymizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID != "" && len(req.Mapping) > 0 {
		writeError(w, http.StatusBadRequest, "mapping and session_id are mutually exclusive")
		return
	}
	var override privacy.ContextType
	if req.Context != "" {
		ct, ok := privacy.ParseContext(req.Context)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown context: "+req.Context)
			return
		}
		override = ct
	}

	ctx := r.Context()
	started := time.Now()
	var res *anonymizer.Result
	var err error
	if req.SessionID != "" {
		err = s.sessions.With(ctx, req.SessionID, func(store *anonymizer.Store) error {
			var aerr error
			res, aerr = s.engine.AnonymizeText(ctx, req.Text, store, override)
			return aerr
		})
	} else {
		res, err = s.engine.AnonymizeWithMapping(ctx, req.Text, req.Mapping, override)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.observe(r, req.SessionID, audit.KindText, string(res.DetectedContext), res.EntitiesFound, res.ByClass, time.Since(started))
	writeJSON(w, http.StatusOK, anonymizeResponse{Result: res, SessionID: req.SessionID})
}

// handleAnonymizeDocument anonymizes a long document chunk by chunk. A
// session is created when none is given so the output can be restored later.
func (s *Server) handleAnonymizeDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		req.SessionID = session.NewID()
	}

	ctx := r.Context()
	requestID := getRequestID(ctx)
	started := time.Now()
	var res *anonymizer.DocumentResult
	err := s.sessions.With(ctx, req.SessionID, func(store *anonymizer.Store) error {
		var aerr error
		res, aerr = s.engine.AnonymizeDocument(ctx, req.Text, store, func(percent int, message string) {
			s.hub.PublishProgress(req.SessionID, requestID, percent, message)
		})
		return aerr
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	byClass := make(map[string]int, len(res.EntitiesFound))
	for _, c := range res.EntitiesFound {
		byClass[c.Type] = c.Count
	}
	s.observe(r, req.SessionID, audit.KindDocument, string(res.DetectedContext), res.Total(), byClass, time.Since(started))
	writeJSON(w, http.StatusOK, documentResponse{DocumentResult: res, SessionID: req.SessionID})
}

func (s *Server) handleDeAnonymize(w http.ResponseWriter, r *http.Request) {
	var req deanonymizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID != "" && len(req.Mapping) > 0 {
		writeError(w, http.StatusBadRequest, "mapping and session_id are mutually exclusive")
		return
	}

	mapping := req.Mapping
	if req.SessionID != "" {
		var err error
		mapping, err = s.sessions.Mapping(r.Context(), req.SessionID)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"text": anonymizer.DeAnonymize(req.Text, mapping),
	})
}

// handleRestore streams the request body back with every placeholder of the
// session replaced by its original.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	mapping, err := s.sessions.Mapping(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)

	body := http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	restored := anonymizer.NewRestoringReader(body, mapping)
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, rerr := restored.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			s.logger.WithRequestID(getRequestID(r.Context())).Warn("Restore stream aborted", zap.Error(rerr))
			return
		}
	}
}

func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	mapping, err := s.sessions.Mapping(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"mapping":    mapping,
	})
}

// handleBurn destroys a session's mapping store.
func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.Burn(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.hub.PublishSessionBurned(id)
	s.recordAudit(r, &audit.Event{SessionID: id, Kind: audit.KindBurn, Context: string(privacy.ContextGeneral)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBurnAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.sessions.BurnAll(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"burned": n})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "audit ledger disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.ledger.Recent(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "healthy",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"entity_source_ready": s.engine.Source().Ready(),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":                "llm-anonymizer",
		"version":             Version,
		"uptime":              time.Since(s.started).Round(time.Second).String(),
		"entity_source":       s.config.EntitySource.Kind,
		"entity_source_ready": s.engine.Source().Ready(),
		"detectors":           s.engine.Detector().GetEnabledRules(),
		"session_store":       s.config.Sessions.Store,
		"rate_limit_enabled":  s.limiter != nil,
		"websocket":           s.hub.GetStats(),
	}
	if s.ledger != nil {
		if stats, err := s.ledger.GetStats(r.Context()); err == nil {
			info["audit"] = stats
		} else {
			s.logger.Warn("Failed to read audit stats", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// observe publishes and audits a finished anonymization.
func (s *Server) observe(r *http.Request, sessionID, kind, detected string, found int, byClass map[string]int, elapsed time.Duration) {
	s.hub.PublishAnonymization(sessionID, getRequestID(r.Context()), websocket.AnonymizationEvent{
		Kind:          kind,
		Context:       detected,
		EntitiesFound: found,
		ByClass:       byClass,
		DurationMS:    float64(elapsed.Microseconds()) / 1000,
	})
	s.recordAudit(r, &audit.Event{
		SessionID:     sessionID,
		Kind:          kind,
		Context:       detected,
		EntitiesFound: found,
		ByClass:       byClass,
	})
}

// recordAudit writes ev without failing the request.
func (s *Server) recordAudit(r *http.Request, ev *audit.Event) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := s.ledger.Record(ctx, ev); err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Warn("Audit event not recorded", zap.Error(err))
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return false
	}
	return true
}

// writeFailure maps err to a status code. Internal errors are logged and
// reported without detail.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
