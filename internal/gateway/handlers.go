package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/agentroute/internal/router"
)

// usageRequest is the turn-completion report from the execution engine.
// ContextTokens is a pointer so "no snapshot" is distinguishable from an
// explicit zero.
type usageRequest struct {
	SessionKey    string `json:"sessionKey"`
	SDKSessionID  string `json:"sdkSessionId,omitempty"`
	InputTokens   int64  `json:"inputTokens"`
	OutputTokens  int64  `json:"outputTokens"`
	ContextTokens *int64 `json:"contextTokens,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var params router.ResolveParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if params.PeerID == "" && params.GroupID == "" {
		writeError(w, http.StatusBadRequest, "peerId or groupId is required")
		return
	}

	route, err := s.resolver.Resolve(r.Context(), params)
	if err != nil {
		slog.Error("resolve failed", "channel", params.Channel, "account", params.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if route == nil {
		// Unrouted is not an error: the caller holds the message for
		// operator triage.
		writeJSON(w, http.StatusOK, map[string]any{"routed": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routed": true, "route": route})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionKey == "" {
		writeError(w, http.StatusBadRequest, "sessionKey is required")
		return
	}

	contextTokens := int64(-1)
	if req.ContextTokens != nil {
		contextTokens = *req.ContextTokens
	}
	if err := s.sessions.UpdateTokens(r.Context(), req.SessionKey, req.InputTokens, req.OutputTokens, contextTokens); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if req.SDKSessionID != "" {
		if err := s.sessions.UpdateSDKSessionID(r.Context(), req.SessionKey, req.SDKSessionID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")

	entries, err := func() (any, error) {
		if agent != "" {
			return s.sessions.ListByAgent(r.Context(), agent)
		}
		return s.sessions.List(r.Context())
	}()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
