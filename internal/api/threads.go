package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/duckmesh/sqlagent/internal/auth"
	"github.com/duckmesh/sqlagent/internal/conversation"
)

const maxThreadIDLength = 128

type postMessageRequest struct {
	Query         string `json:"query"`
	MaxIterations *int   `json:"max_iterations"`
}

type postMessageResponse struct {
	ThreadID   string                 `json:"thread_id"`
	Response   string                 `json:"response"`
	Outcome    string                 `json:"outcome"`
	Iterations int                    `json:"iterations"`
	History    []conversation.Message `json:"history"`
}

type listMessagesResponse struct {
	ThreadID string                 `json:"thread_id"`
	Messages []conversation.Message `json:"messages"`
}

func handleCreateThread(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "agent is not configured", false, nil)
		return
	}
	newID := deps.NewThreadID
	if newID == nil {
		newID = uuid.NewString
	}
	threadID := newID()
	if _, err := deps.Agent.History(r.Context(), storeThreadID(r, threadID)); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"thread_id": threadID})
}

func handlePostMessage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "agent is not configured", false, nil)
		return
	}
	threadID, ok := threadFromPath(w, r)
	if !ok {
		return
	}

	var request postMessageRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid message request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	maxIterations := 0
	if request.MaxIterations != nil {
		if *request.MaxIterations <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MAX_ITERATIONS", "max_iterations must be positive", false, nil)
			return
		}
		maxIterations = *request.MaxIterations
	}

	resp := deps.Agent.Run(r.Context(), storeThreadID(r, threadID), request.Query, maxIterations)
	writeJSON(w, http.StatusOK, postMessageResponse{
		ThreadID:   threadID,
		Response:   resp.Text,
		Outcome:    string(resp.Outcome),
		Iterations: resp.Iterations,
		History:    resp.History,
	})
}

func handleListMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "agent is not configured", false, nil)
		return
	}
	threadID, ok := threadFromPath(w, r)
	if !ok {
		return
	}
	messages, err := deps.Agent.History(r.Context(), storeThreadID(r, threadID))
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error(), true, nil)
		return
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{ThreadID: threadID, Messages: messages})
}

func threadFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	threadID := strings.TrimSpace(r.PathValue("thread"))
	if threadID == "" || len(threadID) > maxThreadIDLength {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_THREAD_ID", "thread id must be 1-128 characters", false, nil)
		return "", false
	}
	return threadID, true
}

// storeThreadID scopes the thread to the authenticated principal, if any.
func storeThreadID(r *http.Request, threadID string) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		return principal.ScopeThreadID(threadID)
	}
	return threadID
}
