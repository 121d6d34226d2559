package webapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/devswarm/devswarm/internal/state"
)

func (s *Server) apiListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgentInstances(r.URL.Query().Get("status"))
	if err != nil {
		s.jsonError(w, "failed to list agents", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, agents)
}

type mainMessageRequest struct {
	Text string `json:"text"`
}

// apiPostMainMessage injects a message directly into the running main
// agent (§6).
func (s *Server) apiPostMainMessage(w http.ResponseWriter, r *http.Request) {
	var req mainMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		s.jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	if s.sendToMainFn == nil {
		s.jsonError(w, "main agent is not running", http.StatusServiceUnavailable)
		return
	}
	if err := s.sendToMainFn(r.Context(), req.Text); err != nil {
		s.jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "sent"})
}

func (s *Server) apiListPendingQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.store.ListPendingQuestions()
	if err != nil {
		s.jsonError(w, "failed to list pending questions", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, questions)
}

type answerQuestionRequest struct {
	Response string `json:"response"`
}

func (s *Server) apiAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req answerQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	question, err := s.store.AnswerUserQuestion(id, req.Response)
	if err == state.ErrNotFound {
		s.jsonError(w, "question not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.sendToAgentFn != nil {
		if err := s.sendToAgentFn(r.Context(), question.AgentID, req.Response); err != nil {
			s.log.Warn("failed to deliver answer to asking agent", zap.String("agent_id", question.AgentID), zap.Error(err))
		}
	}

	s.jsonResponse(w, question)
}

// apiGetAgentAudit returns the durable invocation history for one agent
// instance (SPEC_FULL.md §C.1).
func (s *Server) apiGetAgentAudit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.store.ListAudit(id)
	if err != nil {
		s.jsonError(w, "failed to list audit entries", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, entries)
}
