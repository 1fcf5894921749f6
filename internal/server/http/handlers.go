package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/tasq/internal/services/tasks"
	"github.com/rzbill/tasq/internal/taskqueue"
	logpkg "github.com/rzbill/tasq/pkg/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req tasks.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rec, err := s.rt.Broker().Enqueue(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	taskType := chi.URLParam(r, "taskType")
	workerID := r.URL.Query().Get("workerid")
	domain := r.URL.Query().Get("domain")

	rec, err := s.rt.Broker().Poll(r.Context(), taskType, workerID, domain)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	workerID := r.URL.Query().Get("workerid")

	acked, err := s.rt.Broker().Ack(r.Context(), taskID, workerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acked": acked})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var result taskqueue.TaskResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rec, err := s.rt.Broker().UpdateTask(r.Context(), result)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type addLogReq struct {
	Message string `json:"message"`
}

func (s *Server) handleAddLog(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	var req addLogReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.rt.Broker().AddLog(r.Context(), taskID, req.Message); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.rt.Broker().GetTaskLogs(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []taskqueue.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.rt.Broker().GetTaskDetails(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePendingForWorkflow(w http.ResponseWriter, r *http.Request) {
	rec, err := s.rt.Broker().GetPendingTaskForWorkflow(r.Context(),
		chi.URLParam(r, "workflowId"), chi.URLParam(r, "taskRefName"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePendingForType(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	recs, err := s.rt.Broker().ListPendingForType(r.Context(),
		chi.URLParam(r, "taskType"), r.URL.Query().Get("startKey"), count)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []taskqueue.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	err := s.rt.Broker().RemoveTaskFromQueue(r.Context(),
		chi.URLParam(r, "taskType"), chi.URLParam(r, "taskId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQueueSizes reports depth per requested task type. Unknown types
// report zero rather than an error.
func (s *Server) handleQueueSizes(w http.ResponseWriter, r *http.Request) {
	types := r.URL.Query()["taskType"]
	sizes := make(map[string]int, len(types))
	for _, taskType := range types {
		n, err := s.rt.Broker().GetQueueSizeForTask(r.Context(), taskType)
		if err != nil {
			s.writeError(w, err)
			return
		}
		sizes[taskType] = n
	}
	writeJSON(w, http.StatusOK, sizes)
}

func (s *Server) handlePollData(w http.ResponseWriter, r *http.Request) {
	pds, err := s.rt.Broker().GetPollData(r.Context(), r.URL.Query().Get("taskType"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if pds == nil {
		pds = []taskqueue.PollData{}
	}
	writeJSON(w, http.StatusOK, pds)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps broker errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, taskqueue.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, taskqueue.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, taskqueue.ErrAlreadyQueued),
		errors.Is(err, taskqueue.ErrInvalidTransition),
		errors.Is(err, taskqueue.ErrAlreadyLeased):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", logpkg.Err(err))
	}
	msg := strings.TrimSpace(err.Error())
	writeJSON(w, status, map[string]string{"error": msg})
}
