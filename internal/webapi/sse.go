package webapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	devswarm "github.com/devswarm/devswarm"
	"github.com/devswarm/devswarm/internal/agent"
	"github.com/devswarm/devswarm/internal/state"
)

// handleSSE streams every event published on the bus to the client as a
// named Server-Sent Event, JSON-encoded (§6 event stream).
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	s.log.Debug("sse client connected")

	for {
		select {
		case <-r.Context().Done():
			s.log.Debug("sse client disconnected")
			return
		case event, ok := <-sub.C():
			if !ok {
				return
			}
			name, payload := classifySSEEvent(event)
			data, err := json.Marshal(payload)
			if err != nil {
				s.log.Warn("failed to marshal sse event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			flusher.Flush()
		}
	}
}

// ShutdownProgress is published during graceful teardown (§6).
type ShutdownProgress struct {
	Stage string `json:"stage"`
}

// RoadmapItemUpdateEvent, SpecUpdateEvent, TaskGroupUpdateEvent and
// TaskUpdateEvent wrap an entity mutated through the HTTP API so the SSE
// stream can fan it out to every connected dashboard without a client
// re-polling the list endpoints (§6: roadmap_update, spec_update,
// task_group_update, task_update). Named *Event to avoid reading like the
// state package's own *Update patch-request types.
type RoadmapItemUpdateEvent struct {
	Item state.RoadmapItem `json:"item"`
}

type SpecUpdateEvent struct {
	Spec state.Spec `json:"spec"`
}

type TaskGroupUpdateEvent struct {
	TaskGroup state.TaskGroup `json:"task_group"`
}

type TaskUpdateEvent struct {
	Task state.Task `json:"task"`
}

// classifySSEEvent maps an internal event value to its wire event name
// (§6: state, roadmap_update, spec_update, claude_update, task_group_update,
// task_update, claude_output, question, shutdown_progress).
func classifySSEEvent(event any) (string, any) {
	switch e := event.(type) {
	case devswarm.StateSnapshot:
		return "state", e
	case ShutdownProgress:
		return "shutdown_progress", e
	case RoadmapItemUpdateEvent:
		return "roadmap_update", e
	case SpecUpdateEvent:
		return "spec_update", e
	case TaskGroupUpdateEvent:
		return "task_group_update", e
	case TaskUpdateEvent:
		return "task_update", e
	case agent.Event:
		switch e.Type {
		case agent.EventQuestion:
			return "question", e
		case agent.EventOutput:
			return "claude_output", e
		default:
			return "claude_update", e
		}
	default:
		return "state", event
	}
}
