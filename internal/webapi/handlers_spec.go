package webapi

import (
	"encoding/json"
	"net/http"

	"github.com/devswarm/devswarm/internal/state"
)

// specDetailView embeds a spec's task groups with their tasks, per §6's
// "GET /api/specs/:id ... embeds task groups with their tasks".
type specDetailView struct {
	state.Spec
	TaskGroups []taskGroupView `json:"task_groups"`
}

type taskGroupView struct {
	state.TaskGroup
	Tasks []state.Task `json:"tasks"`
}

func (s *Server) apiListSpecs(w http.ResponseWriter, r *http.Request) {
	specs, err := s.store.ListSpecs(r.URL.Query().Get("status"))
	if err != nil {
		s.jsonError(w, "failed to list specs", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, specs)
}

func (s *Server) apiGetSpec(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	spec, err := s.store.GetSpec(id)
	if err == state.ErrNotFound {
		s.jsonError(w, "spec not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, "failed to load spec", http.StatusInternalServerError)
		return
	}

	groups, err := s.store.ListTaskGroups(id)
	if err != nil {
		s.jsonError(w, "failed to load task groups", http.StatusInternalServerError)
		return
	}
	views := make([]taskGroupView, 0, len(groups))
	for _, g := range groups {
		tasks, err := s.store.ListTasks(g.ID)
		if err != nil {
			s.jsonError(w, "failed to load tasks", http.StatusInternalServerError)
			return
		}
		views = append(views, taskGroupView{TaskGroup: g, Tasks: tasks})
	}

	s.jsonResponse(w, specDetailView{Spec: *spec, TaskGroups: views})
}

type createSpecRequest struct {
	RoadmapItemID string `json:"roadmap_item_id"`
	Content       string `json:"content"`
	IssueNumber   string `json:"issue_number"`
	Title         string `json:"title"`
}

func (s *Server) apiCreateSpec(w http.ResponseWriter, r *http.Request) {
	var req createSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RoadmapItemID == "" {
		s.jsonError(w, "roadmap_item_id is required", http.StatusBadRequest)
		return
	}

	spec, err := s.store.CreateSpec(req.RoadmapItemID, req.Content, req.IssueNumber, req.Title)
	if err == state.ErrNotFound {
		s.jsonError(w, "roadmap item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.SetRoadmapItemSpec(req.RoadmapItemID, spec.ID); err != nil {
		s.log.Warn("failed to link roadmap item to new spec")
	}
	s.jsonCreated(w, spec)
}

type updateSpecRequest struct {
	Content      *string `json:"content,omitempty"`
	Status       *string `json:"status,omitempty"`
	WorktreeName *string `json:"worktree_name,omitempty"`
	BranchName   *string `json:"branch_name,omitempty"`
}

// apiUpdateSpec applies a PATCH. Setting status=approved requires the
// roadmap item to have no unresolved dependencies (400 with blocker list
// otherwise); setting status=done triggers a best-effort push of main
// (§6).
func (s *Server) apiUpdateSpec(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Status != nil && *req.Status == state.SpecApproved {
		current, err := s.store.GetSpec(id)
		if err == state.ErrNotFound {
			s.jsonError(w, "spec not found", http.StatusNotFound)
			return
		}
		if err != nil {
			s.jsonError(w, "failed to load spec", http.StatusInternalServerError)
			return
		}
		blockers, err := s.store.GetDependenciesWithDetails("roadmap_item", current.RoadmapItemID)
		if err != nil {
			s.jsonError(w, "failed to load dependencies", http.StatusInternalServerError)
			return
		}
		if len(blockers) > 0 {
			s.jsonBlockers(w, "roadmap item has unresolved dependencies", blockers)
			return
		}
	}

	spec, err := s.store.UpdateSpec(id, state.SpecUpdate{
		Content:      req.Content,
		Status:       req.Status,
		WorktreeName: req.WorktreeName,
		BranchName:   req.BranchName,
	})
	if err == state.ErrNotFound {
		s.jsonError(w, "spec not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Status != nil && *req.Status == state.SpecDone {
		go func() {
			if err := s.pushMainBestEffort(); err != nil {
				s.log.Warn("best-effort push of main failed after spec done")
			}
		}()
	}

	s.bus.Publish(SpecUpdateEvent{Spec: *spec})
	s.jsonResponse(w, spec)
}

// conversationView embeds a conversation thread's messages, mirroring the
// spec-with-task-groups nesting above.
type conversationView struct {
	state.Conversation
	Messages []state.ConversationMessage `json:"messages"`
}

// apiListSpecConversations returns every notification thread recorded
// against a spec (validation failures, merge conflicts; SPEC_FULL.md §C.1).
func (s *Server) apiListSpecConversations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conversations, err := s.store.ListConversations(id)
	if err != nil {
		s.jsonError(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}

	out := make([]conversationView, 0, len(conversations))
	for _, c := range conversations {
		messages, err := s.store.ListConversationMessages(c.ID)
		if err != nil {
			s.jsonError(w, "failed to load conversation messages", http.StatusInternalServerError)
			return
		}
		out = append(out, conversationView{Conversation: c, Messages: messages})
	}
	s.jsonResponse(w, out)
}

func (s *Server) apiCreateTaskGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpecID      string `json:"spec_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Sequence    int    `json:"sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	group, err := s.store.CreateTaskGroup(req.SpecID, req.Name, req.Description, req.Sequence)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonCreated(w, group)
}

func (s *Server) apiUpdateTaskGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	group, err := s.store.UpdateTaskGroupStatus(id, req.Status)
	if err == state.ErrNotFound {
		s.jsonError(w, "task group not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.bus.Publish(TaskGroupUpdateEvent{TaskGroup: *group})
	s.jsonResponse(w, group)
}

func (s *Server) apiCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GroupID     string `json:"group_id"`
		Description string `json:"description"`
		Sequence    int    `json:"sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	task, err := s.store.CreateTask(req.GroupID, req.Description, req.Sequence)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonCreated(w, task)
}

func (s *Server) apiUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Status     *string `json:"status,omitempty"`
		CommitHash *string `json:"commit_hash,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	task, err := s.store.UpdateTask(id, state.TaskUpdate{Status: req.Status, CommitHash: req.CommitHash})
	if err == state.ErrNotFound {
		s.jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.bus.Publish(TaskUpdateEvent{Task: *task})
	s.jsonResponse(w, task)
}
