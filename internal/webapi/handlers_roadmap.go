package webapi

import (
	"encoding/json"
	"net/http"

	"github.com/devswarm/devswarm/internal/state"
)

// roadmapItemView adds the dependency summary the list endpoint promises
// (§6: "count, has_unresolved").
type roadmapItemView struct {
	state.RoadmapItem
	DependencyCount  int  `json:"dependency_count"`
	HasUnresolvedDep bool `json:"has_unresolved_dependencies"`
}

func (s *Server) apiListRoadmap(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListRoadmapItems(r.URL.Query().Get("status"))
	if err != nil {
		s.jsonError(w, "failed to list roadmap items", http.StatusInternalServerError)
		return
	}

	out := make([]roadmapItemView, 0, len(items))
	for _, item := range items {
		deps, err := s.store.ListDependencies("roadmap_item", item.ID)
		if err != nil {
			s.jsonError(w, "failed to load dependencies", http.StatusInternalServerError)
			return
		}
		unresolved := false
		for _, d := range deps {
			if !d.Resolved {
				unresolved = true
				break
			}
		}
		out = append(out, roadmapItemView{RoadmapItem: item, DependencyCount: len(deps), HasUnresolvedDep: unresolved})
	}
	s.jsonResponse(w, out)
}

type createRoadmapItemRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	ResolutionMethod string `json:"resolution_method"`
}

func (s *Server) apiCreateRoadmapItem(w http.ResponseWriter, r *http.Request) {
	var req createRoadmapItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		s.jsonError(w, "title is required", http.StatusBadRequest)
		return
	}

	item, err := s.store.CreateRoadmapItem(req.Title, req.Description, nil, nil, req.ResolutionMethod)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonCreated(w, item)
}

type updateRoadmapItemRequest struct {
	Title            *string `json:"title,omitempty"`
	Description      *string `json:"description,omitempty"`
	Status           *string `json:"status,omitempty"`
	ResolutionMethod *string `json:"resolution_method,omitempty"`
}

func (s *Server) apiUpdateRoadmapItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateRoadmapItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	item, err := s.store.UpdateRoadmapItem(id, state.RoadmapItemUpdate{
		Title:            req.Title,
		Description:      req.Description,
		Status:           req.Status,
		ResolutionMethod: req.ResolutionMethod,
	})
	if err == state.ErrNotFound {
		s.jsonError(w, "roadmap item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.bus.Publish(RoadmapItemUpdateEvent{Item: *item})
	s.jsonResponse(w, item)
}

func (s *Server) apiListRoadmapDependencies(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deps, err := s.store.ListDependencies("roadmap_item", id)
	if err != nil {
		s.jsonError(w, "failed to list dependencies", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, deps)
}

type createDependencyRequest struct {
	BlockerKind string `json:"blocker_kind"`
	BlockerID   string `json:"blocker_id"`
}

func (s *Server) apiCreateRoadmapDependency(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req createDependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BlockerKind == "" {
		req.BlockerKind = "roadmap_item"
	}

	dep, err := s.store.CreateDependency(req.BlockerKind, req.BlockerID, "roadmap_item", id)
	if depErr, ok := err.(*state.DependencyError); ok {
		s.jsonBlockers(w, "dependency would introduce a cycle or self-reference", depErr.Blockers)
		return
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonCreated(w, dep)
}

func (s *Server) apiDeleteRoadmapDependency(w http.ResponseWriter, r *http.Request) {
	depID := r.PathValue("depId")
	if err := s.store.RemoveDependency(depID); err == state.ErrNotFound {
		s.jsonError(w, "dependency not found", http.StatusNotFound)
		return
	} else if err != nil {
		s.jsonError(w, "failed to remove dependency", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
