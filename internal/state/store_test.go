package state

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.sqlite"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSlugifyIdempotent(t *testing.T) {
	slug := slugify("Fix the Login Bug!!!")
	again := slugify(slug)
	if slug != again {
		t.Fatalf("slugify not idempotent: %q -> %q", slug, again)
	}
}

func TestSemanticSpecIDIssueDeterministic(t *testing.T) {
	a := semanticSpecID("10", "Fix login bug")
	b := semanticSpecID("10", "Fix login bug")
	if a != b {
		t.Fatalf("expected deterministic issue-based id, got %q and %q", a, b)
	}
	if a[:4] != "iss-" {
		t.Fatalf("expected iss- prefix, got %q", a)
	}
}

func TestSemanticSpecIDLiveUnique(t *testing.T) {
	a := semanticSpecID("", "Ad hoc work")
	b := semanticSpecID("", "Ad hoc work")
	if a == b {
		t.Fatalf("expected unique suffixes for non-issue specs, got identical %q", a)
	}
	if a[:5] != "live-" {
		t.Fatalf("expected live- prefix, got %q", a)
	}
}

// Scenario A, store side: a dependency between two issue-backed roadmap
// items resolves once the blocker is marked done (issue sync itself is not
// exercised here).
func TestDependencyResolutionOnRoadmapDone(t *testing.T) {
	s := newTestStore(t)

	issue10, issue11 := "10", "11"
	blocked, err := s.CreateRoadmapItem("Fix A", "", &issue10, nil, ResolutionMergeAndPush)
	if err != nil {
		t.Fatalf("create blocked: %v", err)
	}
	blocker, err := s.CreateRoadmapItem("Fix B", "", &issue11, nil, ResolutionMergeAndPush)
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	if _, err := s.CreateDependency("roadmap_item", blocker.ID, "roadmap_item", blocked.ID); err != nil {
		t.Fatalf("create dependency: %v", err)
	}

	has, err := s.HasUnresolvedDependencies("roadmap_item", blocked.ID)
	if err != nil {
		t.Fatalf("has unresolved: %v", err)
	}
	if !has {
		t.Fatalf("expected unresolved dependency before blocker done")
	}

	if _, err := s.UpdateRoadmapItem(blocker.ID, RoadmapItemUpdate{Status: ptr(RoadmapDone)}); err != nil {
		t.Fatalf("mark blocker done: %v", err)
	}

	has, err = s.HasUnresolvedDependencies("roadmap_item", blocked.ID)
	if err != nil {
		t.Fatalf("has unresolved after: %v", err)
	}
	if has {
		t.Fatalf("expected dependency resolved once blocker is done")
	}
}

func TestCreateDependencyRejectsSelfReference(t *testing.T) {
	s := newTestStore(t)
	item, err := s.CreateRoadmapItem("Solo", "", nil, nil, ResolutionManual)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = s.CreateDependency("roadmap_item", item.ID, "roadmap_item", item.ID)
	if !errors.Is(err, ErrDependencyBlocked) {
		t.Fatalf("expected ErrDependencyBlocked, got %v", err)
	}
}

func TestCreateDependencyRejectsCycle(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.CreateRoadmapItem("A", "", nil, nil, ResolutionManual)
	b, _ := s.CreateRoadmapItem("B", "", nil, nil, ResolutionManual)

	if _, err := s.CreateDependency("roadmap_item", a.ID, "roadmap_item", b.ID); err != nil {
		t.Fatalf("create first edge: %v", err)
	}
	_, err := s.CreateDependency("roadmap_item", b.ID, "roadmap_item", a.ID)
	if !errors.Is(err, ErrDependencyBlocked) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
}

func TestSpecTransitionMonotonic(t *testing.T) {
	if !ValidSpecTransition(SpecDraft, SpecPendingReview) {
		t.Fatalf("expected draft -> pending_review to be valid")
	}
	if ValidSpecTransition(SpecApproved, SpecDraft) {
		t.Fatalf("expected approved -> draft to be rejected (non-monotonic)")
	}
	if !ValidSpecTransition(SpecInProgress, SpecError) {
		t.Fatalf("expected any non-terminal -> error to be valid")
	}
	if ValidSpecTransition(SpecDone, SpecError) {
		t.Fatalf("expected done to be terminal")
	}
}

func TestUpdateSpecRequiresWorktreeAtInProgress(t *testing.T) {
	s := newTestStore(t)
	item, _ := s.CreateRoadmapItem("Item", "", nil, nil, ResolutionMergeAndPush)
	spec, err := s.CreateSpec(item.ID, "content", "", "Item")
	if err != nil {
		t.Fatalf("create spec: %v", err)
	}

	if _, err := s.UpdateSpec(spec.ID, SpecUpdate{Status: ptr(SpecPendingReview)}); err != nil {
		t.Fatalf("draft -> pending_review: %v", err)
	}
	if _, err := s.UpdateSpec(spec.ID, SpecUpdate{Status: ptr(SpecApproved)}); err != nil {
		t.Fatalf("pending_review -> approved: %v", err)
	}

	if _, err := s.UpdateSpec(spec.ID, SpecUpdate{Status: ptr(SpecInProgress)}); err == nil {
		t.Fatalf("expected error moving to in_progress without worktree/branch")
	}

	worktree, branch := "spec-"+spec.ID, "devswarm/spec-"+spec.ID
	updated, err := s.UpdateSpec(spec.ID, SpecUpdate{Status: ptr(SpecInProgress), WorktreeName: &worktree, BranchName: &branch})
	if err != nil {
		t.Fatalf("move to in_progress with worktree: %v", err)
	}
	if updated.Status != SpecInProgress {
		t.Fatalf("expected in_progress, got %s", updated.Status)
	}
}

func TestCreateSpecMissingRoadmapItem(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateSpec("does-not-exist", "content", "", "Title")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAllTaskGroupsDone(t *testing.T) {
	s := newTestStore(t)
	item, _ := s.CreateRoadmapItem("Item", "", nil, nil, ResolutionMergeAndPush)
	spec, _ := s.CreateSpec(item.ID, "content", "", "Item")

	done, err := s.AllTaskGroupsDone(spec.ID)
	if err != nil {
		t.Fatalf("all done with zero groups: %v", err)
	}
	if done {
		t.Fatalf("expected false with no task groups")
	}

	g1, _ := s.CreateTaskGroup(spec.ID, "Group 1", "", 0)
	g2, _ := s.CreateTaskGroup(spec.ID, "Group 2", "", 1)

	done, _ = s.AllTaskGroupsDone(spec.ID)
	if done {
		t.Fatalf("expected false while groups pending")
	}

	if _, err := s.UpdateTaskGroupStatus(g1.ID, StepDone); err != nil {
		t.Fatalf("update g1: %v", err)
	}
	done, _ = s.AllTaskGroupsDone(spec.ID)
	if done {
		t.Fatalf("expected false with one group still pending")
	}

	if _, err := s.UpdateTaskGroupStatus(g2.ID, StepDone); err != nil {
		t.Fatalf("update g2: %v", err)
	}
	done, err = s.AllTaskGroupsDone(spec.ID)
	if err != nil {
		t.Fatalf("all done: %v", err)
	}
	if !done {
		t.Fatalf("expected true once all groups done")
	}
}

func TestOnlyOneMainAgentInstance(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateAgentInstance(RoleMain, RoleMain, nil, nil); err != nil {
		t.Fatalf("create main: %v", err)
	}
	if _, err := s.CreateAgentInstance(RoleMain, RoleMain, nil, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict creating second main agent, got %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestConfigValueRoundTrip(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetConfigValue("main_branch")
	if err != nil {
		t.Fatalf("GetConfigValue: %v", err)
	}
	if v != "main" {
		t.Fatalf("expected seeded main_branch = main, got %q", v)
	}

	if err := s.SetConfigValue("main_branch", "trunk"); err != nil {
		t.Fatalf("SetConfigValue: %v", err)
	}
	v, err = s.GetConfigValue("main_branch")
	if err != nil {
		t.Fatalf("GetConfigValue after set: %v", err)
	}
	if v != "trunk" {
		t.Fatalf("expected trunk after overwrite, got %q", v)
	}

	v, err = s.GetConfigValue("does_not_exist")
	if err != nil {
		t.Fatalf("GetConfigValue for missing key: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty string for missing key, got %q", v)
	}
}

func TestCreateUserQuestionListedPendingUntilAnswered(t *testing.T) {
	s := newTestStore(t)
	inst, err := s.CreateAgentInstance(RoleWorker, RoleWorker, nil, nil)
	if err != nil {
		t.Fatalf("create agent instance: %v", err)
	}

	q, err := s.CreateUserQuestion(inst.ID, "should this use a mutex or a channel?")
	if err != nil {
		t.Fatalf("CreateUserQuestion: %v", err)
	}

	pending, err := s.ListPendingQuestions()
	if err != nil {
		t.Fatalf("ListPendingQuestions: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != q.ID {
		t.Fatalf("expected the new question pending, got %+v", pending)
	}

	answered, err := s.AnswerUserQuestion(q.ID, "use a channel")
	if err != nil {
		t.Fatalf("AnswerUserQuestion: %v", err)
	}
	if answered.Status != QuestionAnswered {
		t.Fatalf("expected status answered, got %q", answered.Status)
	}

	pending, err = s.ListPendingQuestions()
	if err != nil {
		t.Fatalf("ListPendingQuestions after answer: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending questions after answering, got %+v", pending)
	}
}

func TestAuditEntriesListedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	inst, err := s.CreateAgentInstance(RoleWorker, RoleWorker, nil, nil)
	if err != nil {
		t.Fatalf("create agent instance: %v", err)
	}

	if _, err := s.RecordAudit(inst.ID, "completed", "hash1", nil, nil, ptr(1200)); err != nil {
		t.Fatalf("RecordAudit 1: %v", err)
	}
	if _, err := s.RecordAudit(inst.ID, "error", "hash2", nil, nil, ptr(300)); err != nil {
		t.Fatalf("RecordAudit 2: %v", err)
	}

	entries, err := s.ListAudit(inst.ID)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].PromptHash != "hash2" {
		t.Fatalf("expected newest-first ordering, got %+v", entries)
	}
}

func TestConversationThreadAccumulatesMessages(t *testing.T) {
	s := newTestStore(t)
	item, err := s.CreateRoadmapItem("title", "desc", nil, nil, ResolutionMergeAndPush)
	if err != nil {
		t.Fatalf("CreateRoadmapItem: %v", err)
	}
	spec, err := s.CreateSpec(item.ID, "spec content", "", "title")
	if err != nil {
		t.Fatalf("CreateSpec: %v", err)
	}

	conv, err := s.CreateConversation(spec.ID, "validation_failure")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := s.AddConversationMessage(conv.ID, "orchestrator", "lint failed"); err != nil {
		t.Fatalf("AddConversationMessage: %v", err)
	}

	conversations, err := s.ListConversations(spec.ID)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(conversations))
	}

	messages, err := s.ListConversationMessages(conv.ID)
	if err != nil {
		t.Fatalf("ListConversationMessages: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "lint failed" {
		t.Fatalf("expected 1 message with recorded content, got %+v", messages)
	}
}
