// Package state is the durable, process-local record of every domain
// entity the orchestrator tracks: roadmap items, specs, task groups,
// tasks, agent instances, dependencies, user questions, and auth state.
package state

import "time"

// RoadmapItem status values.
const (
	RoadmapPending    = "pending"
	RoadmapInProgress = "in_progress"
	RoadmapDone       = "done"
)

// Resolution methods a RoadmapItem can carry.
const (
	ResolutionMergeAndPush = "merge_and_push"
	ResolutionCreatePR     = "create_pr"
	ResolutionPushBranch   = "push_branch"
	ResolutionManual       = "manual"
)

// Spec status values. Monotonic over the linear prefix; error is reachable
// from any non-terminal state.
const (
	SpecDraft         = "draft"
	SpecPendingReview = "pending_review"
	SpecApproved      = "approved"
	SpecInProgress    = "in_progress"
	SpecValidating    = "validating"
	SpecMerging       = "merging"
	SpecDone          = "done"
	SpecError         = "error"
)

// TaskGroup and Task status values.
const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepDone       = "done"
)

// AgentInstance roles.
const (
	RoleMain        = "main"
	RoleSpecCreator = "spec_creator"
	RoleCoordinator = "coordinator"
	RoleWorker      = "worker"
)

// AgentInstance status values.
const (
	AgentCreated = "created"
	AgentRunning = "running"
	AgentPaused  = "paused"
	AgentStopped = "stopped"
)

// UserQuestion status values.
const (
	QuestionPending  = "pending"
	QuestionAnswered = "answered"
)

// RoadmapItem is a unit of planned work, usually one upstream issue.
type RoadmapItem struct {
	ID               string
	Title            string
	Description      string
	Status           string
	IssueID          *string
	IssueURL         *string
	GithubIssueClosed bool
	SpecID           *string
	ResolutionMethod string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Spec is a written plan for implementing one roadmap item.
type Spec struct {
	ID            string
	RoadmapItemID string
	Content       string
	Status        string
	WorktreeName  *string
	BranchName    *string
	ErrorMessage  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TaskGroup is a coarse step within a spec.
type TaskGroup struct {
	ID          string
	SpecID      string
	Name        string
	Description string
	Status      string
	Sequence    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task is a leaf step within a task group.
type Task struct {
	ID          string
	GroupID     string
	Description string
	Status      string
	CommitHash  *string
	Sequence    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgentContext names what an AgentInstance is working on.
type AgentContext struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// AgentInstance is a supervised child process record.
type AgentInstance struct {
	ID           string
	Role         string
	Status       string
	ResumeHandle *string
	WorktreeName *string
	Context      *AgentContext
	LastOutputAt time.Time
	StartedAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserQuestion is a blocking prompt from an agent to a human.
type UserQuestion struct {
	ID        string
	AgentID   string
	Question  string
	Response  *string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Dependency is a blocking relation between two entities, each identified
// by (kind, id). kind is one of "roadmap_item", "spec", "task_group", "task".
type Dependency struct {
	ID           string
	BlockerKind  string
	BlockerID    string
	BlockedKind  string
	BlockedID    string
	Resolved     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthState is an opaque key/value bag, keyed by key.
type AuthState struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// AuditEntry records one agent invocation for the durable audit trail
// (SPEC_FULL.md §C.1), generalizing the teacher's agent_audit_log table.
type AuditEntry struct {
	ID          string
	AgentID     string
	EventType   string
	PromptHash  string
	TokenInput  *int
	TokenOutput *int
	DurationMS  *int
	CreatedAt   time.Time
}

// Conversation is a thread attached to a Spec, used to hold a durable
// record of validation-failure / merge-conflict notifications to the
// main agent (SPEC_FULL.md §C.1).
type Conversation struct {
	ID         string
	SpecID     string
	ThreadType string
	Status     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// ConversationMessage is one message inside a Conversation.
type ConversationMessage struct {
	ID             string
	ConversationID string
	Author         string
	Content        string
	CreatedAt      time.Time
}
