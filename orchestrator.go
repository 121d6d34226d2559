package devswarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devswarm/devswarm/internal/agent"
	"github.com/devswarm/devswarm/internal/eventbus"
	"github.com/devswarm/devswarm/internal/githost"
	"github.com/devswarm/devswarm/internal/state"
	"github.com/devswarm/devswarm/internal/worktree"
)

// Orchestrator drives the fixed-period control-loop tick described in §4.4:
// external sync, pending-spec notification, spec startup, completion
// detection, roadmap progression, issue closure, and broadcast.
type Orchestrator struct {
	cfg Config

	store    *state.Store
	worktree *worktree.Manager
	bus      *eventbus.Bus
	host     githost.Client
	log      *zap.Logger

	supervisors map[string]*agent.Supervisor

	mu             sync.Mutex
	notified       map[string]bool // roadmap item id -> notified this run
	pushed         map[string]bool // spec id -> already pushed main
	specFailures   map[string]int  // spec id -> consecutive start failures
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	metrics        Metrics
	lastGithubSync time.Time
}

// NewOrchestrator wires the daemon's components together. Orchestrator does
// not create the main agent, and there is no way for a caller to register
// one: a supervisor with id "main" is present only when Start re-spawns a
// paused "main" instance from a previous run. Without it, messages to main
// (pending-spec notifications, failure and resolution notices, SendToMain)
// are skipped or rejected. The only new instances it spawns are coordinators,
// one per started spec.
func NewOrchestrator(cfg Config, store *state.Store, wt *worktree.Manager, bus *eventbus.Bus, host githost.Client, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		store:        store,
		worktree:     wt,
		bus:          bus,
		host:         host,
		log:          log,
		supervisors:  make(map[string]*agent.Supervisor),
		notified:     make(map[string]bool),
		pushed:       make(map[string]bool),
		specFailures: make(map[string]int),
	}
}

// Start resumes AgentInstances left over from a previous process: those
// paused with a known resume handle and worktree are re-spawned; the rest
// cannot be resumed and are moved to stopped (§4.4 resumption policy).
// A re-spawned supervisor starts a fresh agent-runtime session: the stored
// resume handle is written back to the row but is not passed to the runtime.
func (o *Orchestrator) Start(ctx context.Context) error {
	resumable, err := o.store.ResumableAgents()
	if err != nil {
		return fmt.Errorf("list resumable agents: %w", err)
	}
	for _, inst := range resumable {
		o.respawn(ctx, inst)
	}

	unresumable, err := o.store.UnresumableAgents()
	if err != nil {
		return fmt.Errorf("list unresumable agents: %w", err)
	}
	for _, inst := range unresumable {
		if err := o.store.UpdateAgentStatus(inst.ID, state.AgentStopped, nil); err != nil {
			o.log.Warn("failed to stop unresumable agent", zap.String("agent_id", inst.ID), zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) respawn(ctx context.Context, inst state.AgentInstance) {
	if inst.WorktreeName == nil {
		return
	}
	path := o.worktree.MainWorktreePath()
	if *inst.WorktreeName != "main" {
		var err error
		path, err = o.worktree.CreateWorktree(*inst.WorktreeName, o.cfg.MainBranch)
		if err != nil {
			o.log.Warn("failed to recreate worktree for resumed agent", zap.String("agent_id", inst.ID), zap.Error(err))
			return
		}
	}
	sup := agent.NewSupervisor(inst.ID, agent.Role(inst.Role), path, agent.RuntimeConfig{
		BinaryPath: o.cfg.AgentRuntimeBinary,
	}, o.bus, o.log, o.cfg.Verbose)
	o.supervisors[inst.ID] = sup
	if err := sup.SendMessage(ctx, "Resuming from a previous session."); err != nil {
		o.log.Warn("failed to resume agent", zap.String("agent_id", inst.ID), zap.Error(err))
		return
	}
	if err := o.store.UpdateAgentStatus(inst.ID, state.AgentRunning, inst.ResumeHandle); err != nil {
		o.log.Warn("failed to mark resumed agent running", zap.String("agent_id", inst.ID), zap.Error(err))
	}
}

// Run executes the cooperative tick loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, o.cancel = context.WithCancel(ctx)
	start := time.Now()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.watchAgentEvents(ctx)
	}()

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			o.metrics.TotalRuntime = time.Since(start)
			return nil
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// Stop cancels the running loop.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

// Shutdown cascades the daemon-wide cancellation to every running agent
// supervisor, interrupting each one concurrently, hard-stopping any that is
// still running when ctx expires, and persisting resume handles for
// anything left paused (§5 cancellation: a single token fans out to the
// tick loop and every supervisor).
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.Stop()

	o.mu.Lock()
	supervisors := make(map[string]*agent.Supervisor, len(o.supervisors))
	for id, sup := range o.supervisors {
		supervisors[id] = sup
	}
	o.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for id, sup := range supervisors {
		id, sup := id, sup
		g.Go(func() error {
			resumeHandle, err := sup.Interrupt()
			if err == nil {
				// Give the interrupted child until ctx expires to exit on its
				// own, then fall back to a hard stop.
				for sup.IsRunning() && ctx.Err() == nil {
					time.Sleep(100 * time.Millisecond)
				}
				if sup.IsRunning() {
					resumeHandle, err = sup.Stop()
				}
			} else {
				resumeHandle, err = sup.Stop()
			}
			var handle *string
			if resumeHandle != "" {
				handle = &resumeHandle
			}
			status := state.AgentPaused
			if handle == nil {
				status = state.AgentStopped
			}
			if updErr := o.store.UpdateAgentStatus(id, status, handle); updErr != nil {
				o.log.Warn("failed to persist agent status on shutdown", zap.String("agent_id", id), zap.Error(updErr))
			}
			return err
		})
	}
	return g.Wait()
}

// GetMetrics returns a copy of the current counters.
func (o *Orchestrator) GetMetrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metrics
}

// tick runs one pass of the seven control-loop steps (§4.4). Any error from
// an individual step is caught and logged; the loop always reaches the
// broadcast step.
func (o *Orchestrator) tick(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.metrics.TicksRun++

	o.syncExternal(ctx)
	o.notifyPendingSpecs(ctx)
	o.startApprovedSpecs(ctx)
	o.checkCompletions(ctx)
	o.progressRoadmap(ctx)
	o.closeResolvedIssues(ctx)
	o.broadcast()
}

// syncExternal is step 1: fetch open issues once per GithubSyncInterval,
// map new ones to RoadmapItems, and resolve dependency references parsed
// from their bodies.
func (o *Orchestrator) syncExternal(ctx context.Context) {
	if o.host == nil {
		return
	}
	if !o.lastGithubSync.IsZero() && time.Since(o.lastGithubSync) < o.cfg.GithubSyncInterval {
		return
	}
	o.lastGithubSync = time.Now()

	issues, err := o.host.ListOpenIssues(ctx)
	if err != nil {
		o.log.Warn("github sync failed", zap.Error(err))
		return
	}
	o.metrics.IssuesSynced++

	for _, iss := range issues {
		issueID := fmt.Sprintf("%d", iss.Number)
		item, err := o.store.GetRoadmapItemByIssueID(issueID)
		if err != nil && err != state.ErrNotFound {
			o.log.Warn("lookup roadmap item by issue failed", zap.Int("issue", iss.Number), zap.Error(err))
			continue
		}
		if item == nil {
			created, err := o.store.CreateRoadmapItem(iss.Title, iss.Body, &issueID, &iss.URL, state.ResolutionManual)
			if err != nil {
				o.log.Warn("create roadmap item from issue failed", zap.Int("issue", iss.Number), zap.Error(err))
				continue
			}
			item = created
		}

		refs := parseIssueDependencies(iss.Body)
		for _, blockerNum := range refs.Blocking {
			blockerID := fmt.Sprintf("%d", blockerNum)
			blocker, err := o.store.GetRoadmapItemByIssueID(blockerID)
			if err != nil || blocker == nil {
				continue
			}
			if _, err := o.store.CreateDependency("roadmap_item", blocker.ID, "roadmap_item", item.ID); err != nil {
				o.log.Debug("dependency not recorded", zap.Int("issue", iss.Number), zap.Int("blocker", blockerNum), zap.Error(err))
			}
		}
		for _, resolvedNum := range refs.Resolved {
			blockerID := fmt.Sprintf("%d", resolvedNum)
			blocker, err := o.store.GetRoadmapItemByIssueID(blockerID)
			if err != nil || blocker == nil {
				continue
			}
			deps, err := o.store.ListDependencies("roadmap_item", item.ID)
			if err != nil {
				continue
			}
			for _, d := range deps {
				if d.BlockerKind == "roadmap_item" && d.BlockerID == blocker.ID && !d.Resolved {
					if err := o.store.MarkDependencyResolved(d.ID); err != nil {
						o.log.Warn("mark dependency resolved failed", zap.String("dep_id", d.ID), zap.Error(err))
					}
				}
			}
		}
	}
}

// notifyPendingSpecs is step 2.
func (o *Orchestrator) notifyPendingSpecs(ctx context.Context) {
	items, err := o.store.ListRoadmapItems(state.RoadmapPending)
	if err != nil {
		o.log.Warn("list pending roadmap items failed", zap.Error(err))
		return
	}
	for _, item := range items {
		if item.SpecID != nil || o.notified[item.ID] {
			continue
		}
		blocked, err := o.store.HasUnresolvedDependencies("roadmap_item", item.ID)
		if err != nil || blocked {
			continue
		}
		main, ok := o.mainSupervisor()
		if !ok {
			continue
		}
		msg := fmt.Sprintf("Please create a spec for roadmap item %s: %s\n\n%s", item.ID, item.Title, item.Description)
		if err := main.SendMessage(ctx, msg); err != nil {
			o.log.Warn("failed to notify main agent of pending roadmap item", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		o.notified[item.ID] = true
	}
}

// startApprovedSpecs is step 3.
func (o *Orchestrator) startApprovedSpecs(ctx context.Context) {
	specs, err := o.store.ListSpecs(state.SpecApproved)
	if err != nil {
		o.log.Warn("list approved specs failed", zap.Error(err))
		return
	}
	for _, spec := range specs {
		blocked, err := o.store.HasUnresolvedDependencies("spec", spec.ID)
		if err != nil || blocked {
			continue
		}
		if err := o.startSpec(ctx, spec); err != nil {
			o.specFailures[spec.ID]++
			o.log.Warn("failed to start spec", zap.String("spec_id", spec.ID), zap.Int("attempt", o.specFailures[spec.ID]), zap.Error(err))
			if o.specFailures[spec.ID] >= o.cfg.MaxSpecRetries {
				msg := err.Error()
				if _, err := o.store.UpdateSpec(spec.ID, state.SpecUpdate{Status: ptrStr(state.SpecError), ErrorMessage: &msg}); err != nil {
					o.log.Warn("failed to mark spec error after repeated start failures", zap.String("spec_id", spec.ID), zap.Error(err))
				}
				delete(o.specFailures, spec.ID)
			}
			continue
		}
		delete(o.specFailures, spec.ID)
	}
}

func (o *Orchestrator) startSpec(ctx context.Context, spec state.Spec) error {
	worktreeName := "spec-" + spec.ID
	path, err := o.worktree.CreateWorktree(worktreeName, o.cfg.MainBranch)
	if err != nil {
		return fmt.Errorf("create spec worktree: %w", err)
	}
	branch, err := o.worktree.GetCurrentBranch(path)
	if err != nil {
		return fmt.Errorf("read spec branch: %w", err)
	}

	instanceID := "coordinator-" + spec.ID
	inst, err := o.store.CreateAgentInstance(instanceID, state.RoleCoordinator, &worktreeName, &state.AgentContext{Kind: "spec", ID: spec.ID})
	if err != nil {
		return fmt.Errorf("create coordinator instance: %w", err)
	}

	sup := agent.NewSupervisor(inst.ID, agent.RoleCoordinator, path, agent.RuntimeConfig{
		BinaryPath: o.cfg.AgentRuntimeBinary,
	}, o.bus, o.log, o.cfg.Verbose)
	o.supervisors[inst.ID] = sup

	msg := fmt.Sprintf("Implement the following spec in this worktree:\n\n%s", spec.Content)
	if err := sup.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("spawn coordinator: %w", err)
	}
	if err := o.store.UpdateAgentStatus(inst.ID, state.AgentRunning, nil); err != nil {
		o.log.Warn("failed to mark coordinator running", zap.String("agent_id", inst.ID), zap.Error(err))
	}

	if _, err := o.store.UpdateSpec(spec.ID, state.SpecUpdate{
		Status:       ptrStr(state.SpecInProgress),
		WorktreeName: &worktreeName,
		BranchName:   &branch,
	}); err != nil {
		return fmt.Errorf("move spec to in_progress: %w", err)
	}
	o.metrics.SpecsStarted++
	return nil
}

// checkCompletions is step 4: detect explicit or implicit completion and
// invoke the validation/resolution pipeline (§4.5).
func (o *Orchestrator) checkCompletions(ctx context.Context) {
	specs, err := o.store.ListSpecs(state.SpecInProgress)
	if err != nil {
		o.log.Warn("list in-progress specs failed", zap.Error(err))
		return
	}
	for _, spec := range specs {
		complete, err := o.isSpecComplete(spec)
		if err != nil {
			o.log.Warn("completion check failed", zap.String("spec_id", spec.ID), zap.Error(err))
			continue
		}
		if !complete {
			continue
		}
		o.resolveSpec(ctx, spec)
	}
}

func (o *Orchestrator) isSpecComplete(spec state.Spec) (bool, error) {
	done, err := o.store.AllTaskGroupsDone(spec.ID)
	if err != nil {
		return false, err
	}
	if done {
		return true, nil
	}

	if spec.WorktreeName == nil {
		return false, nil
	}
	path := o.worktree.WorktreePath(*spec.WorktreeName)
	hasCommits, err := o.worktree.HasUnpushedCommits(path)
	if err != nil || !hasCommits {
		return false, nil
	}

	instanceID := "coordinator-" + spec.ID
	sup, ok := o.supervisors[instanceID]
	if !ok {
		return false, nil
	}
	idle := time.Since(sup.LastOutputAt()) >= o.cfg.CoordinatorIdleThreshold
	return idle, nil
}

// progressRoadmap is step 5.
func (o *Orchestrator) progressRoadmap(ctx context.Context) {
	specs, err := o.store.ListSpecs(state.SpecDone)
	if err != nil {
		o.log.Warn("list done specs failed", zap.Error(err))
		return
	}
	for _, spec := range specs {
		if !o.pushed[spec.ID] {
			if err := o.worktree.PushMain(); err != nil {
				o.log.Warn("push main failed", zap.String("spec_id", spec.ID), zap.Error(err))
			} else {
				o.pushed[spec.ID] = true
				o.metrics.PushesPerformed++
			}
		}

		item, err := o.store.GetRoadmapItem(spec.RoadmapItemID)
		if err != nil {
			o.log.Warn("load roadmap item for done spec failed", zap.String("spec_id", spec.ID), zap.Error(err))
			continue
		}
		if item.Status != state.RoadmapDone {
			if _, err := o.store.UpdateRoadmapItem(item.ID, state.RoadmapItemUpdate{Status: ptrStr(state.RoadmapDone)}); err != nil {
				o.log.Warn("mark roadmap item done failed", zap.String("item_id", item.ID), zap.Error(err))
			}
		}
	}
}

// closeResolvedIssues is step 6.
func (o *Orchestrator) closeResolvedIssues(ctx context.Context) {
	if o.host == nil {
		return
	}
	items, err := o.store.ListRoadmapItems(state.RoadmapDone)
	if err != nil {
		o.log.Warn("list done roadmap items failed", zap.Error(err))
		return
	}
	for _, item := range items {
		if item.GithubIssueClosed || item.IssueID == nil {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(*item.IssueID, "%d", &num); err != nil {
			continue
		}
		if err := o.host.CloseIssue(ctx, num); err != nil {
			o.log.Warn("close issue failed", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		if err := o.store.MarkIssueClosed(item.ID); err != nil {
			o.log.Warn("mark issue closed failed", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		o.metrics.IssuesClosed++
	}
}

// broadcast is step 7: publish a snapshot of roadmap/spec/agent state.
func (o *Orchestrator) broadcast() {
	roadmap, _ := o.store.ListRoadmapItems("")
	specs, _ := o.store.ListSpecs("")
	agents, _ := o.store.ListAgentInstances("")
	o.bus.Publish(StateSnapshot{
		Roadmap: roadmap,
		Specs:   specs,
		Agents:  agents,
	})
}

func (o *Orchestrator) mainSupervisor() (*agent.Supervisor, bool) {
	for id, sup := range o.supervisors {
		if id == "main" {
			return sup, true
		}
	}
	return nil, false
}

// SendToMain injects a message into the main agent, used by the HTTP API's
// POST /api/main/message (§6).
func (o *Orchestrator) SendToMain(ctx context.Context, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	main, ok := o.mainSupervisor()
	if !ok {
		return fmt.Errorf("main agent is not running")
	}
	return main.SendMessage(ctx, text)
}

// SendToAgent routes a message to a specific running AgentInstance, used by
// the HTTP API's POST /api/questions/:id/answer to deliver a human response
// back to the agent that asked (§6: "route to the agent that asked").
func (o *Orchestrator) SendToAgent(ctx context.Context, agentID, text string) error {
	o.mu.Lock()
	sup, ok := o.supervisors[agentID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s is not running", agentID)
	}
	return sup.SendMessage(ctx, text)
}

// watchAgentEvents subscribes to the event bus for the lifetime of the
// control loop and turns agent-level events into durable state: a
// [QUESTION_FOR_USER] marker becomes a UserQuestion row (spec.md §3, §4.3),
// and every completed invocation becomes an AuditEntry (SPEC_FULL.md §C.1).
// This runs independent of tick() so a slow or long-running invocation's
// events are recorded promptly rather than on the next 5s tick.
func (o *Orchestrator) watchAgentEvents(ctx context.Context) {
	sub := o.bus.Subscribe()
	defer o.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C():
			if !ok {
				return
			}
			o.handleAgentEvent(event)
		}
	}
}

func (o *Orchestrator) handleAgentEvent(event any) {
	e, ok := event.(agent.Event)
	if !ok {
		return
	}
	switch e.Type {
	case agent.EventQuestion:
		if _, err := o.store.CreateUserQuestion(e.InstanceID, e.Text); err != nil {
			o.log.Warn("failed to persist user question", zap.String("agent_id", e.InstanceID), zap.Error(err))
		}
	case agent.EventIdle:
		status := "completed"
		if e.Err != nil {
			status = "error"
		}
		durationMS := int(e.Duration.Milliseconds())
		if _, err := o.store.RecordAudit(e.InstanceID, status, e.PromptHash, nil, nil, &durationMS); err != nil {
			o.log.Warn("failed to record audit entry", zap.String("agent_id", e.InstanceID), zap.Error(err))
		}
	}
}

// StateSnapshot is the payload published at the end of every tick (§6 event
// stream, `state` event).
type StateSnapshot struct {
	Roadmap []state.RoadmapItem
	Specs   []state.Spec
	Agents  []state.AgentInstance
}

func ptrStr(s string) *string { return &s }
