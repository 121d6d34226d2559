package devswarm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devswarm/devswarm/internal/state"
	"github.com/devswarm/devswarm/internal/worktree"
)

const validationTimeout = 5 * time.Minute
const validationOutputTailLimit = 2 * 1024

// resolveSpec runs the validation then resolution pipeline for a spec
// deemed complete (§4.5). Flow: in_progress -> validating -> merging ->
// done, with error as the sink for validation failures.
func (o *Orchestrator) resolveSpec(ctx context.Context, spec state.Spec) {
	if _, err := o.store.UpdateSpec(spec.ID, state.SpecUpdate{Status: ptrStr(state.SpecValidating)}); err != nil {
		o.log.Warn("failed to move spec to validating", zap.String("spec_id", spec.ID), zap.Error(err))
		return
	}

	if spec.WorktreeName == nil {
		o.failSpec(spec.ID, "spec has no worktree at completion")
		return
	}
	path := o.worktree.WorktreePath(*spec.WorktreeName)

	if tail, err := o.runValidation(ctx, path); err != nil {
		msg := fmt.Sprintf("%s\n\n%s", err.Error(), tail)
		o.failSpec(spec.ID, msg)
		o.notifyMainOfFailure(ctx, spec.ID, msg)
		return
	}

	if _, err := o.store.UpdateSpec(spec.ID, state.SpecUpdate{Status: ptrStr(state.SpecMerging)}); err != nil {
		o.log.Warn("failed to move spec to merging", zap.String("spec_id", spec.ID), zap.Error(err))
		return
	}

	item, err := o.store.GetRoadmapItem(spec.RoadmapItemID)
	if err != nil {
		o.failSpec(spec.ID, fmt.Sprintf("load roadmap item: %v", err))
		return
	}

	o.resolve(ctx, spec, *item, path)
	o.metrics.SpecsCompleted++
}

// runValidation executes the repo's standard quality commands, in order,
// inside the spec worktree. Each has a 5-minute wall clock; any non-zero
// exit returns a truncated tail of combined stdout/stderr.
func (o *Orchestrator) runValidation(ctx context.Context, worktreePath string) (string, error) {
	for _, name := range o.cfg.ValidationCommands {
		cctx, cancel := context.WithTimeout(ctx, validationTimeout)
		out, err := runValidationCommand(cctx, worktreePath, name)
		cancel()
		if err != nil {
			return tailString(out, validationOutputTailLimit), fmt.Errorf("validation command %q failed: %w", name, err)
		}
	}
	return "", nil
}

// runValidationCommand maps a validation command name to its shell
// invocation. lint and build are the only two currently wired (tests are
// reserved, §4.5); any other name is run verbatim as a shell command via
// sh -c, so a repo-specific command such as `make check` can be configured.
func runValidationCommand(ctx context.Context, dir, name string) ([]byte, error) {
	var cmd *exec.Cmd
	switch name {
	case "lint":
		cmd = exec.CommandContext(ctx, "sh", "-c", "golangci-lint run ./... || go vet ./...")
	case "build":
		cmd = exec.CommandContext(ctx, "go", "build", "./...")
	default:
		cmd = exec.CommandContext(ctx, "sh", "-c", name) // #nosec G204 -- validation_commands is operator-configured, not user input
	}
	cmd.Dir = dir

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	err := cmd.Run()
	return combined.Bytes(), err
}

func tailString(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[len(b)-limit:])
}

func (o *Orchestrator) failSpec(specID, message string) {
	if _, err := o.store.UpdateSpec(specID, state.SpecUpdate{Status: ptrStr(state.SpecError), ErrorMessage: &message}); err != nil {
		o.log.Warn("failed to mark spec error", zap.String("spec_id", specID), zap.Error(err))
	}
	o.metrics.SpecsErrored++
}

func (o *Orchestrator) notifyMainOfFailure(ctx context.Context, specID, message string) {
	text := fmt.Sprintf("Spec %s failed validation:\n\n%s", specID, message)
	o.recordConversation(specID, "validation_failure", "orchestrator", text)

	main, ok := o.mainSupervisor()
	if !ok {
		return
	}
	if err := main.SendMessage(ctx, text); err != nil {
		o.log.Warn("failed to notify main of validation failure", zap.String("spec_id", specID), zap.Error(err))
	}
}

// recordConversation opens a new thread for a fire-and-forget notification
// to main so it survives past the in-memory SSE event, then appends the
// message (SPEC_FULL.md §C.1). Each call creates its own thread.
func (o *Orchestrator) recordConversation(specID, threadType, author, content string) {
	conv, err := o.store.CreateConversation(specID, threadType)
	if err != nil {
		o.log.Warn("failed to open conversation thread", zap.String("spec_id", specID), zap.String("thread_type", threadType), zap.Error(err))
		return
	}
	if _, err := o.store.AddConversationMessage(conv.ID, author, content); err != nil {
		o.log.Warn("failed to record conversation message", zap.String("spec_id", specID), zap.Error(err))
	}
}

// resolve dispatches per the RoadmapItem's resolution_method (§4.5).
// Failures are caught here and mark the Spec error with the causing
// message; state is broadcast on the next tick regardless of outcome.
func (o *Orchestrator) resolve(ctx context.Context, spec state.Spec, item state.RoadmapItem, worktreePath string) {
	var err error
	switch item.ResolutionMethod {
	case state.ResolutionMergeAndPush:
		err = o.resolveMergeAndPush(ctx, spec, worktreePath)
	case state.ResolutionCreatePR:
		err = o.resolveCreatePR(ctx, spec, item, worktreePath)
	case state.ResolutionPushBranch:
		err = o.resolvePushBranch(ctx, spec, worktreePath)
	case state.ResolutionManual:
		err = o.resolveManual(ctx, spec, worktreePath)
	default:
		err = fmt.Errorf("unknown resolution method %q", item.ResolutionMethod)
	}
	if err != nil {
		o.failSpec(spec.ID, err.Error())
	}
}

func (o *Orchestrator) resolveMergeAndPush(ctx context.Context, spec state.Spec, worktreePath string) error {
	mainPath := o.worktree.MainWorktreePath()
	branch, err := o.worktree.GetCurrentBranch(worktreePath)
	if err != nil {
		return fmt.Errorf("read spec branch: %w", err)
	}

	result, err := o.worktree.Merge(mainPath, branch)
	if err != nil {
		return fmt.Errorf("merge spec branch: %w", err)
	}
	if !result.Success {
		text := fmt.Sprintf("Spec %s merge into main has conflicts in: %s. Leaving state for manual resolution.", spec.ID, strings.Join(result.Conflicts, ", "))
		o.recordConversation(spec.ID, "merge_conflict", "orchestrator", text)
		if main, ok := o.mainSupervisor(); ok {
			_ = main.SendMessage(ctx, text)
		}
		// Leave the spec in merging; do not abort. A human resolves the conflict out of band.
		return nil
	}

	if err := o.worktree.PushMain(); err != nil {
		if pe, ok := err.(*worktree.PushError); ok {
			return fmt.Errorf("push main (%s): %w", pe.Kind, pe)
		}
		return fmt.Errorf("push main: %w", err)
	}
	o.metrics.PushesPerformed++
	o.pushed[spec.ID] = true

	_, err = o.store.UpdateSpec(spec.ID, state.SpecUpdate{Status: ptrStr(state.SpecDone)})
	return err
}

func (o *Orchestrator) resolveCreatePR(ctx context.Context, spec state.Spec, item state.RoadmapItem, worktreePath string) error {
	branch, err := o.worktree.GetCurrentBranch(worktreePath)
	if err != nil {
		return fmt.Errorf("read spec branch: %w", err)
	}
	if err := o.worktree.Push(worktreePath); err != nil {
		return fmt.Errorf("push spec branch: %w", err)
	}
	if o.host == nil {
		return fmt.Errorf("no code host client configured, cannot create pull request")
	}
	body := fmt.Sprintf("Implements spec %s.\n\n%s", spec.ID, item.Description)
	pr, err := o.host.CreatePullRequest(ctx, branch, fmt.Sprintf("[DevSwarm] %s", item.Title), body)
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}

	if _, err := o.store.UpdateSpec(spec.ID, state.SpecUpdate{Status: ptrStr(state.SpecDone)}); err != nil {
		return err
	}
	if main, ok := o.mainSupervisor(); ok {
		_ = main.SendMessage(ctx, fmt.Sprintf("Spec %s resolved via pull request: %s", spec.ID, pr.URL))
	}
	return nil
}

func (o *Orchestrator) resolvePushBranch(ctx context.Context, spec state.Spec, worktreePath string) error {
	if err := o.worktree.Push(worktreePath); err != nil {
		return fmt.Errorf("push spec branch: %w", err)
	}
	_, err := o.store.UpdateSpec(spec.ID, state.SpecUpdate{Status: ptrStr(state.SpecDone)})
	return err
}

func (o *Orchestrator) resolveManual(ctx context.Context, spec state.Spec, worktreePath string) error {
	branch, err := o.worktree.GetCurrentBranch(worktreePath)
	if err != nil {
		return fmt.Errorf("read spec branch: %w", err)
	}
	if main, ok := o.mainSupervisor(); ok {
		_ = main.SendMessage(ctx, fmt.Sprintf(
			"Spec %s is ready for manual finalization. Worktree: %s, branch: %s. Merge and push when ready.",
			spec.ID, worktreePath, branch,
		))
	}
	_, err = o.store.UpdateSpec(spec.ID, state.SpecUpdate{Status: ptrStr(state.SpecDone)})
	return err
}
