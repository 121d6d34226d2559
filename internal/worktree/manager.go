// Package worktree wraps a bare content-addressable repository and a
// directory of per-spec worktrees on disk, shelling out to the git CLI the
// same way the daemon's upstream ancestor did.
package worktree

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const branchPrefix = "devswarm/"

// PushFailureKind classifies why a push failed (§4.2).
type PushFailureKind string

const (
	PushFailureAuth       PushFailureKind = "auth"
	PushFailureDiverged   PushFailureKind = "diverged"
	PushFailureNetwork    PushFailureKind = "network"
	PushFailurePermission PushFailureKind = "permission"
	PushFailureOther      PushFailureKind = "other"
)

// PushError is a distinct error code per push failure class.
type PushError struct {
	Kind   PushFailureKind
	Output string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push failed (%s): %s", e.Kind, e.Output)
}

// MergeResult is the outcome of a non-fast-forward merge.
type MergeResult struct {
	Success   bool
	Conflicts []string
}

// Info describes one worktree as reported by `git worktree list --porcelain`.
type Info struct {
	Path   string
	Branch string
	Commit string
	Bare   bool
}

// Manager owns the bare repository and its worktrees.
type Manager struct {
	bareRepoPath string
	worktreeDir  string
	mainBranch   string
	log          *zap.Logger

	daemon *daemonProcess
}

// NewManager constructs a Manager rooted at dataDir (the fixed data
// directory's bare.git/ and worktrees/ subdirectories, per §6's persisted
// layout).
func NewManager(dataDir, mainBranch string, log *zap.Logger) *Manager {
	if mainBranch == "" {
		mainBranch = "main"
	}
	return &Manager{
		bareRepoPath: filepath.Join(dataDir, "bare.git"),
		worktreeDir:  filepath.Join(dataDir, "worktrees"),
		mainBranch:   mainBranch,
		log:          log,
	}
}

// Init clones upstreamURL as a bare repo, creates the main worktree, and
// starts the background daemon exposing the bare repo for read/write on a
// local port (§4.2). The daemon never starts before Init.
func (m *Manager) Init(upstreamURL string, daemonPort int) error {
	if _, err := os.Stat(m.bareRepoPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(m.bareRepoPath), 0o755); err != nil {
			return fmt.Errorf("create bare repo parent: %w", err)
		}
		if err := runGit("", "clone", "--bare", upstreamURL, m.bareRepoPath); err != nil {
			return fmt.Errorf("clone bare repo: %w", err)
		}
	}

	if _, err := m.CreateWorktree("main", m.mainBranch); err != nil {
		return fmt.Errorf("create main worktree: %w", err)
	}

	d, err := startDaemon(m.bareRepoPath, daemonPort, m.log)
	if err != nil {
		return fmt.Errorf("start bare repo daemon: %w", err)
	}
	m.daemon = d
	return nil
}

// Shutdown stops the bare repo daemon, if running. Called during the
// graceful shutdown cascade; no in-flight worktree operation is cancelled.
func (m *Manager) Shutdown() error {
	if m.daemon == nil {
		return nil
	}
	return m.daemon.stop()
}

func (m *Manager) worktreePath(name string) string {
	return filepath.Join(m.worktreeDir, sanitizeName(name))
}

// WorktreePath returns the on-disk path a worktree named name would live
// at, without touching disk or git. Used to recover a path from a stored
// worktree name alone (e.g. after a process restart).
func (m *Manager) WorktreePath(name string) string {
	return m.worktreePath(name)
}

// CreateWorktree is idempotent: a valid existing worktree with this name is
// reused. If the branch exists without a worktree, the stale branch is
// deleted and a fresh one is created. `main` maps to the main branch
// verbatim; every other name is rooted at baseBranch on branch
// `devswarm/<name>`.
func (m *Manager) CreateWorktree(name, baseBranch string) (string, error) {
	if !isValidWorktreeName(name) {
		return "", fmt.Errorf("invalid worktree name %q: must be alphanumeric-and-hyphen", name)
	}
	if baseBranch == "" {
		baseBranch = m.mainBranch
	}

	path := m.worktreePath(name)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if _, err := m.GetWorktreeInfo(path); err == nil {
			return path, nil
		}
	}

	branch := m.mainBranch
	if name != "main" {
		branch = branchPrefix + sanitizeName(name)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create worktree parent: %w", err)
	}

	branchExists := m.branchExists(branch)
	if branchExists {
		worktrees, err := m.ListWorktrees()
		if err != nil {
			return "", err
		}
		attached := false
		for _, w := range worktrees {
			if w.Branch == branch {
				attached = true
				break
			}
		}
		if !attached {
			// Branch exists but no worktree holds it: stale, delete it.
			_ = runGit(m.bareRepoPath, "branch", "-D", branch)
			branchExists = false
		}
	}

	var err error
	if branch == m.mainBranch && branchExists {
		err = runGit(m.bareRepoPath, "worktree", "add", path, branch)
	} else {
		err = runGit(m.bareRepoPath, "worktree", "add", "-b", branch, path, baseBranch)
	}
	if err != nil {
		return "", fmt.Errorf("git worktree add: %w", err)
	}

	return path, nil
}

// RemoveWorktree removes a worktree directory and, if requested, its branch.
func (m *Manager) RemoveWorktree(path string, removeBranch bool) error {
	var branch string
	if removeBranch {
		if info, err := m.GetWorktreeInfo(path); err == nil {
			branch = info.Branch
		}
	}

	if err := runGit(m.bareRepoPath, "worktree", "remove", "--force", path); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree directory: %w", rmErr)
		}
		_ = runGit(m.bareRepoPath, "worktree", "prune")
	}

	if removeBranch && branch != "" && branch != m.mainBranch {
		_ = runGit(m.bareRepoPath, "branch", "-D", branch)
	}
	return nil
}

// ListWorktrees parses `git worktree list --porcelain`.
func (m *Manager) ListWorktrees() ([]Info, error) {
	out, err := runGitOutput(m.bareRepoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	var infos []Info
	var cur *Info
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			if cur != nil {
				infos = append(infos, *cur)
				cur = nil
			}
		case strings.HasPrefix(line, "worktree "):
			cur = &Info{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && cur != nil:
			cur.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && cur != nil:
			cur.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		case line == "bare" && cur != nil:
			cur.Bare = true
		}
	}
	if cur != nil {
		infos = append(infos, *cur)
	}
	return infos, nil
}

// GetWorktreeInfo returns the Info for the worktree at path.
func (m *Manager) GetWorktreeInfo(path string) (*Info, error) {
	infos, err := m.ListWorktrees()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	for _, w := range infos {
		wAbs, err := filepath.Abs(w.Path)
		if err != nil {
			continue
		}
		if wAbs == abs {
			return &w, nil
		}
	}
	return nil, fmt.Errorf("worktree not found: %s", path)
}

func (m *Manager) branchExists(branch string) bool {
	return runGit(m.bareRepoPath, "show-ref", "--verify", "--quiet", "refs/heads/"+branch) == nil
}

// Merge performs a non-fast-forward merge of source into target with
// --no-edit. On conflict it returns the file list and leaves merge state
// for the caller to abort.
func (m *Manager) Merge(targetWorktreePath, source string) (*MergeResult, error) {
	err := runGit(targetWorktreePath, "merge", "--no-ff", "--no-edit", source)
	if err == nil {
		return &MergeResult{Success: true}, nil
	}

	conflicts, cErr := m.ConflictFiles(targetWorktreePath)
	if cErr != nil {
		return nil, fmt.Errorf("merge failed and conflict listing failed: %w", cErr)
	}
	if len(conflicts) == 0 {
		return nil, fmt.Errorf("merge failed: %w", err)
	}
	return &MergeResult{Success: false, Conflicts: conflicts}, nil
}

// ConflictFiles parses `git status --porcelain=v2` for unmerged ("u") entries.
func (m *Manager) ConflictFiles(worktreePath string) ([]string, error) {
	out, err := runGitOutput(worktreePath, "status", "--porcelain=v2")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "u ") {
			fields := strings.Fields(line)
			if len(fields) > 0 {
				files = append(files, fields[len(fields)-1])
			}
		}
	}
	return files, nil
}

// AbortMerge aborts an in-progress merge.
func (m *Manager) AbortMerge(worktreePath string) error {
	return runGit(worktreePath, "merge", "--abort")
}

// Push pushes the current branch, classifying any failure (§4.2).
func (m *Manager) Push(worktreePath string) error {
	out, err := runGitOutput(worktreePath, "branch", "--show-current")
	if err != nil {
		return fmt.Errorf("get current branch: %w", err)
	}
	branch := strings.TrimSpace(string(out))

	cmd := exec.Command("git", "push", "-u", "origin", branch)
	cmd.Dir = worktreePath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &PushError{Kind: classifyPushFailure(stderr.String()), Output: strings.TrimSpace(stderr.String())}
	}
	return nil
}

// PushMain pushes the main branch from the main worktree.
func (m *Manager) PushMain() error {
	return m.Push(m.worktreePath("main"))
}

func classifyPushFailure(stderr string) PushFailureKind {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "authentication") || strings.Contains(lower, "403") || strings.Contains(lower, "could not read username"):
		return PushFailureAuth
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "denied to"):
		return PushFailurePermission
	case strings.Contains(lower, "non-fast-forward") || strings.Contains(lower, "fetch first") || strings.Contains(lower, "rejected"):
		return PushFailureDiverged
	case strings.Contains(lower, "could not resolve host") || strings.Contains(lower, "connection") || strings.Contains(lower, "timed out"):
		return PushFailureNetwork
	default:
		return PushFailureOther
	}
}

// HasUnpushedCommits reports true when the local branch has commits absent
// from its remote counterpart, or the remote branch is absent entirely.
func (m *Manager) HasUnpushedCommits(worktreePath string) (bool, error) {
	branch, err := m.GetCurrentBranch(worktreePath)
	if err != nil {
		return false, err
	}
	if err := runGit(worktreePath, "fetch", "origin", branch); err != nil {
		// Remote branch may not exist yet; treat as unpushed.
		return true, nil
	}
	out, err := runGitOutput(worktreePath, "rev-list", "--count", "origin/"+branch+"..HEAD")
	if err != nil {
		return true, nil
	}
	count := strings.TrimSpace(string(out))
	return count != "0" && count != "", nil
}

// GetCurrentBranch returns the current branch of a worktree.
func (m *Manager) GetCurrentBranch(worktreePath string) (string, error) {
	out, err := runGitOutput(worktreePath, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// MainWorktreePath returns the filesystem path of the main worktree.
func (m *Manager) MainWorktreePath() string {
	return m.worktreePath("main")
}

func isValidWorktreeName(name string) bool {
	return regexp.MustCompile(`^[a-zA-Z0-9-]+$`).MatchString(name)
}

func sanitizeName(name string) string {
	return regexp.MustCompile(`[^a-zA-Z0-9-_]`).ReplaceAllString(name, "-")
}

func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.New(strings.TrimSpace(stderr.String()))
	}
	return nil
}

func runGitOutput(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Output()
}
