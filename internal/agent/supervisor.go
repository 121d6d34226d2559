package agent

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devswarm/devswarm/internal/eventbus"
)

// RuntimeConfig names the agent runtime binary and the flags that put it
// into print-mode streaming JSON (§4.3: "print mode, streaming JSON output,
// permission override, resume/continue token").
type RuntimeConfig struct {
	BinaryPath           string
	PermissionOverride   string
	ExtraArgs            []string
}

// Supervisor owns the lifecycle of one child process speaking the
// newline-framed JSON protocol on stdout. It is single-writer: sendMessage
// refuses to start a new invocation while the previous one is still
// running (§4.3 concurrency).
type Supervisor struct {
	InstanceID string
	Role       Role
	WorkDir    string
	Runtime    RuntimeConfig

	bus *eventbus.Bus
	log *zap.Logger

	mu          sync.Mutex
	running     bool
	cmd         *exec.Cmd
	resumeToken string
	lastOutput  time.Time
	verbose     bool
}

// NewSupervisor constructs a Supervisor bound to a worktree path.
func NewSupervisor(instanceID string, role Role, workDir string, runtime RuntimeConfig, bus *eventbus.Bus, log *zap.Logger, verbose bool) *Supervisor {
	return &Supervisor{
		InstanceID: instanceID,
		Role:       role,
		WorkDir:    workDir,
		Runtime:    runtime,
		bus:        bus,
		log:        log,
		verbose:    verbose,
	}
}

// IsRunning reports whether an invocation is currently in flight.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastOutputAt returns the time of the most recently emitted output, used
// by the control loop's implicit-completion idle check (§4.4 step 4).
func (s *Supervisor) LastOutputAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutput
}

// SendMessage spawns one invocation of the agent runtime with the
// configured flags, writes text to the child's stdin, closes it, and
// begins ingesting stdout. It refuses to start while a previous invocation
// is still running.
func (s *Supervisor) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("agent %s: invocation already in progress", s.InstanceID)
	}
	s.running = true
	resumeToken := s.resumeToken
	s.mu.Unlock()

	if bound := TimeBound(s.Role); bound > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	args := []string{"--print", "--output-format", "stream-json"}
	if s.Runtime.PermissionOverride != "" {
		args = append(args, "--permission-mode", s.Runtime.PermissionOverride)
	}
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}
	args = append(args, s.Runtime.ExtraArgs...)

	binary := s.Runtime.BinaryPath
	if binary == "" {
		binary = "claude"
		if p, err := exec.LookPath("claude"); err == nil {
			binary = p
		}
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = s.WorkDir
	cmd.Stdin = strings.NewReader(text)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.finishRunning()
		return fmt.Errorf("attach stdout pipe: %w", err)
	}
	var stderrBuf bytes.Buffer
	if s.verbose {
		cmd.Stderr = io.MultiWriter(&stderrBuf, os.Stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		s.finishRunning()
		return fmt.Errorf("start agent runtime: %w", err)
	}

	go s.ingest(stdout, &stderrBuf, cmd, time.Now(), promptHash(text))
	return nil
}

// promptHash fingerprints an invocation's prompt text for the audit trail
// without persisting the prompt itself.
func promptHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ingest reads stdout incrementally through the brace-balanced extractor
// rather than waiting for process exit, dispatching events as objects
// complete (§4.3 streaming parser). start and hash are carried through to
// the terminal EventIdle so a subscriber can record a durable audit entry
// without this package depending on the state store.
func (s *Supervisor) ingest(stdout io.Reader, stderrBuf *bytes.Buffer, cmd *exec.Cmd, start time.Time, hash string) {
	defer s.finishRunning()

	extractor := NewExtractor()
	reader := bufio.NewReaderSize(stdout, 64*1024)
	chunk := make([]byte, 4096)

	for {
		n, readErr := reader.Read(chunk)
		if n > 0 {
			for _, raw := range extractor.Feed(chunk[:n]) {
				s.dispatch(raw)
			}
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		waitErr = fmt.Errorf("agent exited: %w: %s", waitErr, strings.TrimSpace(stderrBuf.String()))
		s.publish(Event{Type: EventError, InstanceID: s.InstanceID, Err: waitErr})
	}
	s.publish(Event{Type: EventIdle, InstanceID: s.InstanceID, Err: waitErr, Duration: time.Since(start), PromptHash: hash})
}

func (s *Supervisor) dispatch(raw []byte) {
	msg, err := decodeMessage(raw)
	if err != nil {
		s.log.Warn("malformed json in framed position, dropped", zap.Error(err), zap.String("instance", s.InstanceID))
		return
	}

	if msg.SessionID != "" {
		s.mu.Lock()
		s.resumeToken = msg.SessionID
		s.mu.Unlock()
	}

	switch msg.Type {
	case "assistant":
		text := msg.text()
		s.touchOutput()
		s.publish(Event{Type: EventOutput, InstanceID: s.InstanceID, Text: text, Kind: OutputNew})
		for _, q := range FindQuestions(text) {
			s.publish(Event{Type: EventQuestion, InstanceID: s.InstanceID, Text: q})
		}
		if HasTaskComplete(text) {
			s.publish(Event{Type: EventTaskComplete, InstanceID: s.InstanceID})
		}
	case "result":
		s.touchOutput()
		s.publish(Event{Type: EventOutput, InstanceID: s.InstanceID, Text: msg.Result, Kind: OutputContinue})
		s.publish(Event{Type: EventMessageComplete, InstanceID: s.InstanceID})
	case "system", "user":
		// No text payload of interest; session_id caching above still applies.
	default:
		// Well-framed but unknown types are ignored.
	}
}

func (s *Supervisor) touchOutput() {
	s.mu.Lock()
	s.lastOutput = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) publish(e Event) {
	e.Timestamp = time.Now()
	s.bus.Publish(e)
}

func (s *Supervisor) finishRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Interrupt sends SIGINT to the child and returns the last-seen resume
// handle so the instance can be re-attached later.
func (s *Supervisor) Interrupt() (string, error) {
	s.mu.Lock()
	cmd := s.cmd
	token := s.resumeToken
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return token, nil
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		return token, fmt.Errorf("interrupt agent process: %w", err)
	}
	return token, nil
}

// Stop hard-terminates the child process.
func (s *Supervisor) Stop() (string, error) {
	s.mu.Lock()
	cmd := s.cmd
	token := s.resumeToken
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return token, nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return token, fmt.Errorf("kill agent process: %w", err)
	}
	return token, nil
}
