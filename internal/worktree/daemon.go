package worktree

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
)

// daemonProcess supervises a `git daemon` child exposing the bare repo for
// read/write so agents running out-of-process can fetch/push (§4.2 init).
type daemonProcess struct {
	cmd *exec.Cmd
	log *zap.Logger
}

func startDaemon(bareRepoPath string, port int, log *zap.Logger) (*daemonProcess, error) {
	if port == 0 {
		port = 9418
	}
	cmd := exec.Command("git", "daemon",
		fmt.Sprintf("--base-path=%s", filepath.Dir(bareRepoPath)),
		fmt.Sprintf("--port=%d", port),
		"--export-all",
		"--reuseaddr",
		"--enable=receive-pack",
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start git daemon: %w", err)
	}
	log.Info("bare repo daemon started", zap.Int("port", port), zap.String("base_path", filepath.Dir(bareRepoPath)))
	return &daemonProcess{cmd: cmd, log: log}, nil
}

func (d *daemonProcess) stop() error {
	if d.cmd.Process == nil {
		return nil
	}
	if err := d.cmd.Process.Kill(); err != nil {
		d.log.Warn("failed to stop bare repo daemon", zap.Error(err))
		return err
	}
	return nil
}
