// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup runs external tools in their own process groups so
// cancellation reaches the whole child tree (yt-dlp spawns ffmpeg for
// stream merges; signalling only the leader would orphan it).
package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

// Set configures the command to start in a new process group. Must be
// called before Start for Kill and Terminate to reach the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Kill sends a signal to the command's process group. Safe on nil and
// already-exited commands.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	return kill(cmd, sig)
}

// Terminate gracefully stops the command's process group: SIGTERM, wait
// up to grace, then SIGKILL. waitCh must carry the result of cmd.Wait
// exactly once; Terminate drains it and returns the wait error so the
// caller never leaks the wait goroutine.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = Kill(cmd, syscall.SIGKILL)
	return <-waitCh
}
