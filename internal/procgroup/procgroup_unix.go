// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// Setpgid makes the child a group leader, so its PID is the PGID and
	// a negative target signals the whole group.
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return ignoreGone(err)
	}
	return ignoreGone(syscall.Kill(-pgid, sig))
}

// ignoreGone treats an already-exited group as success.
func ignoreGone(err error) error {
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
