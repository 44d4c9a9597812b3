// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTerminate_KillsWholeGroup(t *testing.T) {
	// A shell that backgrounds a child; both must die with the group.
	cmd := exec.Command("sh", "-c", "sleep 100 & sleep 100")
	Set(cmd)
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	require.Equal(t, pid, pgid, "Set must make the child a group leader")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	_ = Terminate(cmd, waitCh, 2*time.Second)
	require.Less(t, time.Since(start), 5*time.Second, "sleep exits on SIGTERM well inside the grace")

	require.Equal(t, syscall.ESRCH, syscall.Kill(-pgid, syscall.Signal(0)),
		"process group should be gone")
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; while true; do sleep 1; done")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err, "SIGKILL exit surfaces as a wait error")

	pgid := cmd.Process.Pid
	require.Equal(t, syscall.ESRCH, syscall.Kill(-pgid, syscall.Signal(0)))
}

func TestKill_NilAndExited(t *testing.T) {
	require.NoError(t, Kill(nil, syscall.SIGTERM))

	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())
	require.NoError(t, Kill(cmd, syscall.SIGTERM), "signalling an exited process is a no-op")
}
