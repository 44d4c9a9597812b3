// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package transcoder wraps the ffmpeg binary for the two episode
// variants: an audio-only extract and a streamable mp4. Invocations run
// in their own process group under a single transcode timeout; failures
// come back classified with the tail of stderr as the detail.
package transcoder

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/procgroup"
)

// Config locates the binary and bounds each transcode.
type Config struct {
	Path      string
	Timeout   time.Duration
	KillGrace time.Duration
}

// Client invokes ffmpeg. Safe for concurrent use; each call is an
// independent child process.
type Client struct {
	cfg Config

	// execFn replaces the child process in tests.
	execFn func(ctx context.Context, name string, args ...string) (stderr []byte, err error)
}

// New builds a client.
func New(cfg Config) *Client {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &Client{cfg: cfg}
}

// ToAudio extracts the audio track of input into output per spec and
// returns the output size in bytes.
func (c *Client) ToAudio(ctx context.Context, input, output string, spec AudioSpec) (int64, error) {
	args, err := buildAudioArgs(input, output, spec)
	if err != nil {
		return 0, core.Internalf("transcoder.audio", err)
	}
	if err := c.run(ctx, "transcoder.audio", args); err != nil {
		return 0, err
	}
	return outputSize("transcoder.audio", output)
}

// ToVideo transcodes input into a streamable mp4 at output and returns
// the output size in bytes.
func (c *Client) ToVideo(ctx context.Context, input, output string, spec VideoSpec) (int64, error) {
	args, err := buildVideoArgs(input, output, spec)
	if err != nil {
		return 0, core.Internalf("transcoder.video", err)
	}
	if err := c.run(ctx, "transcoder.video", args); err != nil {
		return 0, err
	}
	return outputSize("transcoder.video", output)
}

// Version reports the binary version line, for the boot log.
func (c *Client) Version(ctx context.Context) (string, error) {
	if c.execFn != nil {
		stderr, err := c.execFn(ctx, c.cfg.Path, "-version")
		if err != nil {
			return "", core.NewExternalError(core.FailureTool, "transcoder.version", string(stderr), err)
		}
		return firstLine(string(stderr)), nil
	}
	out, err := exec.CommandContext(ctx, c.cfg.Path, "-version").Output() // #nosec G204 -- path from validated config
	if err != nil {
		return "", core.NewExternalError(core.FailureTool, "transcoder.version", "version probe failed", err)
	}
	return firstLine(string(out)), nil
}

func (c *Client) run(ctx context.Context, op string, args []string) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	ring := newLineRing(64)

	if c.execFn != nil {
		stderr, err := c.execFn(ctx, c.cfg.Path, args...)
		_, _ = ring.Write(stderr)
		if err != nil {
			return classifyRun(op, ring, err)
		}
		return nil
	}

	logger := log.WithComponentFromContext(ctx, "transcoder")
	logger.Debug().Str("event", "transcoder.exec").Strs("args", args).Msg("invoking ffmpeg")

	cmd := exec.Command(c.cfg.Path, args...) // #nosec G204 -- path from validated config
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return core.Internalf(op, err)
	}

	// Drain stderr into the ring before reading the exit status, so a
	// failure report always has the lines that explain it.
	var ioWg sync.WaitGroup
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = ring.Write(scanner.Bytes())
			_, _ = ring.Write([]byte("\n"))
		}
	}()

	if err := cmd.Start(); err != nil {
		return core.NewExternalError(core.FailureTool, op, "ffmpeg start failed", err)
	}

	waitCh := make(chan error, 1)
	go func() {
		ioWg.Wait()
		waitCh <- cmd.Wait()
	}()

	select {
	case waitErr := <-waitCh:
		if waitErr != nil {
			return classifyRun(op, ring, waitErr)
		}
		return nil
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, c.cfg.KillGrace)
		return classifyRun(op, ring, ctx.Err())
	}
}

// classifyRun turns a failed invocation into a typed error. Cancellation
// passes through raw so shutdown is never recorded as a failure.
func classifyRun(op string, ring *lineRing, err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewExternalError(core.FailureTimeout, op, "transcode deadline exceeded", err)
	}
	return core.NewExternalError(core.FailureTool, op, ring.tail(), err)
}

// outputSize verifies the run left a non-empty artifact.
func outputSize(op, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, core.NewExternalError(core.FailureTool, op, "transcode produced no output", err)
	}
	if info.Size() == 0 {
		return 0, core.NewExternalError(core.FailureTool, op, "transcode produced an empty file", nil)
	}
	return info.Size(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
