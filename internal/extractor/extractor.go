// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package extractor wraps the yt-dlp binary behind three operations:
// channel listing, per-video metadata and source download. Every call is
// a fresh child process in its own process group with an operation-class
// timeout, and every failure leaves the package already classified: the
// worker switches on core.FailureKind, never on stderr text.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/procgroup"
	"github.com/ManuGH/vid2pod/internal/ratelimit"
)

// Config locates the binary and bounds each operation class.
type Config struct {
	Path            string
	ListTimeout     time.Duration
	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
	KillGrace       time.Duration
}

// Client invokes yt-dlp. Safe for concurrent use; the shared throttle
// spaces out calls across workers and refresh runs.
type Client struct {
	cfg      Config
	throttle *ratelimit.Throttle

	// execFn replaces the child process in tests.
	execFn func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// New builds a client. A nil throttle disables upstream pacing.
func New(cfg Config, throttle *ratelimit.Throttle) *Client {
	if cfg.Path == "" {
		cfg.Path = "yt-dlp"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &Client{cfg: cfg, throttle: throttle}
}

// ExecError carries the diagnostics of a failed invocation.
type ExecError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("yt-dlp exited %d: %s", e.ExitCode, strings.Join(e.Args, " "))
	}
	return fmt.Sprintf("yt-dlp failed: %s", strings.Join(e.Args, " "))
}

func (e *ExecError) Unwrap() error { return e.Err }

// Download is what a successful source fetch leaves in the work dir.
type Download struct {
	SourcePath    string
	ThumbnailPath string // empty when upstream offers none
}

// ListChannelVideos returns the newest limit entries of a channel,
// upstream order, without resolving each video. Flat extraction keeps
// this cheap enough to run on every refresh.
func (c *Client) ListChannelVideos(ctx context.Context, channelURL string, limit int) ([]core.VideoRef, error) {
	if limit < 1 {
		limit = 1
	}
	args := []string{
		"--dump-json",
		"--flat-playlist",
		"--skip-download",
		"--playlist-end", strconv.Itoa(limit),
		"--no-warnings",
		"--no-progress",
		channelURL,
	}

	stdout, err := c.run(ctx, c.cfg.ListTimeout, args)
	if err != nil {
		return nil, classify("extractor.list", err)
	}

	var refs []core.VideoRef
	for _, line := range bytes.Split(stdout, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var entry struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			Timestamp  *int64 `json:"timestamp"`
			UploadDate string `json:"upload_date"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, core.NewExternalError(core.FailureTool, "extractor.list",
				"malformed listing entry", err)
		}
		if entry.ID == "" {
			continue
		}
		refs = append(refs, core.VideoRef{
			VideoID:     entry.ID,
			Title:       entry.Title,
			PublishedAt: publishedAt(entry.Timestamp, entry.UploadDate),
		})
	}
	return refs, nil
}

// FetchVideoMetadata resolves one video's detail record.
func (c *Client) FetchVideoMetadata(ctx context.Context, videoID string) (*core.VideoMetadata, error) {
	args := []string{
		"--dump-single-json",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		core.WatchURL(videoID),
	}

	stdout, err := c.run(ctx, c.cfg.MetadataTimeout, args)
	if err != nil {
		return nil, classify("extractor.metadata", err)
	}

	var info struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Thumbnail   string  `json:"thumbnail"`
		Duration    float64 `json:"duration"`
		Timestamp   *int64  `json:"timestamp"`
		UploadDate  string  `json:"upload_date"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &info); err != nil {
		return nil, core.NewExternalError(core.FailureTool, "extractor.metadata",
			"malformed metadata document", err)
	}

	return &core.VideoMetadata{
		Title:           info.Title,
		Description:     info.Description,
		ThumbnailURL:    info.Thumbnail,
		DurationSeconds: int(info.Duration),
		PublishedAt:     publishedAt(info.Timestamp, info.UploadDate),
	}, nil
}

// DownloadVideo fetches the source media for videoID into destDir as
// <video_id>.<ext> plus a thumbnail sidecar when upstream has one. The
// best available combined format is requested so a single source feeds
// both the audio and the video transcode.
func (c *Client) DownloadVideo(ctx context.Context, videoID, destDir string) (*Download, error) {
	args := []string{
		"-o", filepath.Join(destDir, "%(id)s.%(ext)s"),
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"--write-thumbnail",
		"--format", "bestvideo*+bestaudio/best",
		core.WatchURL(videoID),
	}

	if _, err := c.run(ctx, c.cfg.DownloadTimeout, args); err != nil {
		return nil, classify("extractor.download", err)
	}

	dl, err := findArtifacts(destDir, videoID)
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// Version reports the binary version, for the boot log and diagnostics.
func (c *Client) Version(ctx context.Context) (string, error) {
	stdout, err := c.run(ctx, c.cfg.MetadataTimeout, []string{"--version"})
	if err != nil {
		return "", classify("extractor.version", err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (c *Client) run(ctx context.Context, timeout time.Duration, args []string) ([]byte, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if c.execFn != nil {
		stdout, stderr, err := c.execFn(ctx, c.cfg.Path, args...)
		if err != nil {
			return stdout, wrapExec(ctx, args, string(stderr), err)
		}
		return stdout, nil
	}

	logger := log.WithComponentFromContext(ctx, "extractor")
	logger.Debug().Str("event", "extractor.exec").Strs("args", args).Msg("invoking yt-dlp")

	cmd := exec.Command(c.cfg.Path, args...) // #nosec G204 -- path from validated config
	procgroup.Set(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &ExecError{Args: args, Err: err}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		if err != nil {
			return stdout.Bytes(), wrapExec(ctx, args, stderr.String(), err)
		}
		return stdout.Bytes(), nil
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, c.cfg.KillGrace)
		return nil, wrapExec(ctx, args, stderr.String(), ctx.Err())
	}
}

func wrapExec(ctx context.Context, args []string, stderr string, cause error) error {
	// Deadline and cancellation must stay visible through the wrap so the
	// caller can tell shutdown from failure.
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause = ctxErr
	}

	exitCode := 0
	var ee *exec.ExitError
	if errors.As(cause, &ee) {
		exitCode = ee.ExitCode()
	}

	return &ExecError{
		Args:     args,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Err:      cause,
	}
}

// findArtifacts locates the downloaded media and its thumbnail sidecar.
func findArtifacts(destDir, videoID string) (*Download, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return nil, core.NewExternalError(core.FailureTool, "extractor.download",
			"work dir unreadable after download", err)
	}

	var dl Download
	prefix := videoID + "."
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".jpg", ".jpeg", ".png", ".webp":
			dl.ThumbnailPath = filepath.Join(destDir, name)
		case ".part", ".ytdl", ".json", ".tmp":
			// in-flight leftovers, never the artifact
		default:
			dl.SourcePath = filepath.Join(destDir, name)
		}
	}

	if dl.SourcePath == "" {
		return nil, core.NewExternalError(core.FailureTool, "extractor.download",
			"download produced no media file", nil)
	}
	return &dl, nil
}

func publishedAt(timestamp *int64, uploadDate string) *time.Time {
	if timestamp != nil && *timestamp > 0 {
		t := time.Unix(*timestamp, 0).UTC()
		return &t
	}
	if len(uploadDate) == 8 {
		if t, err := time.Parse("20060102", uploadDate); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
