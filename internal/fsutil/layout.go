// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fsutil owns the on-disk library layout and the filesystem
// primitives the pipeline needs: confined path resolution, atomic writes
// and cross-device safe moves.
//
// Layout:
//
//	<data_dir>/<channel-slug>/audio/<video_id>.<ext>
//	<data_dir>/<channel-slug>/video/<video_id>.<ext>
//	<temp_dir>/<queue_id>/...
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// Variant directory names under a channel dir.
const (
	AudioDir = "audio"
	VideoDir = "video"
)

// Layout resolves paths inside the media library.
type Layout struct {
	DataDir string
	TempDir string
}

// NewLayout builds a layout over the given roots and ensures both exist.
func NewLayout(dataDir, tempDir string) (*Layout, error) {
	for _, dir := range []string{dataDir, tempDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &Layout{DataDir: dataDir, TempDir: tempDir}, nil
}

// ChannelDir returns <data_dir>/<slug>.
func (l *Layout) ChannelDir(slug string) string {
	return filepath.Join(l.DataDir, slug)
}

// VariantDir returns <data_dir>/<slug>/<audio|video> and creates it.
func (l *Layout) VariantDir(slug, variant string) (string, error) {
	if variant != AudioDir && variant != VideoDir {
		return "", fmt.Errorf("unknown variant dir: %s", variant)
	}
	dir := filepath.Join(l.DataDir, slug, variant)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create variant dir: %w", err)
	}
	return dir, nil
}

// MediaPath returns the confined absolute path for a media file, verifying
// the slug and filename cannot escape the library root.
func (l *Layout) MediaPath(slug, variant, filename string) (string, error) {
	rel := filepath.Join(slug, variant, filename)
	return ConfineRelPath(l.DataDir, rel)
}

// WorkDir creates and returns a per-job scratch directory under the temp
// root. Callers must remove it when done.
func (l *Layout) WorkDir(id string) (string, error) {
	confined, err := ConfineRelPath(l.TempDir, id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(confined, 0750); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return confined, nil
}

// CleanWorkDir removes a per-job scratch directory. Missing dirs are fine.
func (l *Layout) CleanWorkDir(id string) error {
	confined, err := ConfineRelPath(l.TempDir, id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(confined); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove work dir: %w", err)
	}
	return nil
}

// ResetTempDir clears leftover scratch directories from a previous run.
// Called once at startup, before any worker claims a job.
func (l *Layout) ResetTempDir() error {
	entries, err := os.ReadDir(l.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(l.TempDir, 0750)
		}
		return fmt.Errorf("read temp dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(l.TempDir, e.Name())); err != nil {
			return fmt.Errorf("remove stale temp entry %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RemoveMedia deletes a media file and prunes its variant and channel dirs
// if they became empty. Missing files are not an error, retention must be
// idempotent.
func (l *Layout) RemoveMedia(slug, variant, filename string) error {
	path, err := l.MediaPath(slug, variant, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove media: %w", err)
	}
	// Prune empty dirs, best effort.
	_ = removeIfEmpty(filepath.Dir(path))
	_ = removeIfEmpty(l.ChannelDir(slug))
	return nil
}

func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return err
	}
	return os.Remove(dir)
}
