// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path confinement for everything served from or written into the
// library. Both Confine functions return the symlink-resolved target and
// fail closed when the target, after resolution, lands outside the
// resolved root.

// ConfineRelPath joins relTarget onto root and verifies the result stays
// physically under root. The target must be relative.
func ConfineRelPath(root, relTarget string) (string, error) {
	if err := rejectBackslash(relTarget); err != nil {
		return "", err
	}

	cleanRel := filepath.Clean(relTarget)
	if filepath.IsAbs(cleanRel) || strings.HasPrefix(cleanRel, "/") {
		return "", fmt.Errorf("confine: %q is not relative", relTarget)
	}
	// Clean folds "a/../b" to "b"; what it cannot fold is a leading "..",
	// which by definition points outside the root.
	if leavesRoot(cleanRel) {
		return "", fmt.Errorf("confine: %q climbs out of the root", relTarget)
	}

	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}
	return checkWithin(realRoot, filepath.Join(realRoot, cleanRel))
}

// ConfineAbsPath verifies the absolute target stays physically under
// root after symlink resolution.
func ConfineAbsPath(rootAbs, targetAbs string) (string, error) {
	if err := rejectBackslash(targetAbs); err != nil {
		return "", err
	}
	if !filepath.IsAbs(targetAbs) {
		return "", fmt.Errorf("confine: %q is not absolute", targetAbs)
	}

	realRoot, err := resolveRoot(rootAbs)
	if err != nil {
		return "", err
	}
	return checkWithin(realRoot, filepath.Clean(targetAbs))
}

// rejectBackslash blocks backslashes outright: on unix they are legal
// filename bytes, and accepting them invites separator confusion the
// moment a path crosses into URLs.
func rejectBackslash(p string) error {
	if strings.Contains(p, "\\") {
		return fmt.Errorf("confine: %q contains a backslash", p)
	}
	return nil
}

// resolveRoot canonicalizes the confinement root. A root that does not
// exist is an error; a root that resists symlink resolution for any
// other reason is used as-is.
func resolveRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("confine root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		return absRoot, nil
	}
	return realRoot, nil
}

// checkWithin resolves fullPath and verifies it sits under realRoot.
func checkWithin(realRoot, fullPath string) (string, error) {
	realPath, err := resolveTarget(fullPath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("confine: relativize: %w", err)
	}
	if leavesRoot(rel) {
		return "", fmt.Errorf("confine: %q resolves outside the root", realPath)
	}
	return realPath, nil
}

// resolveTarget canonicalizes fullPath. An existing path must resolve or
// the check fails closed; a path still to be created resolves through
// its parent so a symlinked directory cannot smuggle the file elsewhere.
func resolveTarget(fullPath string) (string, error) {
	if _, err := os.Lstat(fullPath); err == nil {
		rp, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			return "", fmt.Errorf("confine: resolve target: %w", err)
		}
		return rp, nil
	}

	dir := filepath.Dir(fullPath)
	rp, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			// Parent exists but would not resolve (permissions, loop).
			return "", fmt.Errorf("confine: resolve parent: %v", err)
		}
		// Parent does not exist yet either; the Rel check still guards
		// the lexical path.
		return fullPath, nil
	}
	return filepath.Join(rp, filepath.Base(fullPath)), nil
}

func leavesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsRegularFile checks that path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%q is not a regular file", path)
	}
	return nil
}
