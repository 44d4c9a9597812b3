// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fsutil

import (
	"context"
	"io/fs"
	"path/filepath"
)

// Usage summarizes disk consumption under a directory tree.
type Usage struct {
	Bytes int64 `json:"bytes"`
	Files int   `json:"files"`
}

// ScanUsage walks root and sums regular file sizes. It honors context
// cancellation between directory entries so a slow disk cannot wedge a
// status request. A missing root reports zero usage.
func ScanUsage(ctx context.Context, root string) (Usage, error) {
	var u Usage
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Root itself missing means an empty library.
			if path == root {
				return filepath.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			u.Bytes += info.Size()
			u.Files++
		}
		return nil
	})
	return u, err
}
