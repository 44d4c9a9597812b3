// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder

import (
	"strings"
	"sync"
)

// lineRing keeps the last N stderr lines of one invocation. ffmpeg is
// chatty on failure and silent on success; the ring bounds what a failed
// run can pin in memory while preserving the lines that matter, which
// are the last ones.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	head  int
}

func newLineRing(capacity int) *lineRing {
	if capacity < 1 {
		capacity = 32
	}
	return &lineRing{lines: make([]string, capacity)}
}

// Write implements io.Writer over line-oriented input. Partial lines in
// a single write are kept whole; splits across writes are rare enough on
// stderr to ignore.
func (r *lineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % len(r.lines)
	}
	return len(p), nil
}

// lastN returns up to n lines, oldest first.
func (r *lineRing) lastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]string, 0, len(r.lines))
	for i := 0; i < len(r.lines); i++ {
		idx := (r.head + i) % len(r.lines)
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// tail returns the most informative line for an error message: the last
// line written, or a placeholder when the run was silent.
func (r *lineRing) tail() string {
	lines := r.lastN(1)
	if len(lines) == 0 {
		return "ffmpeg exited without diagnostics"
	}
	return lines[0]
}
