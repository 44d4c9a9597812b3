// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ManuGH/vid2pod/internal/core"
)

const queueColumns = `id, episode_id, priority, status, attempts, max_attempts,
	last_error, next_retry_at, created_at, updated_at`

// Claim is the unit of work a worker owns: the queue entry that was
// flipped to in_progress plus the episode and channel it belongs to.
// Entry.Attempts acts as a lease token; outcome writes only apply while
// the stored attempts still match, so a reaped-and-reclaimed entry
// rejects writes from the worker that lost it.
type Claim struct {
	Entry   *core.QueueEntry
	Episode *core.Episode
	Channel *core.Channel
}

// Artifacts describes what a finished pipeline run produced.
type Artifacts struct {
	AudioPath       string
	VideoPath       string
	AudioSize       int64
	VideoSize       int64
	DurationSeconds int
}

// ClaimNext atomically claims the highest-priority claimable queue entry.
// Claimable means pending, retry budget left, and any next_retry_at in the
// past. Ties break oldest-first. Returns (nil, nil) when nothing is
// claimable.
//
// The DSN opens every transaction with BEGIN IMMEDIATE, so concurrent
// claimers serialize on the SQLite write lock and never hand out the same
// entry twice.
func (s *Store) ClaimNext(ctx context.Context) (*Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.Internalf("store.claim_next", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Truncate(time.Second)
	row := tx.QueryRowContext(ctx, `
	SELECT `+queueColumns+` FROM queue
	WHERE status = 'pending'
	  AND attempts < max_attempts
	  AND (next_retry_at IS NULL OR next_retry_at <= ?)
	ORDER BY priority ASC, created_at ASC, id ASC
	LIMIT 1
	`, fmtTime(now))

	entry, err := scanQueueEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, core.Internalf("store.claim_next", err)
	}

	entry.Attempts++
	entry.Status = core.QueueInProgress
	entry.NextRetryAt = nil
	entry.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
	UPDATE queue
	SET status = 'in_progress', attempts = ?, next_retry_at = NULL, updated_at = ?
	WHERE id = ?
	`, entry.Attempts, fmtTime(now), entry.ID)
	if err != nil {
		return nil, core.Internalf("store.claim_next", err)
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE episodes SET status = 'downloading', retry_count = ?, updated_at = ?
	WHERE id = ?
	`, entry.Attempts, fmtTime(now), entry.EpisodeID)
	if err != nil {
		return nil, core.Internalf("store.claim_next", err)
	}

	episode, err := scanEpisode(tx.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, entry.EpisodeID))
	if err != nil {
		return nil, core.Internalf("store.claim_next", err)
	}

	channel, err := scanChannel(tx.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = ?`, episode.ChannelID))
	if err != nil {
		return nil, core.Internalf("store.claim_next", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, core.Internalf("store.claim_next", err)
	}
	return &Claim{Entry: entry, Episode: episode, Channel: channel}, nil
}

// MarkProcessing advances a claimed episode from downloading to
// processing once the source media is on local disk.
func (s *Store) MarkProcessing(ctx context.Context, episodeID string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE episodes SET status = 'processing', updated_at = ?
	WHERE id = ? AND status = 'downloading'
	`, fmtTime(time.Now()), episodeID)
	if err != nil {
		return core.Internalf("store.mark_processing", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.StateConflictError{
			Op:      "mark processing",
			Current: s.episodeStatus(ctx, episodeID),
			Message: "episode is not in downloading state",
		}
	}
	return nil
}

// CompleteClaim records a successful pipeline run: the queue entry
// completes and the episode receives its artifacts. Fails with a state
// conflict when the claim was lost in the meantime.
func (s *Store) CompleteClaim(ctx context.Context, claim *Claim, result Artifacts) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Internalf("store.complete_claim", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := fmtTime(time.Now())
	if err := s.guardClaim(ctx, tx, claim, `
	UPDATE queue
	SET status = 'completed', next_retry_at = NULL, last_error = NULL, updated_at = ?
	WHERE id = ? AND status = 'in_progress' AND attempts = ?
	`, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE episodes
	SET status = 'completed', downloaded_at = ?,
	    file_path_audio = ?, file_path_video = ?,
	    file_size_audio = ?, file_size_video = ?,
	    duration_seconds = CASE WHEN ? > 0 THEN ? ELSE duration_seconds END,
	    error_message = NULL, updated_at = ?
	WHERE id = ?
	`, now,
		nullIfEmpty(result.AudioPath), nullIfEmpty(result.VideoPath),
		nullIfZero(result.AudioSize), nullIfZero(result.VideoSize),
		result.DurationSeconds, result.DurationSeconds, now, claim.Episode.ID)
	if err != nil {
		return core.Internalf("store.complete_claim", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Internalf("store.complete_claim", err)
	}

	s.notifyFeedChange(claim.Episode.ChannelID)
	return nil
}

// FailClaimRetry records a retryable failure: the entry returns to
// pending with a backoff deadline and the episode follows. The error text
// lands on the queue entry only; episode error_message is reserved for
// terminal failures.
func (s *Store) FailClaimRetry(ctx context.Context, claim *Claim, lastError string, nextRetryAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Internalf("store.fail_claim", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := fmtTime(time.Now())
	if err := s.guardClaim(ctx, tx, claim, `
	UPDATE queue
	SET status = 'pending', next_retry_at = ?, last_error = ?, updated_at = ?
	WHERE id = ? AND status = 'in_progress' AND attempts = ?
	`, fmtTime(nextRetryAt), lastError, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE episodes SET status = 'pending', error_message = NULL, updated_at = ?
	WHERE id = ?
	`, now, claim.Episode.ID)
	if err != nil {
		return core.Internalf("store.fail_claim", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Internalf("store.fail_claim", err)
	}
	return nil
}

// FailClaimTerminal records a permanent failure: both the entry and the
// episode move to failed and the episode keeps the error message for the
// management API.
func (s *Store) FailClaimTerminal(ctx context.Context, claim *Claim, lastError string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Internalf("store.fail_claim", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := fmtTime(time.Now())
	if err := s.guardClaim(ctx, tx, claim, `
	UPDATE queue
	SET status = 'failed', next_retry_at = NULL, last_error = ?, updated_at = ?
	WHERE id = ? AND status = 'in_progress' AND attempts = ?
	`, lastError, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE episodes SET status = 'failed', error_message = ?, updated_at = ?
	WHERE id = ?
	`, lastError, now, claim.Episode.ID)
	if err != nil {
		return core.Internalf("store.fail_claim", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Internalf("store.fail_claim", err)
	}
	return nil
}

// ReleaseClaim hands a claim back untouched, typically on shutdown. The
// attempt the claim consumed is refunded so an interrupted run does not
// burn retry budget.
func (s *Store) ReleaseClaim(ctx context.Context, claim *Claim) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Internalf("store.release_claim", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := fmtTime(time.Now())
	if err := s.guardClaim(ctx, tx, claim, `
	UPDATE queue SET status = 'pending', attempts = attempts - 1, updated_at = ?
	WHERE id = ? AND status = 'in_progress' AND attempts = ?
	`, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE episodes SET status = 'pending', retry_count = ?, updated_at = ?
	WHERE id = ?
	`, claim.Entry.Attempts-1, now, claim.Episode.ID)
	if err != nil {
		return core.Internalf("store.release_claim", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Internalf("store.release_claim", err)
	}
	return nil
}

// guardClaim runs an outcome update whose WHERE clause carries the lease
// check (status = in_progress AND attempts = claimed). Zero rows means the
// claim was reaped or cancelled while the worker ran.
func (s *Store) guardClaim(ctx context.Context, tx *sql.Tx, claim *Claim, query string, leading ...any) error {
	args := append(leading, claim.Entry.ID, claim.Entry.Attempts)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return core.Internalf("store.guard_claim", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.StateConflictError{
			Op:      "write claim outcome",
			Current: s.queueStatusTx(ctx, tx, claim.Entry.ID),
			Message: "claim is no longer held by this worker",
		}
	}
	return nil
}

// TouchClaim refreshes the lease heartbeat so the stale-claim reaper
// leaves a live worker alone.
func (s *Store) TouchClaim(ctx context.Context, claim *Claim) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE queue SET updated_at = ? WHERE id = ? AND status = 'in_progress'
	`, fmtTime(time.Now()), claim.Entry.ID)
	if err != nil {
		return core.Internalf("store.touch_claim", err)
	}
	return nil
}

// RevertStale returns orphaned in_progress entries to the queue. Entries
// whose heartbeat is older than cutoff lost their worker (crash, kill -9);
// those with retry budget left go back to pending, the rest fail
// terminally. Returns how many entries were reverted or failed.
//
// Called once at startup with a zero cutoff offset to sweep everything,
// then periodically by the reaper.
func (s *Store) RevertStale(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, core.Internalf("store.revert_stale", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
	SELECT id, episode_id, attempts, max_attempts FROM queue
	WHERE status = 'in_progress' AND updated_at < ?
	`, fmtTime(cutoff))
	if err != nil {
		return 0, core.Internalf("store.revert_stale", err)
	}

	type stale struct {
		id, episodeID string
		exhausted     bool
	}
	var found []stale
	for rows.Next() {
		var st stale
		var attempts, maxAttempts int
		if err := rows.Scan(&st.id, &st.episodeID, &attempts, &maxAttempts); err != nil {
			_ = rows.Close()
			return 0, core.Internalf("store.revert_stale", err)
		}
		st.exhausted = attempts >= maxAttempts
		found = append(found, st)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, core.Internalf("store.revert_stale", err)
	}
	_ = rows.Close()

	now := fmtTime(time.Now())
	for _, st := range found {
		if st.exhausted {
			// The interrupted run was the final attempt; reverting to pending
			// would let attempts exceed the budget on the next claim.
			const msg = "worker lost the claim on the final attempt"
			if _, err := tx.ExecContext(ctx, `
			UPDATE queue SET status = 'failed', last_error = ?, next_retry_at = NULL, updated_at = ?
			WHERE id = ?
			`, msg, now, st.id); err != nil {
				return 0, core.Internalf("store.revert_stale", err)
			}
			if _, err := tx.ExecContext(ctx, `
			UPDATE episodes SET status = 'failed', error_message = ?, updated_at = ?
			WHERE id = ?
			`, msg, now, st.episodeID); err != nil {
				return 0, core.Internalf("store.revert_stale", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
		UPDATE queue SET status = 'pending', next_retry_at = NULL, updated_at = ?
		WHERE id = ?
		`, now, st.id); err != nil {
			return 0, core.Internalf("store.revert_stale", err)
		}
		if _, err := tx.ExecContext(ctx, `
		UPDATE episodes SET status = 'pending', updated_at = ?
		WHERE id = ?
		`, now, st.episodeID); err != nil {
			return 0, core.Internalf("store.revert_stale", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, core.Internalf("store.revert_stale", err)
	}
	return len(found), nil
}

// GetQueueEntryByEpisode retrieves the queue entry belonging to an episode.
func (s *Store) GetQueueEntryByEpisode(ctx context.Context, episodeID string) (*core.QueueEntry, error) {
	entry, err := scanQueueEntry(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue WHERE episode_id = ?`, episodeID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &core.NotFoundError{Entity: "queue entry", Key: episodeID}
		}
		return nil, core.Internalf("store.get_queue_entry", err)
	}
	return entry, nil
}

// ListQueueEntries returns entries in claim order, optionally filtered by
// status. Limit 0 means no limit.
func (s *Store) ListQueueEntries(ctx context.Context, status core.QueueStatus, limit int) ([]core.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status.String())
	}
	query += ` ORDER BY priority ASC, created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.Internalf("store.list_queue", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []core.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, core.Internalf("store.list_queue", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// CountQueueByStatus returns queue entry counts grouped by status.
func (s *Store) CountQueueByStatus(ctx context.Context) (map[core.QueueStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue GROUP BY status`)
	if err != nil {
		return nil, core.Internalf("store.count_queue", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[core.QueueStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, core.Internalf("store.count_queue", err)
		}
		counts[core.QueueStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) episodeStatus(ctx context.Context, id string) string {
	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM episodes WHERE id = ?`, id).Scan(&status); err != nil {
		return "unknown"
	}
	return status
}

func (s *Store) queueStatusTx(ctx context.Context, tx *sql.Tx, id string) string {
	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM queue WHERE id = ?`, id).Scan(&status); err != nil {
		return "unknown"
	}
	return status
}

func getQueueEntryTx(ctx context.Context, tx *sql.Tx, where, arg string) (*core.QueueEntry, error) {
	return scanQueueEntry(tx.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue WHERE `+where, arg))
}

func scanQueueEntry(row interface{ Scan(...any) error }) (*core.QueueEntry, error) {
	var entry core.QueueEntry
	var lastErr, nextRetry sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(
		&entry.ID, &entry.EpisodeID, &entry.Priority, &status,
		&entry.Attempts, &entry.MaxAttempts, &lastErr, &nextRetry,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Status = core.QueueStatus(status)
	entry.LastError = lastErr.String
	entry.NextRetryAt = parseTimePtr(nextRetry)
	entry.CreatedAt = parseTime(createdAt)
	entry.UpdatedAt = parseTime(updatedAt)
	return &entry, nil
}
