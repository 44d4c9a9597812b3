// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/vid2pod/internal/core"
)

const episodeColumns = `id, video_id, channel_id, title, description, thumbnail,
	duration_seconds, published_at, downloaded_at, file_path_audio, file_path_video,
	file_size_audio, file_size_video, status, retry_count, error_message,
	created_at, updated_at`

// EpisodeFilter narrows episode listings.
type EpisodeFilter struct {
	ChannelID string
	Status    core.EpisodeStatus // zero value matches all
	Limit     int                // 0 means no limit
	Offset    int
}

// CreateEpisode inserts a pending episode and, when enqueue is set, its
// queue entry in the same transaction so the two never drift. A duplicate
// video_id surfaces as core.DuplicateError; the refresh dedup path treats
// that as "already known" and moves on.
func (s *Store) CreateEpisode(ctx context.Context, ep *core.Episode, enqueue bool, priority, maxAttempts int) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	ep.CreatedAt = now
	ep.UpdatedAt = now
	if ep.Status == "" {
		ep.Status = core.EpisodePending
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Internalf("store.create_episode", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO episodes (`+episodeColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ep.ID, ep.VideoID, ep.ChannelID, ep.Title, ep.Description, ep.Thumbnail,
		ep.DurationSeconds, fmtTimePtr(ep.PublishedAt), fmtTimePtr(ep.DownloadedAt),
		nullIfEmpty(ep.FilePathAudio), nullIfEmpty(ep.FilePathVideo),
		nullIfZero(ep.FileSizeAudio), nullIfZero(ep.FileSizeVideo),
		ep.Status.String(), ep.RetryCount, nullIfEmpty(ep.ErrorMessage),
		fmtTime(ep.CreatedAt), fmtTime(ep.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &core.DuplicateError{Entity: "episode", Key: ep.VideoID}
		}
		return core.Internalf("store.create_episode", err)
	}

	if enqueue {
		if priority == 0 {
			priority = core.DefaultPriority
		}
		if maxAttempts == 0 {
			maxAttempts = core.DefaultMaxAttempts
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO queue (id, episode_id, priority, status, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)
		`, uuid.NewString(), ep.ID, priority, maxAttempts, fmtTime(now), fmtTime(now))
		if err != nil {
			return core.Internalf("store.create_episode", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Internalf("store.create_episode", err)
	}
	return nil
}

// GetEpisode retrieves an episode by ID.
func (s *Store) GetEpisode(ctx context.Context, id string) (*core.Episode, error) {
	return s.getEpisodeWhere(ctx, "id = ?", id)
}

// GetEpisodeByVideoID retrieves an episode by its upstream video id.
func (s *Store) GetEpisodeByVideoID(ctx context.Context, videoID string) (*core.Episode, error) {
	return s.getEpisodeWhere(ctx, "video_id = ?", videoID)
}

func (s *Store) getEpisodeWhere(ctx context.Context, where, arg string) (*core.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE ` + where
	ep, err := scanEpisode(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &core.NotFoundError{Entity: "episode", Key: arg}
		}
		return nil, core.Internalf("store.get_episode", err)
	}
	return ep, nil
}

// UpdateEpisodeMetadata enriches an episode with the extractor's detail
// record: title, description, thumbnail, duration and the precise publish
// timestamp. Zero-valued fields keep the stored value, so a sparse
// metadata document never erases what the listing discovered.
func (s *Store) UpdateEpisodeMetadata(ctx context.Context, id string, md *core.VideoMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Internalf("store.update_episode_metadata", err)
	}
	defer func() { _ = tx.Rollback() }()

	var channelID string
	err = tx.QueryRowContext(ctx, `SELECT channel_id FROM episodes WHERE id = ?`, id).Scan(&channelID)
	if err != nil {
		if err == sql.ErrNoRows {
			return &core.NotFoundError{Entity: "episode", Key: id}
		}
		return core.Internalf("store.update_episode_metadata", err)
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE episodes
	SET title = CASE WHEN ? != '' THEN ? ELSE title END,
	    description = CASE WHEN ? != '' THEN ? ELSE description END,
	    thumbnail = CASE WHEN ? != '' THEN ? ELSE thumbnail END,
	    duration_seconds = CASE WHEN ? > 0 THEN ? ELSE duration_seconds END,
	    published_at = COALESCE(?, published_at),
	    updated_at = ?
	WHERE id = ?
	`,
		md.Title, md.Title,
		md.Description, md.Description,
		md.ThumbnailURL, md.ThumbnailURL,
		md.DurationSeconds, md.DurationSeconds,
		fmtTimePtr(md.PublishedAt), fmtTime(time.Now()), id,
	)
	if err != nil {
		return core.Internalf("store.update_episode_metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Internalf("store.update_episode_metadata", err)
	}

	s.notifyFeedChange(channelID)
	return nil
}

// ListEpisodes retrieves episodes matching the filter, newest published
// first. Episodes without a published timestamp sort last, then by
// creation time.
func (s *Store) ListEpisodes(ctx context.Context, f EpisodeFilter) ([]core.Episode, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + episodeColumns + ` FROM episodes`)

	var conds []string
	var args []any
	if f.ChannelID != "" {
		conds = append(conds, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status.String())
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY published_at IS NULL, published_at DESC, created_at DESC, id")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, core.Internalf("store.list_episodes", err)
	}
	defer func() { _ = rows.Close() }()

	var episodes []core.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, core.Internalf("store.list_episodes", err)
		}
		episodes = append(episodes, *ep)
	}
	return episodes, rows.Err()
}

// ListFeedEpisodes returns the feed item set for one channel: completed,
// downloaded, newest published first, capped at the channel window.
func (s *Store) ListFeedEpisodes(ctx context.Context, channelID string, window int) ([]core.Episode, error) {
	query := `
	SELECT ` + episodeColumns + ` FROM episodes
	WHERE channel_id = ? AND status = 'completed' AND downloaded_at IS NOT NULL
	ORDER BY published_at IS NULL, published_at DESC, created_at DESC, id
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, channelID, window)
	if err != nil {
		return nil, core.Internalf("store.list_feed_episodes", err)
	}
	defer func() { _ = rows.Close() }()

	var episodes []core.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, core.Internalf("store.list_feed_episodes", err)
		}
		episodes = append(episodes, *ep)
	}
	return episodes, rows.Err()
}

// CountEpisodesByStatus returns episode counts grouped by status.
func (s *Store) CountEpisodesByStatus(ctx context.Context) (map[core.EpisodeStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM episodes GROUP BY status`)
	if err != nil {
		return nil, core.Internalf("store.count_episodes", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[core.EpisodeStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, core.Internalf("store.count_episodes", err)
		}
		counts[core.EpisodeStatus(status)] = n
	}
	return counts, rows.Err()
}

// ListEvictionCandidates returns completed episodes beyond the channel's
// rolling window, oldest-published portion of the completed set.
func (s *Store) ListEvictionCandidates(ctx context.Context, channelID string, window int) ([]core.Episode, error) {
	query := `
	SELECT ` + episodeColumns + ` FROM episodes
	WHERE channel_id = ? AND status = 'completed'
	ORDER BY published_at IS NULL, published_at DESC, created_at DESC, id
	LIMIT -1 OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, channelID, window)
	if err != nil {
		return nil, core.Internalf("store.list_eviction_candidates", err)
	}
	defer func() { _ = rows.Close() }()

	var episodes []core.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, core.Internalf("store.list_eviction_candidates", err)
		}
		episodes = append(episodes, *ep)
	}
	return episodes, rows.Err()
}

// EvictEpisode transitions a completed episode to deleted, clearing its
// path and size columns. Returns the relative paths that were set so the
// caller can remove the files after the commit. Evicting a non-completed
// episode is a state conflict.
func (s *Store) EvictEpisode(ctx context.Context, id string) ([]string, error) {
	return s.markDeleted(ctx, id, func(status core.EpisodeStatus) error {
		if status != core.EpisodeCompleted {
			return &core.StateConflictError{
				Op:      "evict episode",
				Current: status.String(),
				Message: "only completed episodes are evicted",
			}
		}
		return nil
	})
}

// DeleteEpisode is the management-API delete: it refuses while a worker
// owns the episode (409), cancels any live queue entry, and transitions
// the episode to deleted. Returns relative file paths to remove.
func (s *Store) DeleteEpisode(ctx context.Context, id string) ([]string, error) {
	return s.markDeleted(ctx, id, func(status core.EpisodeStatus) error {
		if status.InFlight() {
			return &core.StateConflictError{
				Op:      "delete episode",
				Current: status.String(),
				Message: "episode is being processed; retry after it finishes",
			}
		}
		if status == core.EpisodeDeleted {
			return &core.StateConflictError{
				Op:      "delete episode",
				Current: status.String(),
				Message: "episode is already deleted",
			}
		}
		return nil
	})
}

func (s *Store) markDeleted(ctx context.Context, id string, guard func(core.EpisodeStatus) error) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.Internalf("store.delete_episode", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status, channelID string
	var audio, video sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT status, channel_id, file_path_audio, file_path_video FROM episodes WHERE id = ?`, id,
	).Scan(&status, &channelID, &audio, &video)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &core.NotFoundError{Entity: "episode", Key: id}
		}
		return nil, core.Internalf("store.delete_episode", err)
	}

	if err := guard(core.EpisodeStatus(status)); err != nil {
		return nil, err
	}

	now := fmtTime(time.Now())
	_, err = tx.ExecContext(ctx, `
	UPDATE episodes
	SET status = 'deleted', file_path_audio = NULL, file_path_video = NULL,
	    file_size_audio = NULL, file_size_video = NULL, error_message = NULL,
	    updated_at = ?
	WHERE id = ?
	`, now, id)
	if err != nil {
		return nil, core.Internalf("store.delete_episode", err)
	}

	// Withdraw any claimable queue entry. In-flight entries are excluded by
	// the guard above.
	_, err = tx.ExecContext(ctx, `
	UPDATE queue SET status = 'cancelled', next_retry_at = NULL, updated_at = ?
	WHERE episode_id = ? AND status = 'pending'
	`, now, id)
	if err != nil {
		return nil, core.Internalf("store.delete_episode", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, core.Internalf("store.delete_episode", err)
	}

	var paths []string
	if audio.Valid && audio.String != "" {
		paths = append(paths, audio.String)
	}
	if video.Valid && video.String != "" {
		paths = append(paths, video.String)
	}

	s.notifyFeedChange(channelID)
	return paths, nil
}

// RetryEpisode resets a terminally failed episode to pending with a fresh
// attempts budget. Retrying a non-failed episode is a state conflict.
func (s *Store) RetryEpisode(ctx context.Context, id string) (*core.QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.Internalf("store.retry_episode", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM episodes WHERE id = ?`, id).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &core.NotFoundError{Entity: "episode", Key: id}
		}
		return nil, core.Internalf("store.retry_episode", err)
	}
	if core.EpisodeStatus(status) != core.EpisodeFailed {
		return nil, &core.StateConflictError{
			Op:      "retry episode",
			Current: status,
			Message: "only failed episodes can be retried",
		}
	}

	now := fmtTime(time.Now())
	_, err = tx.ExecContext(ctx, `
	UPDATE episodes
	SET status = 'pending', error_message = NULL, retry_count = 0, updated_at = ?
	WHERE id = ?
	`, now, id)
	if err != nil {
		return nil, core.Internalf("store.retry_episode", err)
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE queue
	SET status = 'pending', attempts = 0, next_retry_at = NULL, last_error = NULL, updated_at = ?
	WHERE episode_id = ?
	`, now, id)
	if err != nil {
		return nil, core.Internalf("store.retry_episode", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// The episode predates its queue entry being kept (or it was removed
		// by hand); recreate one with defaults.
		_, err = tx.ExecContext(ctx, `
		INSERT INTO queue (id, episode_id, priority, status, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)
		`, uuid.NewString(), id, core.DefaultPriority, core.DefaultMaxAttempts, now, now)
		if err != nil {
			return nil, core.Internalf("store.retry_episode", err)
		}
	}

	entry, err := getQueueEntryTx(ctx, tx, "episode_id = ?", id)
	if err != nil {
		return nil, core.Internalf("store.retry_episode", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, core.Internalf("store.retry_episode", err)
	}
	return entry, nil
}

func scanEpisode(row interface{ Scan(...any) error }) (*core.Episode, error) {
	var ep core.Episode
	var published, downloaded sql.NullString
	var audio, video, errMsg sql.NullString
	var sizeAudio, sizeVideo sql.NullInt64
	var status, createdAt, updatedAt string

	err := row.Scan(
		&ep.ID, &ep.VideoID, &ep.ChannelID, &ep.Title, &ep.Description, &ep.Thumbnail,
		&ep.DurationSeconds, &published, &downloaded, &audio, &video,
		&sizeAudio, &sizeVideo, &status, &ep.RetryCount, &errMsg,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ep.PublishedAt = parseTimePtr(published)
	ep.DownloadedAt = parseTimePtr(downloaded)
	ep.FilePathAudio = audio.String
	ep.FilePathVideo = video.String
	ep.FileSizeAudio = sizeAudio.Int64
	ep.FileSizeVideo = sizeVideo.Int64
	ep.Status = core.EpisodeStatus(status)
	ep.ErrorMessage = errMsg.String
	ep.CreatedAt = parseTime(createdAt)
	ep.UpdatedAt = parseTime(updatedAt)
	return &ep, nil
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
