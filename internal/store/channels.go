// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/vid2pod/internal/core"
)

const channelColumns = `id, url, title, description, thumbnail, slug, window_size, feed_type,
	enabled, transcode_overrides, last_refresh_at, created_at, updated_at`

// ChannelFilter narrows and orders channel listings.
type ChannelFilter struct {
	Enabled  *bool
	FeedType core.FeedType // zero value matches all

	// OrderBy is one of created_at, updated_at, last_refresh_at.
	// Unknown values fall back to created_at.
	OrderBy    string
	Descending bool

	Limit  int // 0 means no limit
	Offset int
}

// CreateChannel inserts a channel, assigning ID and timestamps. Duplicate
// URLs and slugs surface as core.DuplicateError.
func (s *Store) CreateChannel(ctx context.Context, ch *core.Channel) error {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	ch.CreatedAt = now
	ch.UpdatedAt = now

	overrides, err := marshalOverrides(ch.TranscodeOverrides)
	if err != nil {
		return core.Internalf("store.create_channel", err)
	}

	query := `
	INSERT INTO channels (` + channelColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		ch.ID, ch.URL, ch.Title, ch.Description, ch.Thumbnail, ch.Slug,
		ch.WindowSize, ch.FeedType.String(), boolToInt(ch.Enabled), overrides,
		fmtTimePtr(ch.LastRefreshAt), fmtTime(ch.CreatedAt), fmtTime(ch.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "channels.slug") {
				return &core.DuplicateError{Entity: "channel slug", Key: ch.Slug}
			}
			return &core.DuplicateError{Entity: "channel", Key: ch.URL}
		}
		return core.Internalf("store.create_channel", err)
	}

	s.notifyFeedChange(ch.ID)
	return nil
}

// GetChannel retrieves a channel by ID.
func (s *Store) GetChannel(ctx context.Context, id string) (*core.Channel, error) {
	return s.getChannelWhere(ctx, "id = ?", id)
}

// GetChannelByURL retrieves a channel by its upstream URL.
func (s *Store) GetChannelByURL(ctx context.Context, url string) (*core.Channel, error) {
	return s.getChannelWhere(ctx, "url = ?", url)
}

// GetChannelBySlug retrieves a channel by its library slug.
func (s *Store) GetChannelBySlug(ctx context.Context, slug string) (*core.Channel, error) {
	return s.getChannelWhere(ctx, "slug = ?", slug)
}

func (s *Store) getChannelWhere(ctx context.Context, where string, arg any) (*core.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE ` + where
	ch, err := scanChannel(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &core.NotFoundError{Entity: "channel", Key: fmt.Sprint(arg)}
		}
		return nil, core.Internalf("store.get_channel", err)
	}
	return ch, nil
}

// ListChannels retrieves channels matching the filter.
func (s *Store) ListChannels(ctx context.Context, f ChannelFilter) ([]core.Channel, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + channelColumns + ` FROM channels`)

	var conds []string
	var args []any
	if f.Enabled != nil {
		conds = append(conds, "enabled = ?")
		args = append(args, boolToInt(*f.Enabled))
	}
	if f.FeedType != "" {
		conds = append(conds, "feed_type = ?")
		args = append(args, f.FeedType.String())
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	order := "created_at"
	switch f.OrderBy {
	case "updated_at", "last_refresh_at":
		order = f.OrderBy
	}
	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}
	// last_refresh_at is nullable; nulls sort first ascending, which matches
	// "never refreshed is oldest".
	sb.WriteString(fmt.Sprintf(" ORDER BY %s %s, id %s", order, dir, dir))

	if f.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, core.Internalf("store.list_channels", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []core.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, core.Internalf("store.list_channels", err)
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// CountChannels returns total and enabled channel counts.
func (s *Store) CountChannels(ctx context.Context) (total, enabled int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(enabled), 0) FROM channels`,
	).Scan(&total, &enabled)
	if err != nil {
		return 0, 0, core.Internalf("store.count_channels", err)
	}
	return total, enabled, nil
}

// UpdateChannel persists mutable channel fields (title, description,
// thumbnail, slug, window size, feed type, enabled, overrides).
func (s *Store) UpdateChannel(ctx context.Context, ch *core.Channel) error {
	ch.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	overrides, err := marshalOverrides(ch.TranscodeOverrides)
	if err != nil {
		return core.Internalf("store.update_channel", err)
	}

	query := `
	UPDATE channels
	SET title = ?, description = ?, thumbnail = ?, slug = ?, window_size = ?,
	    feed_type = ?, enabled = ?, transcode_overrides = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		ch.Title, ch.Description, ch.Thumbnail, ch.Slug, ch.WindowSize,
		ch.FeedType.String(), boolToInt(ch.Enabled), overrides,
		fmtTime(ch.UpdatedAt), ch.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &core.DuplicateError{Entity: "channel slug", Key: ch.Slug}
		}
		return core.Internalf("store.update_channel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Entity: "channel", Key: ch.ID}
	}

	s.notifyFeedChange(ch.ID)
	return nil
}

// SetChannelRefreshedAt records a completed refresh.
func (s *Store) SetChannelRefreshedAt(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET last_refresh_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(at), fmtTime(time.Now()), id,
	)
	if err != nil {
		return core.Internalf("store.set_channel_refreshed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Entity: "channel", Key: id}
	}
	return nil
}

// DeleteChannel removes a channel; episodes and queue entries cascade.
// It returns the relative media paths of all episodes that had files on
// disk so the caller can remove them after the commit.
func (s *Store) DeleteChannel(ctx context.Context, id string) (paths []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.Internalf("store.delete_channel", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT file_path_audio, file_path_video FROM episodes WHERE channel_id = ?`, id)
	if err != nil {
		return nil, core.Internalf("store.delete_channel", err)
	}
	for rows.Next() {
		var audio, video sql.NullString
		if err := rows.Scan(&audio, &video); err != nil {
			_ = rows.Close()
			return nil, core.Internalf("store.delete_channel", err)
		}
		if audio.Valid && audio.String != "" {
			paths = append(paths, audio.String)
		}
		if video.Valid && video.String != "" {
			paths = append(paths, video.String)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, core.Internalf("store.delete_channel", err)
	}
	_ = rows.Close()

	res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return nil, core.Internalf("store.delete_channel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &core.NotFoundError{Entity: "channel", Key: id}
	}

	if err := tx.Commit(); err != nil {
		return nil, core.Internalf("store.delete_channel", err)
	}

	s.notifyFeedChange(id)
	return paths, nil
}

func scanChannel(row interface{ Scan(...any) error }) (*core.Channel, error) {
	var ch core.Channel
	var feedType string
	var enabled int
	var overrides, lastRefresh sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&ch.ID, &ch.URL, &ch.Title, &ch.Description, &ch.Thumbnail, &ch.Slug,
		&ch.WindowSize, &feedType, &enabled, &overrides, &lastRefresh,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ch.FeedType = core.FeedType(feedType)
	ch.Enabled = enabled != 0
	ch.LastRefreshAt = parseTimePtr(lastRefresh)
	ch.CreatedAt = parseTime(createdAt)
	ch.UpdatedAt = parseTime(updatedAt)

	if overrides.Valid && overrides.String != "" {
		var o core.TranscodeOverrides
		if err := json.Unmarshal([]byte(overrides.String), &o); err == nil {
			ch.TranscodeOverrides = &o
		}
	}
	return &ch, nil
}

func marshalOverrides(o *core.TranscodeOverrides) (any, error) {
	if o == nil {
		return nil, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
