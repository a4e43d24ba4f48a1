package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/pagination"
	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `id, channel_id, author_id, content, created_at, updated_at, is_edited, parent_message_id, is_deleted`

type Repository struct {
	q    db.Querier
	pool *pgxpool.Pool
	inTx bool
	ids  infra.IDGenerator
	now  func() time.Time
}

func NewRepository(pool *pgxpool.Pool, ids infra.IDGenerator) *Repository {
	return &Repository{
		q:    pool,
		pool: pool,
		ids:  ids,
		now:  time.Now,
	}
}

func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	return r.atomic(ctx, func(tx *Repository) error {
		return fn(tx)
	})
}

// atomic runs fn in the current transaction, or opens one.
func (r *Repository) atomic(ctx context.Context, fn func(*Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{q: tx, pool: r.pool, inTx: true, ids: r.ids, now: r.now})
	})
}

func (r *Repository) CreateMessage(ctx context.Context, in NewMessage) (*Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && !in.WithAttachments {
		return nil, apperrors.BadRequest("message must have content or attachments")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, apperrors.BadRequest(fmt.Sprintf("message content exceeds %d characters", MaxContentLength))
	}

	var msg *Message
	err := r.atomic(ctx, func(tx *Repository) error {
		if in.ParentID != nil {
			if err := tx.checkParent(ctx, *in.ParentID, in.ChannelID); err != nil {
				return err
			}
		}

		id := tx.ids.Next()
		createdAt := infra.SnowflakeTime(id)
		msg = &Message{
			ID:        id,
			ChannelID: in.ChannelID,
			AuthorID:  in.AuthorID,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
			ParentID:  in.ParentID,
		}
		if content != "" {
			msg.Content = &content
		}

		_, err := tx.q.Exec(ctx, `
			INSERT INTO messages (id, channel_id, author_id, content, created_at, updated_at, parent_message_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, msg.ID, msg.ChannelID, msg.AuthorID, msg.Content, msg.CreatedAt, msg.UpdatedAt, msg.ParentID)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		msg.Mentions, err = tx.replaceMentions(ctx, msg.ID, msg.ChannelID, content)
		return err
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// checkParent locks the parent row so it cannot be deleted while the reply
// is being written.
func (r *Repository) checkParent(ctx context.Context, parentID int64, channelID uuid.UUID) error {
	var (
		parentChannel uuid.UUID
		deleted       bool
	)
	err := r.q.QueryRow(ctx,
		`SELECT channel_id, is_deleted FROM messages WHERE id = $1 FOR SHARE`,
		parentID,
	).Scan(&parentChannel, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.InvalidThreadParent("thread parent does not exist")
	}
	if err != nil {
		return fmt.Errorf("load thread parent: %w", err)
	}
	if parentChannel != channelID {
		return apperrors.InvalidThreadParent("thread parent belongs to another channel")
	}
	if deleted {
		return apperrors.InvalidThreadParent("thread parent is deleted")
	}
	return nil
}

func (r *Repository) EditMessage(ctx context.Context, id int64, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, apperrors.BadRequest(fmt.Sprintf("message content exceeds %d characters", MaxContentLength))
	}

	var msg *Message
	err := r.atomic(ctx, func(tx *Repository) error {
		var stored *string
		if content != "" {
			stored = &content
		}

		var err error
		msg, err = scanMessage(tx.q.QueryRow(ctx, `
			UPDATE messages
			SET content = $2, is_edited = TRUE, updated_at = $3
			WHERE id = $1 AND NOT is_deleted
			RETURNING `+messageColumns,
			id, stored, tx.now().UTC(),
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("message not found")
		}
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}

		// Clearing the text of an attachment-only message is allowed; the
		// update is rolled back otherwise.
		if content == "" {
			var hasFiles bool
			if err := tx.q.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM message_attachments WHERE message_id = $1)`, id,
			).Scan(&hasFiles); err != nil {
				return fmt.Errorf("check attachments: %w", err)
			}
			if !hasFiles {
				return apperrors.BadRequest("message must have content or attachments")
			}
		}

		msg.Mentions, err = tx.replaceMentions(ctx, msg.ID, msg.ChannelID, content)
		return err
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func (r *Repository) SoftDeleteMessage(ctx context.Context, id int64) (*Message, bool, error) {
	var (
		msg     *Message
		changed bool
	)
	err := r.atomic(ctx, func(tx *Repository) error {
		var err error
		msg, err = scanMessage(tx.q.QueryRow(ctx, `
			UPDATE messages
			SET content = NULL, is_deleted = TRUE, updated_at = $2
			WHERE id = $1 AND NOT is_deleted
			RETURNING `+messageColumns,
			id, tx.now().UTC(),
		))
		if errors.Is(err, pgx.ErrNoRows) {
			msg, err = tx.GetMessage(ctx, id)
			return err
		}
		if err != nil {
			return fmt.Errorf("soft delete message: %w", err)
		}

		if _, err := tx.q.Exec(ctx, `DELETE FROM message_mentions WHERE message_id = $1`, id); err != nil {
			return fmt.Errorf("clear mentions: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return msg, changed, nil
}

// GetMessage returns the message row, tombstones included, without relations.
func (r *Repository) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msg, err := scanMessage(r.q.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessages walks the channel by (created_at, id). The cursor is compared
// by value, so a page boundary never shifts when rows are inserted elsewhere.
func (r *Repository) ListMessages(ctx context.Context, filter ListFilter, page pagination.Request) (*Page, error) {
	conds := []string{"channel_id = $1"}
	args := []any{filter.ChannelID}

	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		conds = append(conds, fmt.Sprintf("parent_message_id = $%d", len(args)))
	} else {
		conds = append(conds, "parent_message_id IS NULL")
	}

	if !filter.IncludeDeleted {
		conds = append(conds, "NOT is_deleted")
	}

	cmp, order := "<", "DESC"
	if page.Sort == pagination.SortOldest {
		cmp, order = ">", "ASC"
	}

	if page.Cursor != nil {
		args = append(args, page.Cursor.CreatedAt, page.Cursor.ID)
		conds = append(conds, fmt.Sprintf("(created_at, id) %s ($%d, $%d)", cmp, len(args)-1, len(args)))
	}

	limit := page.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	args = append(args, limit+1)

	query := fmt.Sprintf(`
		SELECT %s
		FROM messages
		WHERE %s
		ORDER BY created_at %s, id %s
		LIMIT $%d
	`, messageColumns, strings.Join(conds, " AND "), order, order, len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]*Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	result := &Page{Messages: out}
	if len(out) > limit {
		result.Messages = out[:limit]
		last := result.Messages[limit-1]
		result.NextCursor = (&pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}).Encode()
	}

	return result, nil
}

func (r *Repository) AddReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string) (*ReactionDelta, error) {
	if err := ValidateEmoji(emoji); err != nil {
		return nil, err
	}

	var delta *ReactionDelta
	err := r.atomic(ctx, func(tx *Repository) error {
		channelID, err := tx.liveMessageChannel(ctx, messageID)
		if err != nil {
			return err
		}

		// The unique constraint settles concurrent identical adds; the loser
		// inserts nothing and reports the existing state.
		tag, err := tx.q.Exec(ctx, `
			INSERT INTO message_reactions (id, message_id, user_id, emoji, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		`, uuid.New(), messageID, userID, emoji, tx.now().UTC())
		if err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}

		delta = &ReactionDelta{
			MessageID: messageID,
			ChannelID: channelID,
			UserID:    userID,
			Emoji:     emoji,
			Changed:   tag.RowsAffected() == 1,
		}
		delta.Count, err = tx.countReactions(ctx, messageID, emoji)
		return err
	})
	if err != nil {
		return nil, err
	}

	return delta, nil
}

func (r *Repository) RemoveReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string) (*ReactionDelta, error) {
	if err := ValidateEmoji(emoji); err != nil {
		return nil, err
	}

	var delta *ReactionDelta
	err := r.atomic(ctx, func(tx *Repository) error {
		channelID, err := tx.liveMessageChannel(ctx, messageID)
		if err != nil {
			return err
		}

		tag, err := tx.q.Exec(ctx,
			`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
			messageID, userID, emoji,
		)
		if err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}

		delta = &ReactionDelta{
			MessageID: messageID,
			ChannelID: channelID,
			UserID:    userID,
			Emoji:     emoji,
			Changed:   tag.RowsAffected() > 0,
		}
		delta.Count, err = tx.countReactions(ctx, messageID, emoji)
		return err
	})
	if err != nil {
		return nil, err
	}

	return delta, nil
}

func (r *Repository) liveMessageChannel(ctx context.Context, messageID int64) (uuid.UUID, error) {
	var channelID uuid.UUID
	err := r.q.QueryRow(ctx,
		`SELECT channel_id FROM messages WHERE id = $1 AND NOT is_deleted FOR SHARE`, messageID,
	).Scan(&channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperrors.NotFound("message not found")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("load message: %w", err)
	}
	return channelID, nil
}

func (r *Repository) countReactions(ctx context.Context, messageID int64, emoji string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_reactions WHERE message_id = $1 AND emoji = $2`,
		messageID, emoji,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reactions: %w", err)
	}
	return count, nil
}

// AttachFiles links uploaded blobs to a message. Attachments are fixed at
// creation, so this only works inside the transaction that creates the
// message.
func (r *Repository) AttachFiles(ctx context.Context, messageID int64, files []NewAttachment) (*Message, error) {
	if !r.inTx {
		return nil, apperrors.Conflict("attachments can only be added while the message is created")
	}

	msg, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, apperrors.NotFound("message not found")
	}

	now := r.now().UTC()
	for _, f := range files {
		if f.Size <= 0 {
			return nil, apperrors.BadRequest(fmt.Sprintf("attachment %q is empty", f.FileName))
		}

		att := Attachment{
			ID:         uuid.New(),
			MessageID:  messageID,
			FileName:   f.FileName,
			FileType:   f.FileType,
			Size:       f.Size,
			StorageKey: f.StorageKey,
			URL:        f.URL,
			Width:      f.Width,
			Height:     f.Height,
			CreatedAt:  now,
		}
		_, err := r.q.Exec(ctx, `
			INSERT INTO message_attachments
				(id, message_id, file_name, file_type, size, storage_key, url, width, height, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, att.ID, att.MessageID, att.FileName, att.FileType, att.Size,
			att.StorageKey, att.URL, att.Width, att.Height, att.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg, nil
}

// replaceMentions drops the stored mention set of a message and writes the
// one derived from content. Handles that do not belong to a channel member
// are ignored.
func (r *Repository) replaceMentions(ctx context.Context, messageID int64, channelID uuid.UUID, content string) ([]Mention, error) {
	if _, err := r.q.Exec(ctx, `DELETE FROM message_mentions WHERE message_id = $1`, messageID); err != nil {
		return nil, fmt.Errorf("clear mentions: %w", err)
	}

	handles := ExtractMentions(content)
	if len(handles) == 0 {
		return nil, nil
	}

	rows, err := r.q.Query(ctx, `
		SELECT u.id, u.handle
		FROM users u
		JOIN channel_members cm ON cm.user_id = u.id AND cm.channel_id = $1
		WHERE LOWER(u.handle) = ANY($2)
	`, channelID, handles)
	if err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}
	resolved := make(map[string]Mention, len(handles))
	for rows.Next() {
		var m Mention
		if err := rows.Scan(&m.UserID, &m.Handle); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		resolved[strings.ToLower(m.Handle)] = m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}

	now := r.now().UTC()
	mentions := make([]Mention, 0, len(resolved))
	for _, h := range handles {
		m, ok := resolved[h]
		if !ok {
			continue
		}
		_, err := r.q.Exec(ctx, `
			INSERT INTO message_mentions (id, message_id, mentioned_user_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, mentioned_user_id) DO NOTHING
		`, uuid.New(), messageID, m.UserID, now)
		if err != nil {
			return nil, fmt.Errorf("insert mention: %w", err)
		}
		mentions = append(mentions, m)
	}

	return mentions, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	msg := &Message{}
	err := row.Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.AuthorID,
		&msg.Content,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&msg.IsEdited,
		&msg.ParentID,
		&msg.IsDeleted,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func ValidateEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return apperrors.BadRequest("emoji is required")
	}
	if len(emoji) > MaxEmojiLength || !utf8.ValidString(emoji) {
		return apperrors.BadRequest("invalid emoji")
	}
	return nil
}
