package messages

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Hydrate loads attachments, grouped reactions and mentions for msgs in three
// batched queries. Tombstones keep empty relation lists.
func (r *Repository) Hydrate(ctx context.Context, msgs []*Message, viewerID uuid.UUID) error {
	byID := make(map[int64]*Message, len(msgs))
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		m.Attachments = []Attachment{}
		m.Reactions = []ReactionSummary{}
		m.Mentions = []Mention{}
		if m.IsDeleted {
			continue
		}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	if err := r.loadAttachments(ctx, ids, byID); err != nil {
		return err
	}
	if err := r.loadReactions(ctx, ids, viewerID, byID); err != nil {
		return err
	}
	return r.loadMentions(ctx, ids, byID)
}

func (r *Repository) loadAttachments(ctx context.Context, ids []int64, byID map[int64]*Message) error {
	rows, err := r.q.Query(ctx, `
		SELECT id, message_id, file_name, file_type, size, storage_key, url, width, height, created_at
		FROM message_attachments
		WHERE message_id = ANY($1)
		ORDER BY created_at, id
	`, ids)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FileType, &a.Size,
			&a.StorageKey, &a.URL, &a.Width, &a.Height, &a.CreatedAt); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return rows.Err()
}

func (r *Repository) loadReactions(ctx context.Context, ids []int64, viewerID uuid.UUID, byID map[int64]*Message) error {
	rows, err := r.q.Query(ctx, `
		SELECT message_id, emoji, COUNT(*), BOOL_OR(user_id = $2)
		FROM message_reactions
		WHERE message_id = ANY($1)
		GROUP BY message_id, emoji
		ORDER BY message_id, MIN(created_at), emoji
	`, ids, viewerID)
	if err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID int64
			s         ReactionSummary
		)
		if err := rows.Scan(&messageID, &s.Emoji, &s.Count, &s.Reacted); err != nil {
			return fmt.Errorf("scan reaction: %w", err)
		}
		if m, ok := byID[messageID]; ok {
			m.Reactions = append(m.Reactions, s)
		}
	}
	return rows.Err()
}

func (r *Repository) loadMentions(ctx context.Context, ids []int64, byID map[int64]*Message) error {
	rows, err := r.q.Query(ctx, `
		SELECT mm.message_id, mm.mentioned_user_id, u.handle
		FROM message_mentions mm
		JOIN users u ON u.id = mm.mentioned_user_id
		WHERE mm.message_id = ANY($1)
		ORDER BY mm.message_id, mm.created_at, u.handle
	`, ids)
	if err != nil {
		return fmt.Errorf("load mentions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID int64
			mention   Mention
		)
		if err := rows.Scan(&messageID, &mention.UserID, &mention.Handle); err != nil {
			return fmt.Errorf("scan mention: %w", err)
		}
		if m, ok := byID[messageID]; ok {
			m.Mentions = append(m.Mentions, mention)
		}
	}
	return rows.Err()
}
