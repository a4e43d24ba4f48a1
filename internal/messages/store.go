package messages

import (
	"context"

	"github.com/Alexander-D-Karpov/huddle/internal/common/pagination"
	"github.com/google/uuid"
)

// Store is the persistence boundary for messages and their relations.
type Store interface {
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)
	EditMessage(ctx context.Context, id int64, content string) (*Message, error)
	// SoftDeleteMessage reports changed=false when the message was already
	// deleted.
	SoftDeleteMessage(ctx context.Context, id int64) (*Message, bool, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, filter ListFilter, page pagination.Request) (*Page, error)
	AddReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string) (*ReactionDelta, error)
	RemoveReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string) (*ReactionDelta, error)
	AttachFiles(ctx context.Context, messageID int64, files []NewAttachment) (*Message, error)
	Hydrate(ctx context.Context, msgs []*Message, viewerID uuid.UUID) error
	// InTx runs fn against a Store bound to one transaction. Nothing fn wrote
	// is visible unless fn returns nil.
	InTx(ctx context.Context, fn func(Store) error) error
}
