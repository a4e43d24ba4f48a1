package messages

import (
	"time"

	"github.com/google/uuid"
)

const (
	MaxContentLength = 4000
	MaxEmojiLength   = 64
)

// Message is the read model of a chat message. A deleted message is a
// tombstone: Content is nil, IsDeleted is set, and the row stays so thread
// replies keep a valid parent.
type Message struct {
	ID          int64             `json:"id,string"`
	ChannelID   uuid.UUID         `json:"channelId"`
	AuthorID    uuid.UUID         `json:"userId"`
	Content     *string           `json:"content"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	IsEdited    bool              `json:"isEdited"`
	ParentID    *int64            `json:"parentMessageId,string"`
	IsDeleted   bool              `json:"isDeleted"`
	Attachments []Attachment      `json:"attachments"`
	Reactions   []ReactionSummary `json:"reactions"`
	Mentions    []Mention         `json:"mentions"`
}

type Attachment struct {
	ID         uuid.UUID `json:"id"`
	MessageID  int64     `json:"messageId,string"`
	FileName   string    `json:"fileName"`
	FileType   string    `json:"fileType"`
	Size       int64     `json:"size"`
	StorageKey string    `json:"-"`
	URL        string    `json:"url"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewAttachment links an already uploaded blob to a message.
type NewAttachment struct {
	FileName   string
	FileType   string
	Size       int64
	StorageKey string
	URL        string
	Width      int
	Height     int
}

type Mention struct {
	UserID uuid.UUID `json:"userId"`
	Handle string    `json:"handle"`
}

// ReactionSummary groups the reactions on a message by emoji. Reacted is
// relative to the viewer the message was hydrated for.
type ReactionSummary struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	Reacted bool   `json:"reacted"`
}

// ReactionDelta is the outcome of adding or removing one reaction. Changed is
// false when the call was a no-op because the state already matched.
type ReactionDelta struct {
	MessageID int64     `json:"messageId,string"`
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
	Emoji     string    `json:"emoji"`
	Count     int       `json:"count"`
	Changed   bool      `json:"-"`
}

type NewMessage struct {
	ChannelID uuid.UUID
	AuthorID  uuid.UUID
	Content   string
	ParentID  *int64
	// WithAttachments declares that files will be attached in the same
	// transaction, which makes empty content legal.
	WithAttachments bool
}

// ListFilter selects which messages a listing walks. A nil ParentID lists
// top-level messages; a set one lists the replies of that message.
type ListFilter struct {
	ChannelID      uuid.UUID
	ParentID       *int64
	IncludeDeleted bool
}

type Page struct {
	Messages   []*Message `json:"messages"`
	NextCursor string     `json:"nextCursor,omitempty"`
}
