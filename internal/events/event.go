package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type Type string

const (
	MessageCreated  Type = "message.created"
	MessageEdited   Type = "message.edited"
	MessageDeleted  Type = "message.deleted"
	ReactionAdded   Type = "reaction.added"
	ReactionRemoved Type = "reaction.removed"
)

// Event is a committed state change for one channel.
type Event struct {
	Type      Type            `json:"type"`
	ChannelID uuid.UUID       `json:"channelId"`
	Payload   json.RawMessage `json:"payload"`

	// Origin is the connection that caused the change and Actor the user
	// behind it. The origin connection is skipped during delivery when it
	// belongs to Actor. Neither leaves the process.
	Origin string    `json:"-"`
	Actor  uuid.UUID `json:"-"`
}

func New(t Type, channelID uuid.UUID, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return &Event{Type: t, ChannelID: channelID, Payload: raw}, nil
}
