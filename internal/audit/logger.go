package audit

import (
	"context"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ActionMessageEdit   = "message.edit"
	ActionMessageDelete = "message.delete"
)

type Event struct {
	ID           uuid.UUID
	UserID       string
	Action       string
	ResourceID   string
	ResourceType string
	Metadata     map[string]string
	Timestamp    time.Time
}

// Logger records moderation actions: changes a user made to content they do
// not own by virtue of a channel permission.
type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{
		logger: logger.Named("audit"),
	}
}

func (al *Logger) Log(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("user_id", event.UserID),
		zap.String("action", event.Action),
		zap.String("resource_id", event.ResourceID),
		zap.String("resource_type", event.ResourceType),
		zap.Time("at", event.Timestamp),
	}
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String(k, v))
	}

	al.logger.Info("audit event", fields...)
}

func (al *Logger) LogModeration(ctx context.Context, actorID uuid.UUID, action string, messageID string, channelID, authorID uuid.UUID) {
	al.Log(ctx, Event{
		UserID:       actorID.String(),
		Action:       action,
		ResourceID:   messageID,
		ResourceType: "message",
		Metadata: map[string]string{
			"channel_id": channelID.String(),
			"author_id":  authorID.String(),
		},
	})
}
