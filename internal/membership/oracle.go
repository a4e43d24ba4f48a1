package membership

import (
	"context"

	"github.com/Alexander-D-Karpov/huddle/internal/authz"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Source is the channel-membership store the oracle reads through.
type Source interface {
	GetMember(ctx context.Context, channelID, userID uuid.UUID) (*Member, error)
}

// Oracle answers membership and permission questions for a single request.
// Every call reads the source; answers are never reused across calls because
// membership can change concurrently.
type Oracle struct {
	source Source
	logger *zap.Logger
}

func NewOracle(source Source, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{source: source, logger: logger}
}

// Lookup returns the caller's membership. A failing source is reported as
// not a member.
func (o *Oracle) Lookup(ctx context.Context, userID, channelID uuid.UUID) (*Member, bool) {
	member, err := o.source.GetMember(ctx, channelID, userID)
	if err != nil {
		o.logger.Error("membership lookup failed, denying access",
			zap.String("user_id", userID.String()),
			zap.String("channel_id", channelID.String()),
			zap.Error(err),
		)
		return nil, false
	}
	if member == nil {
		return nil, false
	}
	return member, true
}

func (o *Oracle) IsMember(ctx context.Context, userID, channelID uuid.UUID) bool {
	_, ok := o.Lookup(ctx, userID, channelID)
	return ok
}

func (o *Oracle) GetRole(ctx context.Context, userID, channelID uuid.UUID) (authz.Role, bool) {
	member, ok := o.Lookup(ctx, userID, channelID)
	if !ok {
		return "", false
	}
	return member.Role, true
}

func (o *Oracle) HasPermission(ctx context.Context, userID, channelID uuid.UUID, permission authz.Permission) bool {
	member, ok := o.Lookup(ctx, userID, channelID)
	if !ok {
		return false
	}
	return member.Can(permission)
}
