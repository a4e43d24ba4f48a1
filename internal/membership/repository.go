package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/authz"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Member struct {
	ChannelID   uuid.UUID
	UserID      uuid.UUID
	Role        authz.Role
	Permissions []authz.Permission
	JoinedAt    time.Time
}

// Can reports whether the member holds permission through its role or an
// explicit grant.
func (m *Member) Can(permission authz.Permission) bool {
	return authz.Grants(m.Role, m.Permissions, permission)
}

type Repository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

// GetMember returns nil without error when the user is not an active member
// of the channel, including when the channel does not exist or is deleted.
func (r *Repository) GetMember(ctx context.Context, channelID, userID uuid.UUID) (*Member, error) {
	query := `
		SELECT cm.channel_id, cm.user_id, cm.role, cm.permissions, cm.joined_at
		FROM channel_members cm
		JOIN channels c ON c.id = cm.channel_id
		WHERE cm.channel_id = $1 AND cm.user_id = $2 AND c.deleted_at IS NULL
	`

	var (
		member Member
		role   string
		perms  []string
	)
	err := r.q.QueryRow(ctx, query, channelID, userID).Scan(
		&member.ChannelID,
		&member.UserID,
		&role,
		&perms,
		&member.JoinedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel member: %w", err)
	}

	parsed, ok := authz.ParseRole(role)
	if !ok {
		return nil, fmt.Errorf("channel member has unknown role %q", role)
	}
	member.Role = parsed

	for _, p := range perms {
		if perm, ok := authz.ParsePermission(p); ok {
			member.Permissions = append(member.Permissions, perm)
		}
	}

	return &member, nil
}

// SetMember inserts or updates a membership row. The messaging core only
// reads memberships; this exists for operator tooling and fixtures.
func (r *Repository) SetMember(ctx context.Context, channelID, userID uuid.UUID, role authz.Role, perms []authz.Permission) error {
	raw := make([]string, 0, len(perms))
	for _, p := range perms {
		raw = append(raw, string(p))
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO channel_members (channel_id, user_id, role, permissions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, permissions = EXCLUDED.permissions
	`, channelID, userID, string(role), raw)
	if err != nil {
		return fmt.Errorf("set channel member: %w", err)
	}
	return nil
}

func (r *Repository) RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove channel member: %w", err)
	}
	return nil
}
