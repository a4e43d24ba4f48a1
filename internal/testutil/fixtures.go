package testutil

import (
	"context"
	"testing"

	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func CreateUser(t *testing.T, q db.Querier, handle string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := q.Exec(context.Background(),
		`INSERT INTO users (id, handle, display_name) VALUES ($1, $2, $2)`, id, handle)
	require.NoError(t, err)
	return id
}

func CreateChannel(t *testing.T, q db.Querier, name string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := q.Exec(context.Background(),
		`INSERT INTO channels (id, name) VALUES ($1, $2)`, id, name)
	require.NoError(t, err)
	return id
}

// AddMember inserts a membership row directly, bypassing any repository.
func AddMember(t *testing.T, q db.Querier, channelID, userID uuid.UUID, role string, perms ...string) {
	t.Helper()

	if perms == nil {
		perms = []string{}
	}
	_, err := q.Exec(context.Background(),
		`INSERT INTO channel_members (channel_id, user_id, role, permissions) VALUES ($1, $2, $3, $4)`,
		channelID, userID, role, perms)
	require.NoError(t, err)
}
