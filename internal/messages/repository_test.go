package messages

import (
	"context"
	"sync"
	"testing"

	apperrors "github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/pagination"
	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo    *Repository
	channel uuid.UUID
	alice   uuid.UUID
	bob     uuid.UUID
}

func setup(t *testing.T) fixture {
	t.Helper()

	database := testutil.GetDB(t)
	ids, err := infra.NewSnowflakeGenerator(1)
	require.NoError(t, err)

	f := fixture{
		repo:    NewRepository(database.Pool, ids),
		channel: testutil.CreateChannel(t, database.Pool, "general"),
		alice:   testutil.CreateUser(t, database.Pool, "alice"),
		bob:     testutil.CreateUser(t, database.Pool, "bob"),
	}
	testutil.AddMember(t, database.Pool, f.channel, f.alice, "owner")
	testutil.AddMember(t, database.Pool, f.channel, f.bob, "user")
	return f
}

func (f fixture) send(t *testing.T, author uuid.UUID, content string, parent *int64) *Message {
	t.Helper()
	msg, err := f.repo.CreateMessage(context.Background(), NewMessage{
		ChannelID: f.channel,
		AuthorID:  author,
		Content:   content,
		ParentID:  parent,
	})
	require.NoError(t, err)
	return msg
}

func TestCreateMessage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	msg := f.send(t, f.alice, "hello @bob", nil)
	assert.False(t, msg.IsEdited)
	assert.False(t, msg.IsDeleted)
	require.NotNil(t, msg.Content)
	assert.Equal(t, "hello @bob", *msg.Content)
	assert.Equal(t, infra.SnowflakeTime(msg.ID), msg.CreatedAt)
	require.Len(t, msg.Mentions, 1)
	assert.Equal(t, f.bob, msg.Mentions[0].UserID)

	stored, err := f.repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(msg.CreatedAt))

	_, err = f.repo.CreateMessage(ctx, NewMessage{ChannelID: f.channel, AuthorID: f.alice, Content: "   "})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	empty, err := f.repo.CreateMessage(ctx, NewMessage{ChannelID: f.channel, AuthorID: f.alice, WithAttachments: true})
	require.NoError(t, err)
	assert.Nil(t, empty.Content)
}

func TestCreateMessageThreadParent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	parent := f.send(t, f.alice, "root", nil)
	reply := f.send(t, f.bob, "reply", &parent.ID)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, parent.ID, *reply.ParentID)

	missing := int64(12345)
	_, err := f.repo.CreateMessage(ctx, NewMessage{ChannelID: f.channel, AuthorID: f.bob, Content: "x", ParentID: &missing})
	assert.True(t, apperrors.IsInvalidThreadParent(err))

	other := testutil.CreateChannel(t, f.repo.pool, "random")
	_, err = f.repo.CreateMessage(ctx, NewMessage{ChannelID: other, AuthorID: f.bob, Content: "x", ParentID: &parent.ID})
	assert.True(t, apperrors.IsInvalidThreadParent(err))

	_, _, err = f.repo.SoftDeleteMessage(ctx, parent.ID)
	require.NoError(t, err)
	_, err = f.repo.CreateMessage(ctx, NewMessage{ChannelID: f.channel, AuthorID: f.bob, Content: "x", ParentID: &parent.ID})
	assert.True(t, apperrors.IsInvalidThreadParent(err))

	still, err := f.repo.GetMessage(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *still.ParentID)
}

func TestEditReplacesMentions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.CreateUser(t, f.repo.pool, "carol")

	msg := f.send(t, f.bob, "@alice hi", nil)
	require.Len(t, msg.Mentions, 1)

	edited, err := f.repo.EditMessage(ctx, msg.ID, "@bob hi @carol")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "@bob hi @carol", *edited.Content)
	require.Len(t, edited.Mentions, 1, "carol is not a channel member")
	assert.Equal(t, f.bob, edited.Mentions[0].UserID)

	require.NoError(t, f.repo.Hydrate(ctx, []*Message{edited}, f.alice))
	require.Len(t, edited.Mentions, 1)
	assert.Equal(t, "bob", edited.Mentions[0].Handle)
}

func TestEditMessageErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.repo.EditMessage(ctx, 999, "x")
	assert.True(t, apperrors.IsNotFound(err))

	msg := f.send(t, f.alice, "text", nil)
	_, err = f.repo.EditMessage(ctx, msg.ID, "")
	assert.Error(t, err)
	assert.False(t, apperrors.IsNotFound(err))

	unchanged, err := f.repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "text", *unchanged.Content)
	assert.False(t, unchanged.IsEdited)

	_, _, err = f.repo.SoftDeleteMessage(ctx, msg.ID)
	require.NoError(t, err)
	_, err = f.repo.EditMessage(ctx, msg.ID, "resurrect")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSoftDeleteIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	msg := f.send(t, f.alice, "bye @bob", nil)

	deleted, changed, err := f.repo.SoftDeleteMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, deleted.IsDeleted)
	assert.Nil(t, deleted.Content)

	again, changed, err := f.repo.SoftDeleteMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, again.Content)
	assert.True(t, again.UpdatedAt.Equal(deleted.UpdatedAt))

	_, _, err = f.repo.SoftDeleteMessage(ctx, 424242)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListMessagesPaginationRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const n = 17
	sent := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		sent = append(sent, f.send(t, f.alice, "m", nil).ID)
	}

	for _, sort := range []pagination.Sort{pagination.SortOldest, pagination.SortNewest} {
		for k := 1; k <= n; k++ {
			var (
				got    []int64
				cursor *pagination.Cursor
			)
			for {
				page, err := f.repo.ListMessages(ctx, ListFilter{ChannelID: f.channel}, pagination.Request{Limit: k, Cursor: cursor, Sort: sort})
				require.NoError(t, err)
				require.LessOrEqual(t, len(page.Messages), k)
				for _, m := range page.Messages {
					got = append(got, m.ID)
				}
				if page.NextCursor == "" {
					break
				}
				cursor, err = pagination.DecodeCursor(page.NextCursor)
				require.NoError(t, err)
			}

			want := append([]int64(nil), sent...)
			if sort == pagination.SortNewest {
				for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
					want[i], want[j] = want[j], want[i]
				}
			}
			require.Equal(t, want, got, "sort=%s k=%d", sort, k)
		}
	}
}

func TestListMessagesFilters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	root := f.send(t, f.alice, "root", nil)
	reply := f.send(t, f.bob, "reply", &root.ID)
	gone := f.send(t, f.bob, "gone", nil)
	_, _, err := f.repo.SoftDeleteMessage(ctx, gone.ID)
	require.NoError(t, err)

	req := pagination.Request{Limit: 10, Sort: pagination.SortOldest}

	page, err := f.repo.ListMessages(ctx, ListFilter{ChannelID: f.channel, IncludeDeleted: true}, req)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, root.ID, page.Messages[0].ID)
	assert.True(t, page.Messages[1].IsDeleted)
	assert.Nil(t, page.Messages[1].Content)

	page, err = f.repo.ListMessages(ctx, ListFilter{ChannelID: f.channel}, req)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	page, err = f.repo.ListMessages(ctx, ListFilter{ChannelID: f.channel, ParentID: &root.ID}, req)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, reply.ID, page.Messages[0].ID)
}

func TestReactionsAreUnique(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.send(t, f.alice, "react to me", nil)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			delta, err := f.repo.AddReaction(ctx, msg.ID, f.bob, "👍")
			assert.NoError(t, err)
			if err == nil && delta.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changed)

	delta, err := f.repo.AddReaction(ctx, msg.ID, f.bob, "👍")
	require.NoError(t, err)
	assert.False(t, delta.Changed)
	assert.Equal(t, 1, delta.Count)
	assert.Equal(t, f.channel, delta.ChannelID)

	_, err = f.repo.AddReaction(ctx, msg.ID, f.alice, "👍")
	require.NoError(t, err)

	require.NoError(t, f.repo.Hydrate(ctx, []*Message{msg}, f.alice))
	require.Len(t, msg.Reactions, 1)
	assert.Equal(t, ReactionSummary{Emoji: "👍", Count: 2, Reacted: true}, msg.Reactions[0])

	removed, err := f.repo.RemoveReaction(ctx, msg.ID, f.bob, "👍")
	require.NoError(t, err)
	assert.True(t, removed.Changed)
	assert.Equal(t, 1, removed.Count)

	removed, err = f.repo.RemoveReaction(ctx, msg.ID, f.bob, "👍")
	require.NoError(t, err)
	assert.False(t, removed.Changed)

	_, _, err = f.repo.SoftDeleteMessage(ctx, msg.ID)
	require.NoError(t, err)
	_, err = f.repo.AddReaction(ctx, msg.ID, f.bob, "🎉")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAttachFilesOnlyInsideCreation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	file := NewAttachment{FileName: "a.png", FileType: "image/png", Size: 10, StorageKey: "k", URL: "http://x/k", Width: 2, Height: 3}

	msg := f.send(t, f.alice, "later", nil)
	_, err := f.repo.AttachFiles(ctx, msg.ID, []NewAttachment{file})
	assert.Error(t, err)

	var created *Message
	err = f.repo.InTx(ctx, func(s Store) error {
		m, err := s.CreateMessage(ctx, NewMessage{ChannelID: f.channel, AuthorID: f.alice, WithAttachments: true})
		if err != nil {
			return err
		}
		created, err = s.AttachFiles(ctx, m.ID, []NewAttachment{file})
		return err
	})
	require.NoError(t, err)
	require.Len(t, created.Attachments, 1)

	reloaded, err := f.repo.GetMessage(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.Hydrate(ctx, []*Message{reloaded}, f.bob))
	require.Len(t, reloaded.Attachments, 1)
	assert.Equal(t, "a.png", reloaded.Attachments[0].FileName)
	assert.Equal(t, 2, reloaded.Attachments[0].Width)

	_, err = f.repo.EditMessage(ctx, created.ID, "")
	assert.NoError(t, err, "attachment-only message may have empty content")
}

func TestInTxRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var id int64
	err := f.repo.InTx(ctx, func(s Store) error {
		m, err := s.CreateMessage(ctx, NewMessage{ChannelID: f.channel, AuthorID: f.alice, Content: "ghost"})
		if err != nil {
			return err
		}
		id = m.ID
		return apperrors.AttachmentUploadFailed("upload failed", assert.AnError)
	})
	require.Error(t, err)

	_, err = f.repo.GetMessage(ctx, id)
	assert.True(t, apperrors.IsNotFound(err))
}
