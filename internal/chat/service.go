package chat

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/Alexander-D-Karpov/huddle/internal/audit"
	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/authz"
	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/Alexander-D-Karpov/huddle/internal/common/pagination"
	"github.com/Alexander-D-Karpov/huddle/internal/events"
	"github.com/Alexander-D-Karpov/huddle/internal/membership"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Oracle interface {
	Lookup(ctx context.Context, userID, channelID uuid.UUID) (*membership.Member, bool)
}

type Publisher interface {
	Publish(ctx context.Context, ev *events.Event)
}

type Auditor interface {
	LogModeration(ctx context.Context, actorID uuid.UUID, action string, messageID string, channelID, authorID uuid.UUID)
}

type Limits struct {
	MaxFileSize     int64
	MaxFilesPerSend int
}

// File is an attachment payload received with a send.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type SendInput struct {
	ChannelID uuid.UUID
	Content   string
	ParentID  *int64
	Files     []File
}

type ListInput struct {
	ChannelID      uuid.UUID
	ParentID       *int64
	IncludeDeleted bool
	Limit          int
	Cursor         string
	Sort           string
}

// Service runs the message use-cases: authorize through the oracle, mutate
// through the store inside one transaction, then hand the committed change to
// the publisher. Mutations of one channel are serialized from commit to
// publish; other channels proceed in parallel.
type Service struct {
	store     messages.Store
	channels  *channelLocks
	oracle    Oracle
	uploader  storage.Uploader
	publisher Publisher
	audit     Auditor
	limits    Limits
}

func NewService(store messages.Store, oracle Oracle, uploader storage.Uploader, publisher Publisher, auditor Auditor, limits Limits) *Service {
	if limits.MaxFilesPerSend <= 0 {
		limits.MaxFilesPerSend = 10
	}
	return &Service{
		store:     store,
		channels:  newChannelLocks(),
		oracle:    oracle,
		uploader:  uploader,
		publisher: publisher,
		audit:     auditor,
		limits:    limits,
	}
}

func (s *Service) SendMessage(ctx context.Context, in SendInput) (*messages.Message, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := s.oracle.Lookup(ctx, actor, in.ChannelID); !ok {
		return nil, errors.Forbidden("not a channel member")
	}

	files, err := s.checkFiles(in.Files)
	if err != nil {
		return nil, err
	}

	unlock := s.channels.lock(in.ChannelID)
	defer unlock()

	var msg *messages.Message
	err = s.store.InTx(ctx, func(tx messages.Store) error {
		created, err := tx.CreateMessage(ctx, messages.NewMessage{
			ChannelID:       in.ChannelID,
			AuthorID:        actor,
			Content:         in.Content,
			ParentID:        in.ParentID,
			WithAttachments: len(files) > 0,
		})
		if err != nil {
			return err
		}
		msg = created
		msg.Attachments = []messages.Attachment{}

		if len(files) == 0 {
			return nil
		}

		uploaded, err := s.upload(ctx, files)
		if err != nil {
			return err
		}

		withFiles, err := tx.AttachFiles(ctx, created.ID, uploaded)
		if err != nil {
			return err
		}
		msg.Attachments = withFiles.Attachments
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	msg.Reactions = []messages.ReactionSummary{}
	if msg.Mentions == nil {
		msg.Mentions = []messages.Mention{}
	}

	s.publish(ctx, events.MessageCreated, msg.ChannelID, actor, msg)
	return msg, nil
}

func (s *Service) checkFiles(files []File) ([]File, error) {
	if len(files) > s.limits.MaxFilesPerSend {
		return nil, errors.BadRequest(fmt.Sprintf("at most %d files per message", s.limits.MaxFilesPerSend))
	}

	out := make([]File, 0, len(files))
	for _, f := range files {
		f.ContentType = storage.ResolveContentType(f.Name, f.ContentType)
		if err := storage.Validate(f.Name, f.ContentType, int64(len(f.Data)), s.limits.MaxFileSize); err != nil {
			return nil, errors.BadRequest(err.Error())
		}
		out = append(out, f)
	}
	return out, nil
}

// upload stores every file; the first failure aborts the send. Blobs written
// before the failure stay in storage unreferenced.
func (s *Service) upload(ctx context.Context, files []File) ([]messages.NewAttachment, error) {
	out := make([]messages.NewAttachment, 0, len(files))
	for _, f := range files {
		loc, err := s.uploader.Upload(ctx, f.Data, f.Name, f.ContentType)
		if err != nil {
			logging.FromContext(ctx).Warn("attachment upload failed",
				zap.String("filename", f.Name),
				zap.Int("uploaded_before_failure", len(out)),
				zap.Error(err),
			)
			return nil, errors.AttachmentUploadFailed("attachment upload failed", err)
		}
		out = append(out, messages.NewAttachment{
			FileName:   f.Name,
			FileType:   f.ContentType,
			Size:       loc.Size,
			StorageKey: loc.Key,
			URL:        loc.URL,
			Width:      loc.Width,
			Height:     loc.Height,
		})
	}
	return out, nil
}

func (s *Service) EditMessage(ctx context.Context, messageID int64, content string) (*messages.Message, error) {
	actor, target, err := s.authorizeModify(ctx, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.channels.lock(target.ChannelID)
	defer unlock()

	updated, err := s.store.EditMessage(ctx, messageID, content)
	if err != nil {
		return nil, storageError(err)
	}

	if err := s.store.Hydrate(ctx, []*messages.Message{updated}, actor); err != nil {
		return nil, storageError(err)
	}

	if target.AuthorID != actor {
		s.audit.LogModeration(ctx, actor, audit.ActionMessageEdit, formatID(messageID), target.ChannelID, target.AuthorID)
	}

	s.publish(ctx, events.MessageEdited, updated.ChannelID, actor, viewerNeutral(updated))
	return updated, nil
}

func (s *Service) DeleteMessage(ctx context.Context, messageID int64) (*messages.Message, error) {
	actor, target, err := s.authorizeModify(ctx, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.channels.lock(target.ChannelID)
	defer unlock()

	deleted, changed, err := s.store.SoftDeleteMessage(ctx, messageID)
	if err != nil {
		return nil, storageError(err)
	}

	if err := s.store.Hydrate(ctx, []*messages.Message{deleted}, actor); err != nil {
		return nil, storageError(err)
	}

	if !changed {
		return deleted, nil
	}

	if target.AuthorID != actor {
		s.audit.LogModeration(ctx, actor, audit.ActionMessageDelete, formatID(messageID), target.ChannelID, target.AuthorID)
	}

	s.publish(ctx, events.MessageDeleted, deleted.ChannelID, actor, deleted)
	return deleted, nil
}

// authorizeModify loads the target and checks that the actor is a member who
// either wrote it or holds manage_messages. Deleting an already deleted
// message is left to the store, which treats it as a no-op.
func (s *Service) authorizeModify(ctx context.Context, messageID int64) (uuid.UUID, *messages.Message, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}

	target, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return uuid.Nil, nil, storageError(err)
	}

	member, ok := s.oracle.Lookup(ctx, actor, target.ChannelID)
	if !ok {
		return uuid.Nil, nil, errors.Forbidden("not a channel member")
	}

	if target.AuthorID != actor && !member.Can(authz.PermissionManageMessages) {
		return uuid.Nil, nil, errors.Forbidden("only the author or a moderator can change this message")
	}

	return actor, target, nil
}

func (s *Service) AddReaction(ctx context.Context, messageID int64, emoji string) (*messages.ReactionDelta, error) {
	actor, target, err := s.authorizeRead(ctx, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.channels.lock(target.ChannelID)
	defer unlock()

	delta, err := s.store.AddReaction(ctx, messageID, actor, emoji)
	if err != nil {
		return nil, storageError(err)
	}

	if delta.Changed {
		s.publish(ctx, events.ReactionAdded, delta.ChannelID, actor, delta)
	}
	return delta, nil
}

func (s *Service) RemoveReaction(ctx context.Context, messageID int64, emoji string) (*messages.ReactionDelta, error) {
	actor, target, err := s.authorizeRead(ctx, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.channels.lock(target.ChannelID)
	defer unlock()

	delta, err := s.store.RemoveReaction(ctx, messageID, actor, emoji)
	if err != nil {
		return nil, storageError(err)
	}

	if delta.Changed {
		s.publish(ctx, events.ReactionRemoved, delta.ChannelID, actor, delta)
	}
	return delta, nil
}

// authorizeRead loads the target and checks that the actor is a member of its
// channel. A missing message is NotFound for every caller; message ids are
// snowflakes, so their existence reveals nothing about channel contents.
func (s *Service) authorizeRead(ctx context.Context, messageID int64) (uuid.UUID, *messages.Message, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}

	target, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return uuid.Nil, nil, storageError(err)
	}

	if _, ok := s.oracle.Lookup(ctx, actor, target.ChannelID); !ok {
		return uuid.Nil, nil, errors.Forbidden("not a channel member")
	}
	return actor, target, nil
}

func (s *Service) GetMessage(ctx context.Context, messageID int64) (*messages.Message, error) {
	actor, msg, err := s.authorizeRead(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if err := s.store.Hydrate(ctx, []*messages.Message{msg}, actor); err != nil {
		return nil, storageError(err)
	}
	return msg, nil
}

func (s *Service) ListMessages(ctx context.Context, in ListInput) (*messages.Page, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := s.oracle.Lookup(ctx, actor, in.ChannelID); !ok {
		return nil, errors.Forbidden("not a channel member")
	}

	req, err := pagination.ParseRequest(in.Limit, in.Cursor, in.Sort)
	if err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	page, err := s.store.ListMessages(ctx, messages.ListFilter{
		ChannelID:      in.ChannelID,
		ParentID:       in.ParentID,
		IncludeDeleted: in.IncludeDeleted,
	}, req)
	if err != nil {
		return nil, storageError(err)
	}

	if err := s.store.Hydrate(ctx, page.Messages, actor); err != nil {
		return nil, storageError(err)
	}
	return page, nil
}

// publish hands a committed change to the fanout. Callers hold the channel's
// lock, so events of one channel reach the fanout in commit order. The fanout
// itself never blocks or fails.
func (s *Service) publish(ctx context.Context, t events.Type, channelID, actor uuid.UUID, payload any) {
	if s.publisher == nil {
		return
	}

	ev, err := events.New(t, channelID, payload)
	if err != nil {
		logging.FromContext(ctx).Error("failed to build event",
			zap.String("type", string(t)),
			zap.Error(err),
		)
		return
	}
	ev.Origin = originFrom(ctx)
	ev.Actor = actor

	s.publisher.Publish(context.WithoutCancel(ctx), ev)
}

// viewerNeutral copies msg with per-viewer reaction flags cleared, for
// payloads that go to every subscriber.
func viewerNeutral(msg *messages.Message) *messages.Message {
	out := *msg
	out.Reactions = make([]messages.ReactionSummary, len(msg.Reactions))
	for i, r := range msg.Reactions {
		r.Reacted = false
		out.Reactions[i] = r
	}
	return &out
}

func actorFrom(ctx context.Context) (uuid.UUID, error) {
	actor, ok := interceptor.UserID(ctx)
	if !ok {
		return uuid.Nil, errors.Unauthorized("user not authenticated")
	}
	return actor, nil
}

// storageError passes classified errors through and reports anything else as
// an internal storage failure. Storage errors are not retried here.
func storageError(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.Internal("storage failure", err)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

type originKey struct{}

// WithOrigin tags ctx with the live connection that issued the request, so the
// resulting event is not echoed back to it.
func WithOrigin(ctx context.Context, connID string) context.Context {
	if connID == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, connID)
}

func originFrom(ctx context.Context) string {
	connID, _ := ctx.Value(originKey{}).(string)
	return connID
}
