package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/authz"
	apperrors "github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/pagination"
	"github.com/Alexander-D-Karpov/huddle/internal/events"
	"github.com/Alexander-D-Karpov/huddle/internal/membership"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/storage"
	"github.com/google/uuid"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type reactionRow struct {
	messageID int64
	userID    uuid.UUID
	emoji     string
}

type memState struct {
	msgs        map[int64]messages.Message
	attachments map[int64][]messages.Attachment
	reactions   []reactionRow
	mentions    map[int64][]messages.Mention
	nextID      int64
}

func (s *memState) clone() *memState {
	out := &memState{
		msgs:        make(map[int64]messages.Message, len(s.msgs)),
		attachments: make(map[int64][]messages.Attachment, len(s.attachments)),
		reactions:   append([]reactionRow(nil), s.reactions...),
		mentions:    make(map[int64][]messages.Mention, len(s.mentions)),
		nextID:      s.nextID,
	}
	for k, v := range s.msgs {
		out.msgs[k] = v
	}
	for k, v := range s.attachments {
		out.attachments[k] = append([]messages.Attachment(nil), v...)
	}
	for k, v := range s.mentions {
		out.mentions[k] = append([]messages.Mention(nil), v...)
	}
	return out
}

type memData struct {
	mu      sync.Mutex
	state   *memState
	handles map[string]uuid.UUID
}

// memStore is an in-memory messages.Store with the same validation and
// transaction rules as the Postgres repository.
type memStore struct {
	data *memData
	inTx bool
}

func newMemStore() *memStore {
	return &memStore{data: &memData{
		state: &memState{
			msgs:        map[int64]messages.Message{},
			attachments: map[int64][]messages.Attachment{},
			mentions:    map[int64][]messages.Mention{},
		},
		handles: map[string]uuid.UUID{},
	}}
}

func (s *memStore) addHandle(handle string, id uuid.UUID) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	s.data.handles[strings.ToLower(handle)] = id
}

func (s *memStore) count() int {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	return len(s.data.state.msgs)
}

func (s *memStore) InTx(ctx context.Context, fn func(messages.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.data.mu.Lock()
	snapshot := s.data.state.clone()
	s.data.mu.Unlock()

	if err := fn(&memStore{data: s.data, inTx: true}); err != nil {
		s.data.mu.Lock()
		s.data.state = snapshot
		s.data.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) resolveMentions(content string) []messages.Mention {
	var out []messages.Mention
	for _, h := range messages.ExtractMentions(content) {
		if id, ok := s.data.handles[h]; ok {
			out = append(out, messages.Mention{UserID: id, Handle: h})
		}
	}
	return out
}

func (s *memStore) CreateMessage(_ context.Context, in messages.NewMessage) (*messages.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && !in.WithAttachments {
		return nil, apperrors.BadRequest("message must have content or attachments")
	}
	if len([]rune(content)) > messages.MaxContentLength {
		return nil, apperrors.BadRequest("message content too long")
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	st := s.data.state

	if in.ParentID != nil {
		parent, ok := st.msgs[*in.ParentID]
		switch {
		case !ok:
			return nil, apperrors.InvalidThreadParent("thread parent does not exist")
		case parent.ChannelID != in.ChannelID:
			return nil, apperrors.InvalidThreadParent("thread parent belongs to another channel")
		case parent.IsDeleted:
			return nil, apperrors.InvalidThreadParent("thread parent is deleted")
		}
	}

	st.nextID++
	at := baseTime.Add(time.Duration(st.nextID) * time.Millisecond)
	msg := messages.Message{
		ID:        st.nextID,
		ChannelID: in.ChannelID,
		AuthorID:  in.AuthorID,
		CreatedAt: at,
		UpdatedAt: at,
		ParentID:  in.ParentID,
	}
	if content != "" {
		msg.Content = &content
	}
	st.msgs[msg.ID] = msg
	st.mentions[msg.ID] = s.resolveMentions(content)

	out := msg
	out.Mentions = st.mentions[msg.ID]
	return &out, nil
}

func (s *memStore) EditMessage(_ context.Context, id int64, content string) (*messages.Message, error) {
	content = strings.TrimSpace(content)

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	st := s.data.state

	msg, ok := st.msgs[id]
	if !ok || msg.IsDeleted {
		return nil, apperrors.NotFound("message not found")
	}
	if content == "" && len(st.attachments[id]) == 0 {
		return nil, apperrors.BadRequest("message must have content or attachments")
	}

	msg.Content = nil
	if content != "" {
		msg.Content = &content
	}
	msg.IsEdited = true
	msg.UpdatedAt = msg.UpdatedAt.Add(time.Second)
	st.msgs[id] = msg
	st.mentions[id] = s.resolveMentions(content)

	out := msg
	out.Mentions = st.mentions[id]
	return &out, nil
}

func (s *memStore) SoftDeleteMessage(_ context.Context, id int64) (*messages.Message, bool, error) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	st := s.data.state

	msg, ok := st.msgs[id]
	if !ok {
		return nil, false, apperrors.NotFound("message not found")
	}
	if msg.IsDeleted {
		out := msg
		return &out, false, nil
	}

	msg.Content = nil
	msg.IsDeleted = true
	st.msgs[id] = msg
	delete(st.mentions, id)

	out := msg
	return &out, true, nil
}

func (s *memStore) GetMessage(_ context.Context, id int64) (*messages.Message, error) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	msg, ok := s.data.state.msgs[id]
	if !ok {
		return nil, apperrors.NotFound("message not found")
	}
	out := msg
	return &out, nil
}

func (s *memStore) ListMessages(_ context.Context, filter messages.ListFilter, page pagination.Request) (*messages.Page, error) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	var rows []messages.Message
	for _, m := range s.data.state.msgs {
		if m.ChannelID != filter.ChannelID {
			continue
		}
		if !filter.IncludeDeleted && m.IsDeleted {
			continue
		}
		switch {
		case filter.ParentID == nil && m.ParentID != nil:
			continue
		case filter.ParentID != nil && (m.ParentID == nil || *m.ParentID != *filter.ParentID):
			continue
		}
		if c := page.Cursor; c != nil {
			if page.Sort == pagination.SortOldest && !pagination.Less(c.CreatedAt, c.ID, m.CreatedAt, m.ID) {
				continue
			}
			if page.Sort == pagination.SortNewest && !pagination.Less(m.CreatedAt, m.ID, c.CreatedAt, c.ID) {
				continue
			}
		}
		rows = append(rows, m)
	}

	sort.Slice(rows, func(i, j int) bool {
		less := pagination.Less(rows[i].CreatedAt, rows[i].ID, rows[j].CreatedAt, rows[j].ID)
		if page.Sort == pagination.SortNewest {
			return !less
		}
		return less
	})

	result := &messages.Page{Messages: []*messages.Message{}}
	for i, m := range rows {
		if i == page.Limit {
			last := result.Messages[len(result.Messages)-1]
			result.NextCursor = (&pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}).Encode()
			break
		}
		result.Messages = append(result.Messages, &m)
	}
	return result, nil
}

func (s *memStore) react(messageID int64, userID uuid.UUID, emoji string, add bool) (*messages.ReactionDelta, error) {
	if err := messages.ValidateEmoji(emoji); err != nil {
		return nil, err
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	st := s.data.state

	msg, ok := st.msgs[messageID]
	if !ok || msg.IsDeleted {
		return nil, apperrors.NotFound("message not found")
	}

	delta := &messages.ReactionDelta{
		MessageID: messageID,
		ChannelID: msg.ChannelID,
		UserID:    userID,
		Emoji:     emoji,
	}

	idx := -1
	for i, r := range st.reactions {
		if r.messageID == messageID && r.userID == userID && r.emoji == emoji {
			idx = i
		}
	}
	switch {
	case add && idx < 0:
		st.reactions = append(st.reactions, reactionRow{messageID, userID, emoji})
		delta.Changed = true
	case !add && idx >= 0:
		st.reactions = append(st.reactions[:idx], st.reactions[idx+1:]...)
		delta.Changed = true
	}

	for _, r := range st.reactions {
		if r.messageID == messageID && r.emoji == emoji {
			delta.Count++
		}
	}
	return delta, nil
}

func (s *memStore) AddReaction(_ context.Context, messageID int64, userID uuid.UUID, emoji string) (*messages.ReactionDelta, error) {
	return s.react(messageID, userID, emoji, true)
}

func (s *memStore) RemoveReaction(_ context.Context, messageID int64, userID uuid.UUID, emoji string) (*messages.ReactionDelta, error) {
	return s.react(messageID, userID, emoji, false)
}

func (s *memStore) AttachFiles(_ context.Context, messageID int64, files []messages.NewAttachment) (*messages.Message, error) {
	if !s.inTx {
		return nil, apperrors.Conflict("attachments can only be added while the message is created")
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	st := s.data.state

	msg, ok := st.msgs[messageID]
	if !ok || msg.IsDeleted {
		return nil, apperrors.NotFound("message not found")
	}

	for _, f := range files {
		st.attachments[messageID] = append(st.attachments[messageID], messages.Attachment{
			ID:         uuid.New(),
			MessageID:  messageID,
			FileName:   f.FileName,
			FileType:   f.FileType,
			Size:       f.Size,
			StorageKey: f.StorageKey,
			URL:        f.URL,
			Width:      f.Width,
			Height:     f.Height,
			CreatedAt:  msg.CreatedAt,
		})
	}

	out := msg
	out.Attachments = append([]messages.Attachment(nil), st.attachments[messageID]...)
	return &out, nil
}

func (s *memStore) Hydrate(_ context.Context, msgs []*messages.Message, viewerID uuid.UUID) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	st := s.data.state

	for _, m := range msgs {
		m.Attachments = []messages.Attachment{}
		m.Reactions = []messages.ReactionSummary{}
		m.Mentions = []messages.Mention{}
		if m.IsDeleted {
			continue
		}

		m.Attachments = append(m.Attachments, st.attachments[m.ID]...)
		m.Mentions = append(m.Mentions, st.mentions[m.ID]...)

		byEmoji := map[string]*messages.ReactionSummary{}
		var order []string
		for _, r := range st.reactions {
			if r.messageID != m.ID {
				continue
			}
			sum, ok := byEmoji[r.emoji]
			if !ok {
				sum = &messages.ReactionSummary{Emoji: r.emoji}
				byEmoji[r.emoji] = sum
				order = append(order, r.emoji)
			}
			sum.Count++
			if r.userID == viewerID {
				sum.Reacted = true
			}
		}
		for _, e := range order {
			m.Reactions = append(m.Reactions, *byEmoji[e])
		}
	}
	return nil
}

type fakeOracle struct {
	mu      sync.Mutex
	members map[string]*membership.Member
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{members: map[string]*membership.Member{}}
}

func (o *fakeOracle) add(channelID, userID uuid.UUID, role authz.Role, perms ...authz.Permission) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.members[channelID.String()+"/"+userID.String()] = &membership.Member{
		ChannelID:   channelID,
		UserID:      userID,
		Role:        role,
		Permissions: perms,
	}
}

func (o *fakeOracle) Lookup(_ context.Context, userID, channelID uuid.UUID) (*membership.Member, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.members[channelID.String()+"/"+userID.String()]
	return m, ok
}

type fakeUploader struct {
	mu     sync.Mutex
	calls  int
	failAt int
}

func (u *fakeUploader) Upload(_ context.Context, data []byte, fileName, contentType string) (*storage.Location, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.failAt > 0 && u.calls == u.failAt {
		return nil, &storage.UploadError{Backend: "fake", FileName: fileName, Err: fmt.Errorf("bucket unreachable")}
	}
	key := fmt.Sprintf("k/%d", u.calls)
	return &storage.Location{
		Key:         key,
		URL:         "https://files.test/" + key,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev *events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) all() []*events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*events.Event(nil), p.events...)
}

type auditEntry struct {
	actor  uuid.UUID
	action string
	author uuid.UUID
}

type captureAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *captureAuditor) LogModeration(_ context.Context, actorID uuid.UUID, action string, _ string, _, authorID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{actor: actorID, action: action, author: authorID})
}
