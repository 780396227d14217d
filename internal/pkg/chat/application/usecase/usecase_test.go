package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/task"
)

type stubRepository struct {
	participants map[string][]string
	err          error
}

func (r stubRepository) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	for _, id := range r.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r stubRepository) ListParticipantIDs(_ context.Context, conversationID string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.participants[conversationID], nil
}

type recordingQueue struct {
	tasks []qport.Task
	opts  []qport.EnqueueOption
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, t qport.Task, opts ...qport.EnqueueOption) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, t)
	q.opts = append(q.opts, opts...)
	return "task-1", nil
}

func (q *recordingQueue) Close() error { return nil }

func strptr(s string) *string { return &s }

func TestJoinConversationUseCase(t *testing.T) {
	repo := stubRepository{participants: map[string][]string{"c1": {"buyer", "dealer"}}}
	uc := NewJoinConversationUseCase(repo)
	ctx := context.Background()

	assert.NoError(t, uc.Execute(ctx, JoinConversationInput{ConversationID: "c1", UserID: "buyer"}))
	assert.ErrorIs(t, uc.Execute(ctx, JoinConversationInput{ConversationID: "c1", UserID: "stranger"}), chat.ErrNotParticipant)
	assert.ErrorIs(t, uc.Execute(ctx, JoinConversationInput{UserID: "buyer"}), chat.ErrMalformedEvent)

	failing := NewJoinConversationUseCase(stubRepository{err: errors.New("db down")})
	assert.ErrorIs(t, failing.Execute(ctx, JoinConversationInput{ConversationID: "c1", UserID: "buyer"}), ErrPersistence)
}

func TestListParticipantsUseCase(t *testing.T) {
	uc := NewListParticipantsUseCase(stubRepository{participants: map[string][]string{"c1": {"buyer", "dealer"}}})

	ids, err := uc.Execute(context.Background(), ListParticipantsInput{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"buyer", "dealer"}, ids)

	_, err = uc.Execute(context.Background(), ListParticipantsInput{})
	assert.ErrorIs(t, err, chat.ErrMalformedEvent)

	_, err = NewListParticipantsUseCase(stubRepository{err: errors.New("db down")}).
		Execute(context.Background(), ListParticipantsInput{ConversationID: "c1"})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSendMessageUseCase_StampsAndEnqueues(t *testing.T) {
	q := &recordingQueue{}
	uc := NewSendMessageUseCase(q, "")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	uc.Now = func() time.Time { return fixed }

	msg, err := uc.Execute(context.Background(), SendMessageInput{
		ConversationID: "c1",
		Sender:         chat.Party{ID: "buyer", Name: "Ada"},
		Body:           strptr("  hello  "),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, fixed, msg.CreatedAt)
	assert.Equal(t, "hello", *msg.Body)

	require.Len(t, q.tasks, 1)
	assert.Equal(t, task.MessageCreatedTaskType, q.tasks[0].Type)
	var p task.MessageCreatedTaskPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload, &p))
	assert.Equal(t, msg.ID, p.ID)
	assert.Equal(t, "buyer", p.SenderID)

	require.Len(t, q.opts, 1)
	assert.Equal(t, DefaultPersistQueue, q.opts[0].Queue)
}

func TestSendMessageUseCase_EnqueuesOnPersistQueue(t *testing.T) {
	q := &recordingQueue{}
	_, err := NewSendMessageUseCase(q, "persist_eu").Execute(context.Background(), SendMessageInput{
		ConversationID: "c1",
		Sender:         chat.Party{ID: "buyer"},
		Body:           strptr("hi"),
	})
	require.NoError(t, err)
	require.Len(t, q.opts, 1)
	assert.Equal(t, "persist_eu", q.opts[0].Queue)
}

func TestSendMessageUseCase_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewSendMessageUseCase(nil, "").Execute(ctx, SendMessageInput{ConversationID: "c1", Sender: chat.Party{ID: "buyer"}, Body: strptr("   ")})
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)

	_, err = NewSendMessageUseCase(&recordingQueue{err: errors.New("redis down")}, "").
		Execute(ctx, SendMessageInput{ConversationID: "c1", Sender: chat.Party{ID: "buyer"}, Body: strptr("hi")})
	assert.ErrorIs(t, err, ErrEnqueue)
}

func TestSendMessageUseCase_WithoutQueue(t *testing.T) {
	msg, err := NewSendMessageUseCase(nil, "").Execute(context.Background(), SendMessageInput{
		ConversationID: "c1",
		Sender:         chat.Party{ID: "dealer"},
		AttachmentURL:  strptr("https://cdn.example/brochure.pdf"),
		MsgType:        chat.MessageTypeFile,
	})
	require.NoError(t, err)
	assert.Nil(t, msg.Body)
	assert.Equal(t, "c1", msg.Event().ConversationID)
}
