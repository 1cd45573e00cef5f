package chat

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion-chat/internal/model/chat"
)

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.CreateSession(ctx, 0, "u1")
	assert.ErrorIs(t, err, ErrCompanionRequired)

	session, err := store.CreateSession(ctx, 2, "u1")
	require.NoError(t, err)
	assert.Positive(t, session.ID)
	assert.Equal(t, 2, session.CompanionID)
	assert.Equal(t, "u1", session.UserID)

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.CompanionID, got.CompanionID)

	_, err = store.GetSession(ctx, session.ID+1000)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	for i := 0; i < 5; i++ {
		saved, err := store.SaveMessage(ctx, chat.Message{
			SessionID: session.ID,
			Role:      chat.RoleUser,
			Content:   fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
		assert.Positive(t, saved.ID)
		assert.False(t, saved.CreatedAt.IsZero())
	}

	_, err = store.SaveMessage(ctx, chat.Message{SessionID: session.ID + 1000, Content: "lost"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	all, err := store.LoadTranscript(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "m0", all[0].Content)

	last, err := store.LoadTranscript(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "m3", last[0].Content)
	assert.Equal(t, "m4", last[1].Content)

	_, err = store.LoadTranscript(ctx, session.ID+1000, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreTranscriptIsACopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	session, err := store.CreateSession(ctx, 1, "u1")
	require.NoError(t, err)
	_, err = store.SaveMessage(ctx, chat.Message{SessionID: session.ID, Content: "hi"})
	require.NoError(t, err)

	msgs, err := store.LoadTranscript(ctx, session.ID, 0)
	require.NoError(t, err)
	msgs[0].Content = "changed"

	again, err := store.LoadTranscript(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "hi", again[0].Content)
}

// REDIS_TEST_URL 指向一个可写的 Redis 实例时运行，例如 redis://localhost:6379/15。
func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)

	prefix := fmt.Sprintf("companion-chat-test-%d", time.Now().UnixNano())
	store := NewRedisStore(client, prefix, time.Minute, zerolog.Nop())
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		store.Close()
	})
	require.NoError(t, store.Ping(context.Background()))

	exerciseStore(t, store)
}

func TestRedisStoreReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStore(client, "", 0, zerolog.Nop())
	defer store.Close()

	_, err := store.CreateSession(context.Background(), 1, "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)

	_, err = store.GetSession(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestOpenSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := OpenSession(ctx, store, 0, "u1", nil)
	assert.ErrorIs(t, err, ErrCompanionRequired)

	first, err := OpenSession(ctx, store, 1, "u1", nil)
	require.NoError(t, err)

	resumed, err := OpenSession(ctx, store, 1, "u1", &first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, resumed.ID)

	other, err := OpenSession(ctx, store, 2, "u1", &first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, 2, other.CompanionID)

	missing := 999
	fresh, err := OpenSession(ctx, store, 1, "u1", &missing)
	require.NoError(t, err)
	assert.NotEqual(t, missing, fresh.ID)
}
