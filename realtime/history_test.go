package realtime_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(id string) realtime.Notification {
	return realtime.Notification{
		ID:        id,
		Type:      "info",
		Title:     "Title " + id,
		Message:   "Message " + id,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHistoryAddIsMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	h := realtime.NewHistory(nil)

	require.NoError(t, h.Add(ctx, note("1")))
	require.NoError(t, h.Add(ctx, note("2")))
	require.NoError(t, h.Add(ctx, note("3")))

	list, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"3", "2", "1"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestHistoryReplacesDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	h := realtime.NewHistory(nil)

	require.NoError(t, h.Add(ctx, note("1")))
	require.NoError(t, h.Add(ctx, note("2")))

	updated := note("1")
	updated.Title = "Updated"
	require.NoError(t, h.Add(ctx, updated))

	list, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Updated", list[0].Title)
	assert.Equal(t, "2", list[1].ID)
}

func TestHistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	h := realtime.NewHistory(nil, realtime.WithHistoryLimit(5))

	for i := 0; i < 12; i++ {
		require.NoError(t, h.Add(ctx, note(fmt.Sprint(i))))
	}

	list, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, "11", list[0].ID)
	assert.Equal(t, "7", list[4].ID)
}

func TestHistoryDefaultLimit(t *testing.T) {
	ctx := context.Background()
	h := realtime.NewHistory(nil)

	for i := 0; i < realtime.DefaultHistoryLimit+10; i++ {
		require.NoError(t, h.Add(ctx, note(fmt.Sprint(i))))
	}

	list, err := h.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, realtime.DefaultHistoryLimit)
}

func TestHistoryReadState(t *testing.T) {
	ctx := context.Background()
	h := realtime.NewHistory(nil)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.Add(ctx, note(id)))
	}

	count, err := h.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	found, err := h.MarkAsRead(ctx, "b")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = h.MarkAsRead(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	count, err = h.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	changed, err := h.MarkAllAsRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	changed, err = h.MarkAllAsRead(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestHistoryPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	storage := authclient.NewMemoryStorage()

	first := realtime.NewHistory(storage)
	require.NoError(t, first.Add(ctx, note("1")))
	_, err := first.MarkAsRead(ctx, "1")
	require.NoError(t, err)

	second := realtime.NewHistory(storage)
	list, err := second.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
	assert.True(t, list[0].Timestamp.Equal(note("1").Timestamp))

	require.NoError(t, second.Clear(ctx))
	_, ok, err := storage.Get(ctx, realtime.KeyNotifications)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryCorruptStorage(t *testing.T) {
	ctx := context.Background()
	storage := authclient.NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, realtime.KeyNotifications, "{broken"))

	h := realtime.NewHistory(storage, realtime.WithHistoryLogger(quietLogger{}))
	list, err := h.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, h.Add(ctx, note("1")))
	list, err = h.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
