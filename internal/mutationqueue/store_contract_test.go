package mutationqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleMutation(url string, body string) QueuedMutation {
	return QueuedMutation{
		URL:    url,
		Method: "POST",
		Headers: []Header{
			{Name: "Authorization", Value: "Bearer tok_1"},
			{Name: "Content-Type", Value: "application/json"},
			{Name: "X-Tenant", Value: "acme"},
		},
		Body:      []byte(body),
		Timestamp: time.UnixMilli(1_700_000_000_000).UTC(),
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()

	t.Run("append assigns increasing ids and load preserves order", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)
		id1, err := store.Append(ctx, sampleMutation("https://api.test/orders", `{"qty":1}`))
		require.NoError(t, err)
		id2, err := store.Append(ctx, sampleMutation("https://api.test/orders", `{"qty":2}`))
		require.NoError(t, err)
		id3, err := store.Append(ctx, sampleMutation("https://api.test/visits/7", `{"done":true}`))
		require.NoError(t, err)
		require.Greater(t, id2, id1)
		require.Greater(t, id3, id2)

		items, err := store.Load(ctx)
		require.NoError(t, err)
		require.Len(t, items, 3)
		require.Equal(t, []int64{id1, id2, id3}, []int64{items[0].ID, items[1].ID, items[2].ID})
		require.Equal(t, `{"qty":2}`, string(items[1].Body))
		require.Equal(t, "https://api.test/visits/7", items[2].URL)
		require.Equal(t, sampleMutation("", "").Headers, items[0].Headers)
		require.True(t, items[0].Timestamp.Equal(time.UnixMilli(1_700_000_000_000)))
	})

	t.Run("remove deletes exactly one record", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)
		id1, err := store.Append(ctx, sampleMutation("https://api.test/a", "a"))
		require.NoError(t, err)
		id2, err := store.Append(ctx, sampleMutation("https://api.test/b", "b"))
		require.NoError(t, err)

		require.NoError(t, store.Remove(ctx, id1))
		require.NoError(t, store.Remove(ctx, id1), "removing an absent id is a no-op")
		require.NoError(t, store.Remove(ctx, 999_999))

		items, err := store.Load(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		require.Equal(t, id2, items[0].ID)
		n, err := store.Len(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("clear empties the queue without reusing ids", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)
		_, err := store.Append(ctx, sampleMutation("https://api.test/a", "a"))
		require.NoError(t, err)
		last, err := store.Append(ctx, sampleMutation("https://api.test/b", "b"))
		require.NoError(t, err)

		require.NoError(t, store.Clear(ctx))
		n, err := store.Len(ctx)
		require.NoError(t, err)
		require.Zero(t, n)

		next, err := store.Append(ctx, sampleMutation("https://api.test/c", "c"))
		require.NoError(t, err)
		require.Greater(t, next, last)
	})

	t.Run("append rejects reads and empty urls", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)
		read := sampleMutation("https://api.test/orders", "")
		read.Method = "GET"
		_, err := store.Append(ctx, read)
		require.ErrorIs(t, err, ErrInvalidInput)

		_, err = store.Append(ctx, sampleMutation(" ", "x"))
		require.ErrorIs(t, err, ErrInvalidInput)

		n, err := store.Len(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("loaded records are copies", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)
		_, err := store.Append(ctx, sampleMutation("https://api.test/a", "abc"))
		require.NoError(t, err)
		first, err := store.Load(ctx)
		require.NoError(t, err)
		first[0].Body[0] = 'z'
		first[0].Headers[0].Value = "tampered"

		second, err := store.Load(ctx)
		require.NoError(t, err)
		require.Equal(t, "abc", string(second[0].Body))
		require.Equal(t, "Bearer tok_1", second[0].Headers[0].Value)
	})
}
