package natskv

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/messenger/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodingRoundTrip(t *testing.T) {
	roots := []string{
		"alice-x-com",
		"users",
		"conversation_bob-x-com_alice-x-com_Oct 14, 2026 at 10:00:00 AM UTC_1a2b3c4d",
	}
	for _, root := range roots {
		key := EncodeKey(root)
		assert.Regexp(t, `^[-_A-Za-z0-9]+$`, key)

		got, err := DecodeKey(key)
		require.NoError(t, err)
		assert.Equal(t, root, got)
	}

	_, err := DecodeKey("***")
	assert.Error(t, err)
}

// testBackend connects to the server named by MESSENGER_TEST_NATS_URL.
func testBackend(t *testing.T) *Backend {
	t.Helper()
	url := os.Getenv("MESSENGER_TEST_NATS_URL")
	if url == "" {
		t.Skip("MESSENGER_TEST_NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err := Open(ctx, Options{URL: url, Bucket: "test_" + uuid.NewString()[:8]}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestStoreAgainstServer(t *testing.T) {
	store := docstore.New(testBackend(t), nil)
	ctx := context.Background()

	_, err := store.Get(ctx, "alice-x-com")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	w, err := store.Watch(ctx, "alice-x-com/conversations")
	require.NoError(t, err)
	defer w.Stop()

	select {
	case snap := <-w.C():
		assert.False(t, snap.Exists)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial snapshot")
	}

	require.NoError(t, store.Set(ctx, "alice-x-com/first_name", "Alice"))
	require.NoError(t, store.Update(ctx, "alice-x-com/conversations", func(cur json.RawMessage) (any, error) {
		assert.Nil(t, cur)
		return []string{"c1"}, nil
	}))

	select {
	case snap := <-w.C():
		assert.JSONEq(t, `["c1"]`, string(snap.Value))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for change")
	}

	raw, err := store.Get(ctx, "alice-x-com/first_name")
	require.NoError(t, err)
	assert.JSONEq(t, `"Alice"`, string(raw))

	require.NoError(t, store.Set(ctx, "alice-x-com", nil))
	_, err = store.Get(ctx, "alice-x-com")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
