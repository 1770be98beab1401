package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rushteam/pricekit/core"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Get(ctx, "missing")
	require.True(t, core.IsStoreNotFound(err))

	value := []byte("v1")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'x'
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got, "stored value must not alias the caller's slice")

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.True(t, core.IsStoreNotFound(err))
}

func TestMemoryStore_ZRangeOrdersByScoreThenMemberDesc(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.ZAdd(ctx, "runs", 100, "a"))
	require.NoError(t, s.ZAdd(ctx, "runs", 300, "b"))
	require.NoError(t, s.ZAdd(ctx, "runs", 300, "c"))
	require.NoError(t, s.ZAdd(ctx, "runs", 200, "d"))

	members, err := s.ZRange(ctx, "runs", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "d", "a"}, members)

	members, err = s.ZRange(ctx, "runs", 0, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, members)

	score, err := s.ZScore(ctx, "runs", "d")
	require.NoError(t, err)
	require.Equal(t, 200.0, score)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewFileStore(root)

	key := "719251958895265794/run-1/artifacts/ols_model/model.json"
	require.NoError(t, s.Set(ctx, key, []byte(`{"flavor":"linear"}`)))

	_, err := os.Stat(filepath.Join(root, "719251958895265794", "run-1", "artifacts", "ols_model", "model.json"))
	require.NoError(t, err)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"flavor":"linear"}`, string(got))

	batch, err := s.BatchGet(ctx, []string{key, "nope/model.json"})
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	require.True(t, core.IsStoreNotFound(err))
	require.NoError(t, s.Delete(ctx, key))
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	for _, key := range []string{"", "../secret", "a/../../secret", "/etc/passwd", `a\b`} {
		_, err := s.Get(ctx, key)
		require.Error(t, err, "key %q", key)
		require.False(t, core.IsStoreNotFound(err), "key %q", key)
	}
}

func TestMemoryStore_Hash(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.HGet(ctx, "experiments", "House_Price_Prediction")
	require.True(t, core.IsStoreNotFound(err))

	require.NoError(t, s.HSet(ctx, "experiments", "House_Price_Prediction", []byte("719")))
	require.NoError(t, s.HSet(ctx, "experiments", "Staging", []byte("720")))

	got, err := s.HGet(ctx, "experiments", "House_Price_Prediction")
	require.NoError(t, err)
	require.Equal(t, []byte("719"), got)

	all, err := s.HGetAll(ctx, "experiments")
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"House_Price_Prediction": []byte("719"), "Staging": []byte("720")}, all)

	require.NoError(t, s.Delete(ctx, "experiments"))
	all, err = s.HGetAll(ctx, "experiments")
	require.NoError(t, err)
	require.Empty(t, all)
}
