package metastore

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "meta", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStore_AddPiece(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddPiece("fh", PieceInfo{Name: "fh-1", Hash: "fh", Index: 1, Size: 5}))
	require.NoError(t, store.AddPiece("fh", PieceInfo{Name: "fh-0", Hash: "fh", Index: 0, Size: 5}))

	s, err := store.GetSession("fh")
	require.NoError(t, err)
	assert.Equal(t, "fh", s.FileHash)
	assert.Equal(t, StateOpen, s.State)
	assert.Len(t, s.Pieces, 2)
	assert.False(t, s.CreatedAt.IsZero())
	assert.False(t, s.Pieces[0].ReceivedAt.IsZero())

	pieces := s.SortedPieces()
	require.Len(t, pieces, 2)
	assert.Equal(t, "fh-0", pieces[0].Name)
	assert.Equal(t, "fh-1", pieces[1].Name)
}

func TestBoltStore_AddPieceReplacesSameIndex(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddPiece("fh", PieceInfo{Name: "fh-0", Index: 0, Size: 5}))
	require.NoError(t, store.AddPiece("fh", PieceInfo{Name: "fh-0", Index: 0, Size: 7}))

	s, err := store.GetSession("fh")
	require.NoError(t, err)
	require.Len(t, s.Pieces, 1)
	assert.Equal(t, int64(7), s.Pieces[0].Size)
}

func TestBoltStore_SealLifecycle(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddPiece("fh", PieceInfo{Name: "fh-0", Index: 0, Size: 5}))
	require.NoError(t, store.Seal("fh"))

	assert.ErrorIs(t, store.Seal("fh"), ErrSealed)
	assert.ErrorIs(t, store.AddPiece("fh", PieceInfo{Name: "fh-1", Index: 1}), ErrSealed)

	require.NoError(t, store.Unseal("fh"))
	require.NoError(t, store.AddPiece("fh", PieceInfo{Name: "fh-1", Index: 1}))

	require.NoError(t, store.Seal("fh"))
	require.NoError(t, store.MarkMerged("fh", "fh.bin"))

	s, err := store.GetSession("fh")
	require.NoError(t, err)
	assert.Equal(t, StateMerged, s.State)
	assert.Equal(t, "fh.bin", s.MergedName)
	assert.Empty(t, s.Pieces)
	assert.True(t, s.Sealed())

	// merged session stays sealed
	require.NoError(t, store.Unseal("fh"))
	assert.ErrorIs(t, store.AddPiece("fh", PieceInfo{Name: "fh-0", Index: 0}), ErrSealed)
}

func TestBoltStore_SealCreatesSession(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Seal("new"))
	s, err := store.GetSession("new")
	require.NoError(t, err)
	assert.Equal(t, StateSealed, s.State)
}

func TestBoltStore_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Unseal("missing"), ErrNotFound)
	assert.NoError(t, store.DeleteSession("missing"))
}

func TestBoltStore_DeleteSession(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddPiece("fh", PieceInfo{Name: "fh-0", Index: 0}))
	require.NoError(t, store.DeleteSession("fh"))

	_, err := store.GetSession("fh")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_ConcurrentAddPiece(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.AddPiece("fh", PieceInfo{Name: fmt.Sprintf("fh-%d", i), Index: i, Size: 1}))
		}(i)
	}
	wg.Wait()

	s, err := store.GetSession("fh")
	require.NoError(t, err)
	assert.Len(t, s.Pieces, 20)
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.AddPiece("fh", PieceInfo{Name: "fh-3", Index: 3, Size: 9}))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	s, err := store.GetSession("fh")
	require.NoError(t, err)
	assert.Equal(t, "fh-3", s.Pieces[3].Name)
	assert.Equal(t, int64(9), s.Pieces[3].Size)
}

func TestBoltStore_UnsealAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.AddPiece("open", PieceInfo{Name: "open-0", Index: 0, Size: 1}))
	require.NoError(t, store.AddPiece("sealed", PieceInfo{Name: "sealed-0", Index: 0, Size: 1}))
	require.NoError(t, store.Seal("sealed"))
	require.NoError(t, store.Seal("sealed-2"))
	require.NoError(t, store.MarkMerged("merged", "merged.bin"))
	require.NoError(t, store.Close())

	// Процесс остановился посреди слияния: печати пережили перезапуск
	store, err = NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.UnsealAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, fh := range []string{"open", "sealed", "sealed-2"} {
		s, err := store.GetSession(fh)
		require.NoError(t, err)
		assert.Equal(t, StateOpen, s.State, fh)
	}

	s, err := store.GetSession("sealed")
	require.NoError(t, err)
	assert.Equal(t, "sealed-0", s.Pieces[0].Name)

	s, err = store.GetSession("merged")
	require.NoError(t, err)
	assert.Equal(t, StateMerged, s.State)

	require.NoError(t, store.AddPiece("sealed", PieceInfo{Name: "sealed-1", Index: 1, Size: 1}))

	n, err = store.UnsealAll()
	require.NoError(t, err)
	assert.Zero(t, n)
}
