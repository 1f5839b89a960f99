package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateSHA256(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	assert.Equal(t, want, CalculateSHA256([]byte("abc")))

	got, n, err := CalculateReaderSHA256(bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(3), n)

	path := filepath.Join(t.TempDir(), "abc.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))
	got, n, err = HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(3), n)

	_, _, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestPlanPieces(t *testing.T) {
	pieces := PlanPieces(15, 5)
	assert.Equal(t, []Piece{
		{Index: 0, Offset: 0, Size: 5},
		{Index: 1, Offset: 5, Size: 5},
		{Index: 2, Offset: 10, Size: 5},
	}, pieces)

	pieces = PlanPieces(12, 5)
	require.Len(t, pieces, 3)
	assert.Equal(t, int64(2), pieces[2].Size)
	assert.Equal(t, int64(10), pieces[2].Offset)

	assert.Equal(t, []Piece{{Index: 0}}, PlanPieces(0, 5))
	assert.Nil(t, PlanPieces(10, 0))
}

func TestPlanPieces_DisjointRanges(t *testing.T) {
	const chunkSize = 7
	pieces := PlanPieces(100, chunkSize)

	var total int64
	for i, p := range pieces {
		total += p.Size
		if i > 0 {
			prev := pieces[i-1]
			assert.Equal(t, prev.Offset+prev.Size, p.Offset)
		}
		assert.Equal(t, int64(p.Index)*chunkSize, p.Offset)
	}
	assert.Equal(t, int64(100), total)
}

func TestKeyedRWMutex_ExclusivePerKey(t *testing.T) {
	km := NewKeyedRWMutex()

	var active int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("a")
			defer unlock()

			assert.Equal(t, int32(1), atomic.AddInt32(&active, 1))
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, km.Len())
}

func TestKeyedRWMutex_SharedAndIndependent(t *testing.T) {
	km := NewKeyedRWMutex()

	r1 := km.RLock("a")
	r2 := km.RLock("a")

	// another key is not blocked by readers of "a"
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}

	locked := make(chan struct{})
	go func() {
		unlock := km.Lock("a")
		close(locked)
		unlock()
	}()

	select {
	case <-locked:
		t.Fatal("writer acquired lock while readers hold it")
	case <-time.After(20 * time.Millisecond):
	}

	r1()
	r2()

	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired lock")
	}
}
