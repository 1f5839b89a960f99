package client

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Gammanik/resumable-upload/internal/api"
	"github.com/Gammanik/resumable-upload/internal/logger"
	"github.com/Gammanik/resumable-upload/internal/metastore"
	"github.com/Gammanik/resumable-upload/internal/storage"
	"github.com/Gammanik/resumable-upload/internal/upload"
	"github.com/Gammanik/resumable-upload/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	next   http.Handler
	pieces int32
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		atomic.AddInt32(&h.pieces, 1)
	}
	h.next.ServeHTTP(w, r)
}

func newServer(t *testing.T) (*httptest.Server, *storage.Layout, *countingHandler) {
	t.Helper()

	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)

	store, err := metastore.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logger.Nop()
	svc := upload.New(layout, store, log, upload.Options{MaxChunkSize: 1 << 20, MergeConcurrency: 4})
	counter := &countingHandler{next: api.NewRouter(api.NewFileHandler(svc, store, log, 1<<20))}

	server := httptest.NewServer(counter)
	t.Cleanup(server.Close)

	return server, layout, counter
}

func writeRandomFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func TestUploadFile(t *testing.T) {
	server, layout, counter := newServer(t)
	c := New(server.URL, logger.Nop())

	path, data := writeRandomFile(t, "video.mp4", 10*1024+17)

	report, err := c.UploadFile(context.Background(), path, 1024, 4)
	require.NoError(t, err)
	assert.Equal(t, 11, report.Pieces)
	assert.Equal(t, 11, report.Uploaded)
	assert.Equal(t, 0, report.Skipped)
	assert.False(t, report.Deduplicated)
	assert.Equal(t, int32(11), atomic.LoadInt32(&counter.pieces))

	merged, err := os.ReadFile(layout.MergedPath(report.FileHash, "video.mp4"))
	require.NoError(t, err)
	assert.Equal(t, data, merged)
	assert.Equal(t, utils.CalculateSHA256(data), report.FileHash)

	// second upload is deduplicated
	report, err = c.UploadFile(context.Background(), path, 1024, 4)
	require.NoError(t, err)
	assert.True(t, report.Deduplicated)
	assert.Equal(t, int32(11), atomic.LoadInt32(&counter.pieces))
}

func TestUploadFile_Resume(t *testing.T) {
	server, layout, counter := newServer(t)
	c := New(server.URL, logger.Nop())
	ctx := context.Background()

	path, data := writeRandomFile(t, "backup.tar", 5*100)
	fileHash := utils.CalculateSHA256(data)

	// an interrupted earlier run delivered pieces 0, 2 and 4
	for _, i := range []int{0, 2, 4} {
		require.NoError(t, c.UploadPiece(ctx, fileHash, storage.PieceName(fileHash, i), data[i*100:(i+1)*100]))
	}

	status, err := c.Verify(ctx, fileHash, "backup.tar")
	require.NoError(t, err)
	assert.True(t, status.ShouldUpload)
	assert.Len(t, status.UploadedList, 3)

	report, err := c.UploadFile(ctx, path, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Pieces)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, int32(5), atomic.LoadInt32(&counter.pieces))

	merged, err := os.ReadFile(layout.MergedPath(fileHash, "backup.tar"))
	require.NoError(t, err)
	assert.Equal(t, data, merged)
}

func TestUploadFile_Empty(t *testing.T) {
	server, layout, _ := newServer(t)
	c := New(server.URL, logger.Nop())

	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	report, err := c.UploadFile(context.Background(), path, 64, 1)
	require.NoError(t, err)

	info, err := os.Stat(layout.MergedPath(report.FileHash, "empty.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestUploadFile_InvalidArgs(t *testing.T) {
	c := New("http://127.0.0.1:1", logger.Nop())

	_, err := c.UploadFile(context.Background(), "whatever", 0, 1)
	assert.Error(t, err)

	_, err = c.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing"), 10, 1)
	assert.Error(t, err)
}

func TestMerge_StatusError(t *testing.T) {
	server, _, _ := newServer(t)
	c := New(server.URL, logger.Nop())
	ctx := context.Background()

	require.NoError(t, c.UploadPiece(ctx, "abcd", "abcd-1", []byte("x")))

	err := c.Merge(ctx, "abcd", "a.bin", 10, 1)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.Contains(t, statusErr.Message, "missing piece with index 0")
}

func TestUploadPiece_PlainTextError(t *testing.T) {
	server, _, _ := newServer(t)
	c := New(server.URL, logger.Nop())

	err := c.UploadPiece(context.Background(), "abcd", "no-index-here", []byte("x"))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Message, "malformed request")
}
