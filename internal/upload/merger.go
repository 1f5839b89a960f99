package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Gammanik/resumable-upload/internal/metastore"
	"github.com/Gammanik/resumable-upload/internal/storage"
	"github.com/Gammanik/resumable-upload/internal/utils"
	"github.com/docker/go-units"
	"go.uber.org/zap"
)

// MergeRequest параметры слияния
type MergeRequest struct {
	FileHash string
	Filename string
	// ChunkSize размер чанка, которым клиент резал файл; смещение чанка = index * ChunkSize
	ChunkSize int64
	// FileSize ожидаемый размер файла, nil если клиент его не передал
	FileSize *int64
}

// MergeResult результат слияния
type MergeResult struct {
	Path          string
	MergedName    string
	Size          int64
	Pieces        int
	AlreadyMerged bool
}

// Merger собирает чанки в итоговый файл
type Merger struct {
	layout       *storage.Layout
	store        metastore.MetaStore
	locks        *utils.KeyedRWMutex
	log          *zap.SugaredLogger
	concurrency  int
	maxChunkSize int64
}

type stagedPiece struct {
	Name  string
	Path  string
	Index int
	Size  int64
}

// Merge записывает каждый чанк по смещению index*ChunkSize, затем удаляет чанки.
// Если слияние не удалось, чанки и директория остаются для повтора.
func (m *Merger) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if err := storage.ValidFileHash(req.FileHash); err != nil {
		return nil, malformed("fileHash: %v", err)
	}
	if req.ChunkSize <= 0 {
		return nil, malformed("size must be positive, got %d", req.ChunkSize)
	}
	if m.maxChunkSize > 0 && req.ChunkSize > m.maxChunkSize {
		return nil, malformed("size %d exceeds max chunk size %d", req.ChunkSize, m.maxChunkSize)
	}
	if req.FileSize != nil && *req.FileSize < 0 {
		return nil, malformed("fileSize must be non-negative, got %d", *req.FileSize)
	}

	unlock := m.locks.Lock(req.FileHash)
	defer unlock()

	mergedName := storage.MergedName(req.FileHash, req.Filename)
	dest := m.layout.MergedPath(req.FileHash, req.Filename)
	stagingDir := m.layout.StagingDir(req.FileHash)

	stagingExists, err := storage.Exists(stagingDir)
	if err != nil {
		return nil, fsFailure("stat staging dir", err)
	}
	destExists, err := storage.IsRegularFile(dest)
	if err != nil {
		return nil, fsFailure("stat merged file", err)
	}

	if !stagingExists {
		if destExists {
			info, err := os.Stat(dest)
			if err != nil {
				return nil, fsFailure("stat merged file", err)
			}
			if err := m.store.MarkMerged(req.FileHash, mergedName); err != nil {
				m.log.Warnw("merge", "fileHash", req.FileHash, "error", fmt.Sprintf("mark merged: %v", err))
			}
			return &MergeResult{Path: dest, MergedName: mergedName, Size: info.Size(), AlreadyMerged: true}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.FileHash)
	}

	// Под эксклюзивной блокировкой чужого слияния нет, значит печать осталась от прерванного
	if err := m.store.Seal(req.FileHash); err != nil && !errors.Is(err, metastore.ErrSealed) {
		return nil, err
	}

	merged := false
	defer func() {
		if merged {
			return
		}
		if err := m.store.Unseal(req.FileHash); err != nil {
			m.log.Warnw("merge", "fileHash", req.FileHash, "error", fmt.Sprintf("unseal: %v", err))
		}
	}()

	pieces, err := m.stagedPieces(req)
	if err != nil {
		return nil, err
	}

	total, err := m.scatter(ctx, dest, req.ChunkSize, pieces)
	if err != nil {
		return nil, err
	}
	merged = true

	m.cleanup(req.FileHash, pieces)

	if err := m.store.MarkMerged(req.FileHash, mergedName); err != nil {
		m.log.Errorw("merge", "fileHash", req.FileHash, "error", fmt.Sprintf("mark merged: %v", err))
	}

	m.log.Infow("merge", "fileHash", req.FileHash, "file", mergedName,
		"pieces", len(pieces), "size", units.HumanSize(float64(total)))

	return &MergeResult{Path: dest, MergedName: mergedName, Size: total, Pieces: len(pieces)}, nil
}

// stagedPieces перечисляет чанки и проверяет, что они образуют целый файл
func (m *Merger) stagedPieces(req MergeRequest) ([]stagedPiece, error) {
	names, err := m.layout.ListPieces(req.FileHash)
	if err != nil {
		return nil, fsFailure("list staging dir", err)
	}

	pieces := make([]stagedPiece, 0, len(names))
	for _, name := range names {
		_, index, err := storage.ParsePieceName(name)
		if err != nil {
			return nil, inconsistent("unexpected file in staging dir: %v", err)
		}

		path := m.layout.PiecePath(req.FileHash, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fsFailure("stat chunk", err)
		}

		pieces = append(pieces, stagedPiece{Name: name, Path: path, Index: index, Size: info.Size()})
	}

	sort.SliceStable(pieces, func(i, j int) bool { return pieces[i].Index < pieces[j].Index })

	if err := checkComplete(pieces, req.ChunkSize, req.FileSize); err != nil {
		return nil, err
	}

	return pieces, nil
}

// checkComplete проверяет непрерывность индексов 0..n-1 и размеры чанков
func checkComplete(pieces []stagedPiece, chunkSize int64, fileSize *int64) error {
	if len(pieces) == 0 {
		return inconsistent("no pieces staged")
	}

	var total int64
	last := len(pieces) - 1
	for i, p := range pieces {
		if p.Index != i {
			if p.Index < i {
				return inconsistent("duplicate index %d (%s)", p.Index, p.Name)
			}
			return inconsistent("missing piece with index %d", i)
		}

		switch {
		case i < last && p.Size != chunkSize:
			return inconsistent("piece %s has %d bytes, expected %d", p.Name, p.Size, chunkSize)
		case i == last && p.Size > chunkSize:
			return inconsistent("last piece %s has %d bytes, more than chunk size %d", p.Name, p.Size, chunkSize)
		case i == last && last > 0 && p.Size == 0:
			return inconsistent("last piece %s is empty", p.Name)
		}

		total += p.Size
	}

	if fileSize != nil && total != *fileSize {
		return inconsistent("pieces hold %d bytes, expected file size %d", total, *fileSize)
	}

	return nil
}

// scatter пишет чанки во временный файл параллельно, каждый в свой диапазон,
// затем переименовывает его в dest
func (m *Merger) scatter(ctx context.Context, dest string, chunkSize int64, pieces []stagedPiece) (int64, error) {
	var total int64
	for _, p := range pieces {
		total += p.Size
	}

	tmpPath := m.layout.TempPath()
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fsFailure("create destination", err)
	}

	committed := false
	defer func() {
		if !committed {
			file.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := file.Truncate(total); err != nil {
		return 0, fsFailure("allocate destination", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultChan := make(chan error, len(pieces))
	semaphore := make(chan struct{}, m.concurrency)

	for _, p := range pieces {
		go func(p stagedPiece) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				resultChan <- err
				return
			}
			resultChan <- writePieceAt(file, p, int64(p.Index)*chunkSize)
		}(p)
	}

	var firstErr error
	for range pieces {
		if err := <-resultChan; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	if firstErr != nil {
		return 0, firstErr
	}

	if err := file.Sync(); err != nil {
		return 0, fsFailure("sync destination", err)
	}
	if err := file.Close(); err != nil {
		committed = true
		os.Remove(tmpPath)
		return 0, fsFailure("close destination", err)
	}
	committed = true

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return 0, fsFailure("move destination", err)
	}

	return total, nil
}

// writePieceAt копирует чанк в dst начиная с offset
func writePieceAt(dst io.WriterAt, p stagedPiece, offset int64) error {
	src, err := os.Open(p.Path)
	if err != nil {
		return fsFailure("open chunk", err)
	}
	defer src.Close()

	n, err := io.Copy(io.NewOffsetWriter(dst, offset), src)
	if err != nil {
		return fsFailure("write chunk "+p.Name, err)
	}
	if n != p.Size {
		return inconsistent("piece %s changed during merge: wrote %d of %d bytes", p.Name, n, p.Size)
	}

	return nil
}

// cleanup удаляет чанки и директорию; ошибки только логируются
func (m *Merger) cleanup(fileHash string, pieces []stagedPiece) {
	for _, p := range pieces {
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Warnw("merge", "fileHash", fileHash, "piece", p.Name, "error", fmt.Sprintf("remove chunk: %v", err))
		}
	}

	if err := os.Remove(m.layout.StagingDir(fileHash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warnw("merge", "fileHash", fileHash, "error", fmt.Sprintf("remove staging dir: %v", err))
	}
}
