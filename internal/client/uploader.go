package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Gammanik/resumable-upload/internal/storage"
	"github.com/Gammanik/resumable-upload/internal/utils"
	"github.com/docker/go-units"
)

// UploadReport итог загрузки файла
type UploadReport struct {
	FileHash     string
	Pieces       int
	Uploaded     int
	Skipped      int
	Deduplicated bool
}

type pieceResult struct {
	Index int
	Err   error
}

// UploadFile загружает файл: проверка, докачка недостающих чанков, слияние
func (c *Client) UploadFile(ctx context.Context, path string, chunkSize int64, concurrency int) (*UploadReport, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	fileHash, size, err := utils.HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash file: %w", err)
	}
	filename := filepath.Base(path)

	report := &UploadReport{FileHash: fileHash}

	status, err := c.Verify(ctx, fileHash, filename)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if !status.ShouldUpload {
		c.log.Infow("upload", "file", filename, "fileHash", fileHash, "status", "already on server")
		report.Deduplicated = true
		return report, nil
	}

	uploaded := make(map[string]bool, len(status.UploadedList))
	for _, name := range status.UploadedList {
		uploaded[name] = true
	}

	var missing []utils.Piece
	plan := utils.PlanPieces(size, chunkSize)
	for _, p := range plan {
		if uploaded[storage.PieceName(fileHash, p.Index)] {
			report.Skipped++
			continue
		}
		missing = append(missing, p)
	}
	report.Pieces = len(plan)

	c.log.Infow("upload", "file", filename, "fileHash", fileHash,
		"size", units.HumanSize(float64(size)), "pieces", len(plan), "missing", len(missing))

	if err := c.uploadPieces(ctx, path, fileHash, missing, concurrency); err != nil {
		return nil, err
	}
	report.Uploaded = len(missing)

	if err := c.Merge(ctx, fileHash, filename, chunkSize, size); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	return report, nil
}

// uploadPieces отправляет чанки параллельно, не более concurrency одновременно
func (c *Client) uploadPieces(ctx context.Context, path, fileHash string, pieces []utils.Piece, concurrency int) error {
	if len(pieces) == 0 {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultChan := make(chan pieceResult, len(pieces))
	semaphore := make(chan struct{}, concurrency)

	for _, p := range pieces {
		go func(p utils.Piece) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				resultChan <- pieceResult{Index: p.Index, Err: err}
				return
			}

			data := make([]byte, p.Size)
			if _, err := f.ReadAt(data, p.Offset); err != nil && err != io.EOF {
				resultChan <- pieceResult{Index: p.Index, Err: err}
				return
			}

			err := c.UploadPiece(ctx, fileHash, storage.PieceName(fileHash, p.Index), data)
			resultChan <- pieceResult{Index: p.Index, Err: err}
		}(p)
	}

	var firstErr error
	for range pieces {
		result := <-resultChan
		if result.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("piece %d: %w", result.Index, result.Err)
			cancel()
		}
	}

	return firstErr
}
