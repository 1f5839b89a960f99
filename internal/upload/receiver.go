package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Gammanik/resumable-upload/internal/metastore"
	"github.com/Gammanik/resumable-upload/internal/storage"
	"github.com/Gammanik/resumable-upload/internal/utils"
	"go.uber.org/zap"
)

// PieceUpload один входящий чанк
type PieceUpload struct {
	FileHash string
	// Hash идентификатор чанка; если Index не задан, должен оканчиваться на -index
	Hash  string
	Index *int
	Body  io.Reader
}

// Receiver сохраняет чанки в директорию root/fileHash/
type Receiver struct {
	layout       *storage.Layout
	store        metastore.MetaStore
	locks        *utils.KeyedRWMutex
	log          *zap.SugaredLogger
	maxChunkSize int64
}

// Receive записывает чанк в root/fileHash/hash-index, заменяя прежний с тем же именем
func (r *Receiver) Receive(ctx context.Context, p PieceUpload) (*metastore.PieceInfo, error) {
	if err := storage.ValidFileHash(p.FileHash); err != nil {
		return nil, malformed("fileHash: %v", err)
	}

	name, index, err := resolvePieceName(p.Hash, p.Index)
	if err != nil {
		return nil, err
	}
	if err := storage.ValidComponent(name); err != nil {
		return nil, malformed("hash: %v", err)
	}
	if p.Body == nil {
		return nil, malformed("chunk is required")
	}

	unlock := r.locks.RLock(p.FileHash)
	defer unlock()

	if sealed, err := r.sealed(p.FileHash); err != nil {
		return nil, err
	} else if sealed {
		return nil, ErrSessionSealed
	}

	if err := r.layout.EnsureStagingDir(p.FileHash); err != nil {
		return nil, fsFailure("create staging dir", err)
	}

	size, err := r.persist(ctx, r.layout.PiecePath(p.FileHash, name), p.Body)
	if err != nil {
		return nil, err
	}

	hash, _, _ := storage.ParsePieceName(name)
	info := metastore.PieceInfo{
		Name:  name,
		Hash:  hash,
		Index: index,
		Size:  size,
	}

	if err := r.store.AddPiece(p.FileHash, info); err != nil {
		if errors.Is(err, metastore.ErrSealed) {
			return nil, ErrSessionSealed
		}
		return nil, err
	}

	r.log.Debugw("receive", "fileHash", p.FileHash, "piece", name, "size", size)

	return &info, nil
}

// persist пишет тело во временный файл и переименовывает его в dst
func (r *Receiver) persist(ctx context.Context, dst string, body io.Reader) (int64, error) {
	tmpPath := r.layout.TempPath()
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, fsFailure("create temp file", err)
	}
	defer os.Remove(tmpPath)

	src := body
	if r.maxChunkSize > 0 {
		src = io.LimitReader(body, r.maxChunkSize+1)
	}

	n, err := io.Copy(file, src)
	if err == nil {
		// Чанк должен пережить сбой питания до того, как попадет в реестр
		if err = file.Sync(); err != nil {
			file.Close()
			return 0, fsFailure("sync chunk", err)
		}
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fsFailure("write chunk", err)
	}

	if r.maxChunkSize > 0 && n > r.maxChunkSize {
		return 0, malformed("chunk exceeds %d bytes", r.maxChunkSize)
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fsFailure("move chunk", err)
	}

	return n, nil
}

func (r *Receiver) sealed(fileHash string) (bool, error) {
	s, err := r.store.GetSession(fileHash)
	if errors.Is(err, metastore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Собранный файл удалили: сессию можно начать заново
	if s.State == metastore.StateMerged && s.MergedName != "" {
		exists, err := storage.IsRegularFile(r.layout.Path(s.MergedName))
		if err != nil {
			return false, fsFailure("stat merged file", err)
		}
		if !exists {
			r.log.Infow("receive", "fileHash", fileHash, "status", "merged file is gone, reopening session")
			return false, r.store.DeleteSession(fileHash)
		}
	}

	return s.Sealed(), nil
}

// resolvePieceName возвращает имя файла чанка и его индекс
func resolvePieceName(hash string, index *int) (string, int, error) {
	if hash == "" {
		return "", 0, malformed("hash is required")
	}

	if index != nil {
		if *index < 0 {
			return "", 0, malformed("index must be non-negative, got %d", *index)
		}
		name := storage.PieceName(hash, *index)
		if strings.HasSuffix(hash, "-"+strconv.Itoa(*index)) {
			name = hash
		}
		if _, _, err := storage.ParsePieceName(name); err != nil {
			return "", 0, malformed("hash: %v", err)
		}
		return name, *index, nil
	}

	_, idx, err := storage.ParsePieceName(hash)
	if err != nil {
		return "", 0, malformed("hash must end with -<index>: %v", err)
	}

	return hash, idx, nil
}
