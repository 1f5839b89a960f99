package upload

import (
	"context"

	"github.com/Gammanik/resumable-upload/internal/storage"
)

// Status ответ на проверку загрузки
type Status struct {
	// ShouldUpload false, если собранный файл уже существует
	ShouldUpload bool
	// UploadedList имена уже принятых чанков; пустой, а не nil
	UploadedList []string
}

// StatusChecker сообщает, нужно ли загружать файл и какие чанки уже есть
type StatusChecker struct {
	layout *storage.Layout
}

// Verify проверяет наличие root/fileHash.ext, иначе перечисляет root/fileHash/
func (c *StatusChecker) Verify(_ context.Context, fileHash, filename string) (*Status, error) {
	if err := storage.ValidFileHash(fileHash); err != nil {
		return nil, malformed("fileHash: %v", err)
	}

	exists, err := storage.IsRegularFile(c.layout.MergedPath(fileHash, filename))
	if err != nil {
		return nil, fsFailure("stat merged file", err)
	}
	if exists {
		return &Status{ShouldUpload: false}, nil
	}

	list, err := c.layout.ListPieces(fileHash)
	if err != nil {
		return nil, fsFailure("list staging dir", err)
	}

	return &Status{ShouldUpload: true, UploadedList: list}, nil
}
