package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Usage сводка по корню загрузок
type Usage struct {
	Sessions    int    `json:"sessions"`    // директорий с чанками
	Pieces      int    `json:"pieces"`      // чанков во всех директориях
	MergedFiles int    `json:"mergedFiles"` // собранных файлов
	TotalSize   int64  `json:"totalSize"`   // байт занято под корнем
	FreeSpace   uint64 `json:"freeSpace"`   // свободно на файловой системе
}

// Usage подсчитывает сессии, чанки и занятое место
func (l *Layout) Usage() (*Usage, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, err
	}

	u := &Usage{}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !e.IsDir() {
			u.MergedFiles++
			continue
		}

		u.Sessions++
		pieces, err := l.ListPieces(e.Name())
		if err != nil {
			return nil, err
		}
		u.Pieces += len(pieces)
	}

	if u.TotalSize, err = dirSize(l.Root); err != nil {
		return nil, err
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(l.Root, &stat); err == nil {
		u.FreeSpace = stat.Bavail * uint64(stat.Bsize)
	}

	return u, nil
}

// dirSize вычисляет общий размер директории
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, sizeWalker(&size))
	return size, err
}

// sizeWalker суммирует размеры файлов. Файлы, исчезнувшие во время обхода
// (переименованные из .tmp, удаленные слиянием), пропускаются.
func sizeWalker(size *int64) filepath.WalkFunc {
	return func(_ string, info os.FileInfo, err error) error {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			*size += info.Size()
		}
		return nil
	}
}
