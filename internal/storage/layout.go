// internal/storage/layout.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// tmpDirName директория для временных файлов внутри корня
const tmpDirName = ".tmp"

var (
	ErrInvalidComponent = errors.New("invalid path component")
	ErrInvalidPieceName = errors.New("invalid piece name")
)

// Layout описывает раскладку файлов под корнем загрузок:
//
//	root/<fileHash>/<pieceHash>-<index>   чанки незавершенной загрузки
//	root/<fileHash><ext>                  собранный файл
//	root/.tmp/<uuid>                      временные файлы
type Layout struct {
	Root string
}

// NewLayout создает корень и временную директорию, если их нет
func NewLayout(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(abs, tmpDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload root: %w", err)
	}

	return &Layout{Root: abs}, nil
}

// Path путь к имени непосредственно под корнем
func (l *Layout) Path(name string) string {
	return filepath.Join(l.Root, name)
}

// StagingDir путь к директории чанков файла
func (l *Layout) StagingDir(fileHash string) string {
	return filepath.Join(l.Root, fileHash)
}

// PiecePath путь к чанку внутри директории файла
func (l *Layout) PiecePath(fileHash, name string) string {
	return filepath.Join(l.Root, fileHash, name)
}

// MergedPath путь к собранному файлу: root/fileHash.ext
func (l *Layout) MergedPath(fileHash, filename string) string {
	return filepath.Join(l.Root, MergedName(fileHash, filename))
}

// TempPath новый уникальный путь во временной директории.
// Лежит на той же файловой системе, что и чанки, поэтому os.Rename атомарен.
func (l *Layout) TempPath() string {
	return filepath.Join(l.Root, tmpDirName, uuid.NewString())
}

// EnsureStagingDir создает директорию чанков; параллельные вызовы не мешают друг другу
func (l *Layout) EnsureStagingDir(fileHash string) error {
	return os.MkdirAll(l.StagingDir(fileHash), 0755)
}

// ListPieces возвращает имена файлов в директории чанков.
// Если директории нет, возвращается пустой список.
func (l *Layout) ListPieces(fileHash string) ([]string, error) {
	entries, err := os.ReadDir(l.StagingDir(fileHash))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

// IsRegularFile проверяет, что по пути лежит обычный файл (не директория)
func IsRegularFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Exists проверяет существование пути
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// MergedName имя собранного файла: fileHash + расширение исходного имени.
// Без расширения имя оканчивается точкой, чтобы не совпасть с директорией чанков root/fileHash.
func MergedName(fileHash, filename string) string {
	ext := ExtractExt(filename)
	if ext == "" {
		ext = "."
	}
	return fileHash + ext
}

// ExtractExt расширение имени файла с точкой, "" если расширения нет
func ExtractExt(filename string) string {
	return filepath.Ext(filepath.Base(filename))
}

// PieceName имя файла чанка: hash-index
func PieceName(hash string, index int) string {
	return hash + "-" + strconv.Itoa(index)
}

// ParsePieceName разбирает имя hash-index по последнему дефису
func ParsePieceName(name string) (string, int, error) {
	i := strings.LastIndexByte(name, '-')
	if i <= 0 || i == len(name)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPieceName, name)
	}

	index, err := strconv.Atoi(name[i+1:])
	if err != nil || index < 0 || strings.HasPrefix(name[i+1:], "+") {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPieceName, name)
	}

	return name[:i], index, nil
}

// ValidFileHash проверяет fileHash: одно имя без точек.
// Точка зарезервирована за собранными файлами root/fileHash.ext.
func ValidFileHash(fileHash string) error {
	if err := ValidComponent(fileHash); err != nil {
		return err
	}
	if strings.ContainsRune(fileHash, '.') {
		return fmt.Errorf("%w: %q contains a dot", ErrInvalidComponent, fileHash)
	}
	return nil
}

// ValidComponent проверяет, что s можно использовать как одно имя внутри корня
func ValidComponent(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidComponent)
	case strings.HasPrefix(s, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidComponent, s)
	case strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidComponent, s)
	case len(s) > 255:
		return fmt.Errorf("%w: too long", ErrInvalidComponent)
	}
	return nil
}
