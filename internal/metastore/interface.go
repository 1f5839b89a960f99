package metastore

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound сессия не найдена
	ErrNotFound = errors.New("session not found")
	// ErrSealed сессия запечатана слиянием и больше не принимает чанки
	ErrSealed = errors.New("session is sealed")
)

// State состояние сессии загрузки
type State string

const (
	StateOpen   State = "open"   // принимает чанки
	StateSealed State = "sealed" // идет слияние
	StateMerged State = "merged" // файл собран
)

// PieceInfo содержит информацию о принятом чанке
type PieceInfo struct {
	Name       string    // имя файла чанка (hash-index)
	Hash       string    // хеш чанка, присланный клиентом
	Index      int       // порядковый номер чанка
	Size       int64     // размер в байтах
	ReceivedAt time.Time // время приема
}

// Session содержит метаданные о загрузке одного файла
type Session struct {
	FileHash   string            // хеш содержимого всего файла
	State      State             // состояние сессии
	Pieces     map[int]PieceInfo // чанки по индексу
	MergedName string            // имя собранного файла (после слияния)
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SortedPieces возвращает чанки по возрастанию индекса
func (s *Session) SortedPieces() []PieceInfo {
	pieces := make([]PieceInfo, 0, len(s.Pieces))
	for _, p := range s.Pieces {
		pieces = append(pieces, p)
	}
	sort.Slice(pieces, func(i, j int) bool { return pieces[i].Index < pieces[j].Index })
	return pieces
}

// Sealed сессия больше не принимает чанки
func (s *Session) Sealed() bool {
	return s.State == StateSealed || s.State == StateMerged
}

// MetaStore интерфейс реестра сессий загрузки
type MetaStore interface {
	// AddPiece сохраняет чанк, создавая сессию при необходимости
	AddPiece(fileHash string, info PieceInfo) error

	// Seal запечатывает сессию перед слиянием
	Seal(fileHash string) error

	// Unseal снимает печать, если слияние не удалось
	Unseal(fileHash string) error

	// UnsealAll снимает печати, оставшиеся после остановки процесса посреди слияния
	UnsealAll() (int, error)

	// MarkMerged помечает файл как собранный
	MarkMerged(fileHash, mergedName string) error

	// GetSession возвращает метаданные сессии
	GetSession(fileHash string) (*Session, error)

	// DeleteSession удаляет сессию
	DeleteSession(fileHash string) error

	// Close закрывает хранилище
	Close() error
}
