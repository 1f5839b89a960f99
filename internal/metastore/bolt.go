// internal/metastore/bolt.go
package metastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltStore реализация MetaStore на основе BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore создает новое хранилище сессий на основе BoltDB
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// AddPiece сохраняет информацию о чанке; повторный чанк с тем же индексом заменяет прежний
func (bs *BoltStore) AddPiece(fileHash string, info PieceInfo) error {
	return bs.update(fileHash, true, func(s *Session) error {
		if s.Sealed() {
			return fmt.Errorf("%w: %s", ErrSealed, fileHash)
		}
		if info.ReceivedAt.IsZero() {
			info.ReceivedAt = bs.now()
		}
		s.Pieces[info.Index] = info
		return nil
	})
}

// Seal переводит сессию в состояние sealed
func (bs *BoltStore) Seal(fileHash string) error {
	return bs.update(fileHash, true, func(s *Session) error {
		if s.Sealed() {
			return fmt.Errorf("%w: %s", ErrSealed, fileHash)
		}
		s.State = StateSealed
		return nil
	})
}

// Unseal возвращает сессию в состояние open
func (bs *BoltStore) Unseal(fileHash string) error {
	return bs.update(fileHash, false, func(s *Session) error {
		if s.State == StateSealed {
			s.State = StateOpen
		}
		return nil
	})
}

// UnsealAll переводит все sealed сессии в open; merged не трогает.
// Вызывается при старте, пока слияний еще нет.
func (bs *BoltStore) UnsealAll() (int, error) {
	count := 0

	err := bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)

		// Put внутри ForEach запрещен, поэтому сначала собираем
		updates := make(map[string][]byte)
		err := b.ForEach(func(k, v []byte) error {
			var s Session
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decode session %s: %w", k, err)
			}
			if s.State != StateSealed {
				return nil
			}
			s.State = StateOpen
			s.UpdatedAt = bs.now()
			encoded, err := json.Marshal(s)
			if err != nil {
				return err
			}
			updates[string(k)] = encoded
			return nil
		})
		if err != nil {
			return err
		}

		for k, v := range updates {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		count = len(updates)
		return nil
	})

	return count, err
}

// MarkMerged помечает файл как собранный и забывает чанки
func (bs *BoltStore) MarkMerged(fileHash, mergedName string) error {
	return bs.update(fileHash, true, func(s *Session) error {
		s.State = StateMerged
		s.MergedName = mergedName
		s.Pieces = make(map[int]PieceInfo)
		return nil
	})
}

// GetSession возвращает метаданные о сессии
func (bs *BoltStore) GetSession(fileHash string) (*Session, error) {
	var s Session

	err := bs.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(fileHash))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, fileHash)
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return nil, err
	}

	if s.Pieces == nil {
		s.Pieces = make(map[int]PieceInfo)
	}

	return &s, nil
}

// DeleteSession удаляет сессию; отсутствие сессии не ошибка
func (bs *BoltStore) DeleteSession(fileHash string) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(fileHash))
	})
}

// Close закрывает хранилище
func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

// update читает сессию, применяет fn и записывает результат в одной транзакции.
// create=false: отсутствующая сессия дает ErrNotFound.
func (bs *BoltStore) update(fileHash string, create bool, fn func(*Session) error) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)

		var s Session
		data := b.Get([]byte(fileHash))
		switch {
		case data != nil:
			if err := json.Unmarshal(data, &s); err != nil {
				return err
			}
		case create:
			s = Session{
				FileHash:  fileHash,
				State:     StateOpen,
				CreatedAt: bs.now(),
			}
		default:
			return fmt.Errorf("%w: %s", ErrNotFound, fileHash)
		}

		if s.Pieces == nil {
			s.Pieces = make(map[int]PieceInfo)
		}

		if err := fn(&s); err != nil {
			return err
		}
		s.UpdatedAt = bs.now()

		encoded, err := json.Marshal(s)
		if err != nil {
			return err
		}

		return b.Put([]byte(fileHash), encoded)
	})
}
