// Package upload принимает чанки, сообщает о состоянии загрузки и собирает файл.
//
// Все состояние лежит под корнем загрузок (см. storage.Layout); реестр сессий
// хранит структурированные идентификаторы чанков и печать слияния.
package upload

import (
	"fmt"

	"github.com/Gammanik/resumable-upload/internal/metastore"
	"github.com/Gammanik/resumable-upload/internal/storage"
	"github.com/Gammanik/resumable-upload/internal/utils"
	"go.uber.org/zap"
)

// Options параметры сервиса
type Options struct {
	// MaxChunkSize максимальный размер одного чанка в байтах
	MaxChunkSize int64
	// MergeConcurrency количество параллельных записей при слиянии
	MergeConcurrency int
}

// Service объединяет три компонента, работающих над общей раскладкой
type Service struct {
	Layout   *storage.Layout
	Receiver *Receiver
	Checker  *StatusChecker
	Merger   *Merger

	store metastore.MetaStore
	log   *zap.SugaredLogger
}

// New создает компоненты с общими блокировками по fileHash
func New(layout *storage.Layout, store metastore.MetaStore, log *zap.SugaredLogger, opts Options) *Service {
	if opts.MergeConcurrency <= 0 {
		opts.MergeConcurrency = 1
	}

	locks := utils.NewKeyedRWMutex()

	return &Service{
		Layout: layout,
		store:  store,
		log:    log,
		Receiver: &Receiver{
			layout:       layout,
			store:        store,
			locks:        locks,
			log:          log,
			maxChunkSize: opts.MaxChunkSize,
		},
		Checker: &StatusChecker{
			layout: layout,
		},
		Merger: &Merger{
			layout:       layout,
			store:        store,
			locks:        locks,
			log:          log,
			concurrency:  opts.MergeConcurrency,
			maxChunkSize: opts.MaxChunkSize,
		},
	}
}

// RecoverSessions снимает печати слияний, прерванных остановкой процесса.
// Вызывать до начала приема запросов: чанки остаются на диске, загрузку можно продолжить.
func (s *Service) RecoverSessions() error {
	n, err := s.store.UnsealAll()
	if err != nil {
		return fmt.Errorf("failed to recover sessions: %w", err)
	}
	if n > 0 {
		s.log.Infow("recover", "unsealed", n)
	}
	return nil
}
