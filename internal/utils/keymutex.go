package utils

import "sync"

// KeyedRWMutex набор RWMutex по строковому ключу.
// Запись удаляется, когда ее больше никто не держит.
type KeyedRWMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

// NewKeyedRWMutex создает пустой набор блокировок
func NewKeyedRWMutex() *KeyedRWMutex {
	return &KeyedRWMutex{locks: make(map[string]*refLock)}
}

// Lock берет эксклюзивную блокировку ключа и возвращает функцию освобождения
func (k *KeyedRWMutex) Lock(key string) func() {
	l := k.acquire(key)
	l.Lock()
	return func() {
		l.Unlock()
		k.release(key)
	}
}

// RLock берет разделяемую блокировку ключа и возвращает функцию освобождения
func (k *KeyedRWMutex) RLock(key string) func() {
	l := k.acquire(key)
	l.RLock()
	return func() {
		l.RUnlock()
		k.release(key)
	}
}

// Len количество ключей, которые сейчас кто-то держит или ждет
func (k *KeyedRWMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (k *KeyedRWMutex) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedRWMutex) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
