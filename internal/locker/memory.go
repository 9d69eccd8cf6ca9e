package locker

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker — in-memory реализация Locker для одного инстанса и тестов.
// Мьютекс + карта «ключ → срок истечения», фоновая горутина подчищает
// истёкшие ключи, чтобы карта не росла бесконечно.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryLocker создаёт блокировщик и запускает фоновую очистку.
func NewMemoryLocker() *MemoryLocker {
	l := &MemoryLocker{
		locks:  make(map[string]time.Time),
		stopCh: make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Close останавливает фоновую горутину очистки.
// Его надо вызывать на shutdown (иначе cleanup будет жить вечно).
func (l *MemoryLocker) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if deadline, ok := l.locks[key]; ok && now.Before(deadline) {
		return false, nil
	}
	l.locks[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}

func (l *MemoryLocker) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, deadline := range l.locks {
				if now.After(deadline) {
					delete(l.locks, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
