// Package locker — распределённая взаимная блокировка с TTL.
//
// Контракт один: атомарный «поставь ключ, если его нет» с временем жизни.
// На нём держатся три защиты движка конвертов:
//   - блокировка (конверт, пользователь) на время выдачи доли;
//   - токен частоты «не чаще одной попытки в N секунд»;
//   - отпечаток против двойной отправки одинаковой заявки на создание.
//
// Процесс, упавший с захваченной блокировкой, ничего не ломает:
// ключ истечёт по TTL сам, ручной разблокировки для живучести не нужно.
package locker

import (
	"context"
	"time"
)

// Locker — атомарный set-if-absent с TTL.
type Locker interface {
	// TryAcquire пытается захватить ключ. Возвращает false, если ключ
	// уже занят. Не блокируется и не ждёт.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release снимает ключ. Снятие чужого или истёкшего ключа — no-op.
	Release(ctx context.Context, key string) error
}
