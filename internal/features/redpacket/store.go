// store.go определяет интерфейс хранилища конвертов.
//
// Хранилище отвечает за атомарность: каждая многошаговая мутация
// (создание со списанием, выдача доли с начислением, отзыв/истечение
// с возвратом) — одна транзакция. Никто, кроме этих методов, счётчики
// конверта и леджер выдач не пишет.
//
// Реализации: Repository (PostgreSQL, продакшен) и MemoryStore
// (один процесс, тесты и разработка).
package redpacket

import (
	"context"
	"time"
)

// AllocateFunc вычисляет долю по остатку. Вызывается хранилищем внутри
// транзакции, когда строка конверта уже под блокировкой, — поэтому
// порядковые номера выдач строго растут и не имеют дыр.
type AllocateFunc func(remainAmount int64, remainCount int) (int64, error)

// Store — персистентность конвертов, леджера выдач и денежных эффектов.
type Store interface {
	// CreatePacket атомарно списывает номинал со счёта отправителя
	// и создаёт активный конверт. SenderID == 0 — системный конверт,
	// списания нет. Возвращает common.ErrInsufficientBalance.
	CreatePacket(ctx context.Context, p *RedPacket) error

	// GetPacket возвращает конверт или common.ErrPacketNotFound.
	GetPacket(ctx context.Context, packetID string) (*RedPacket, error)

	// HasClaim проверяет, есть ли у пользователя выдача из конверта.
	HasClaim(ctx context.Context, packetID string, userID int64) (bool, error)

	// Claim атомарно: перечитывает конверт под блокировкой, считает долю
	// через alloc, пишет запись леджера, уменьшает остатки, при нулевом
	// остатке переводит конверт в completed и начисляет долю получателю.
	// Ошибки: common.ErrPacketNotFound, ErrPacketEnded, ErrPacketEmpty,
	// ErrAlreadyClaimed.
	Claim(ctx context.Context, packetID string, userID int64, alloc AllocateFunc) (*ClaimRecord, bool, error)

	// Revoke переводит конверт в revoked и возвращает номинал отправителю.
	// Разрешён только пока не разобрана ни одна доля
	// (common.ErrRevokeAfterClaims), и только из active (ErrPacketEnded).
	// Возвращает сумму возврата.
	Revoke(ctx context.Context, packetID string) (int64, error)

	// Expire переводит конверт в expired и возвращает остаток отправителю.
	// Только из active (common.ErrPacketEnded). Возвращает сумму возврата.
	Expire(ctx context.Context, packetID string) (int64, error)

	// ListClaims возвращает выдачи конверта в порядке выдачи.
	ListClaims(ctx context.Context, packetID string) ([]*ClaimRecord, error)

	// ListExpiredIDs возвращает активные конверты с истёкшим сроком.
	ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)

	// SenderStatsSince возвращает число и сумму конвертов отправителя
	// начиная с момента since (для дневных лимитов).
	SenderStatsSince(ctx context.Context, senderID int64, since time.Time) (int, int64, error)

	// StatsSince возвращает число конвертов и выдач с момента since
	// (для суточной сводки в логах).
	StatsSince(ctx context.Context, since time.Time) (packets int, claims int, err error)
}
