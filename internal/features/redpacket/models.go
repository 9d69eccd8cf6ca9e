// Package redpacket — красные конверты: фиксированная сумма, разбитая
// на N долей, которые участники чата разбирают наперегонки.
// models.go описывает конверт и запись о выдаче доли.
package redpacket

import "time"

// Policy — политика деления суммы между долями.
type Policy string

const (
	// PolicyRandom — «на удачу»: доли случайные, последняя забирает остаток
	PolicyRandom Policy = "random"
	// PolicyEven — поровну
	PolicyEven Policy = "even"
)

// Status — состояние конверта. Переходы только в одну сторону:
// active → completed | expired | revoked, из терминальных выхода нет.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// ChatKind — тип чата-источника. Конверт можно открыть только в том чате,
// где он создан.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
)

// RedPacket — один конверт.
// Инварианты: 0 ≤ RemainAmount ≤ TotalAmount, 0 ≤ RemainCount ≤ TotalCount,
// RemainCount == 0 влечёт терминальный статус. Конверты не удаляются,
// только переводятся в терминальный статус.
type RedPacket struct {
	ID       int64  `db:"id"`
	PacketID string `db:"packet_id"` // Внешний опознаватель конверта
	SenderID int64  `db:"sender_id"` // 0 — системный конверт

	ChatID   int64    `db:"chat_id"`
	ChatKind ChatKind `db:"chat_kind"`

	Policy Policy `db:"policy"`
	Title  string `db:"title"`

	TotalAmount  int64 `db:"total_amount"` // Копейки, неизменно после создания
	TotalCount   int   `db:"total_count"`
	RemainAmount int64 `db:"remain_amount"` // Монотонно не растёт
	RemainCount  int   `db:"remain_count"`

	Status Status `db:"status"`

	// Лучшая доля на текущий момент (для random-конвертов)
	BestUserID int64 `db:"best_user_id"`
	BestAmount int64 `db:"best_amount"`

	// Сколько вернулось отправителю при отзыве/истечении
	RefundAmount int64 `db:"refund_amount"`

	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Claimed возвращает число уже разобранных долей.
func (p *RedPacket) Claimed() int {
	return p.TotalCount - p.RemainCount
}

// ExpiredAt сообщает, истёк ли конверт к моменту now.
func (p *RedPacket) ExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// ClaimRecord — одна успешная выдача доли.
// Пара (PacketID, UserID) уникальна: не больше одной доли на пользователя.
type ClaimRecord struct {
	ID       int64  `db:"id"`
	PacketID string `db:"packet_id"`
	UserID   int64  `db:"user_id"`
	// Копейки; после записи не меняется
	Amount int64 `db:"amount"`
	// Порядковый номер выдачи, с единицы, без дыр
	ClaimOrder int `db:"claim_order"`
	// Была ли доля максимальной среди выданных на момент записи
	IsBest    bool      `db:"is_best"`
	ClaimedAt time.Time `db:"claimed_at"`
}

// ClaimResult — результат открытия конверта, отдаётся слою чата.
type ClaimResult struct {
	Amount     int64
	ClaimOrder int
	IsBest     bool
	Completed  bool // Эта выдача закрыла конверт
}

// Summary — сводка конверта для показа в чате.
type Summary struct {
	Packet *RedPacket
	Claims []*ClaimRecord
}
