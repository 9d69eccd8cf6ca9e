// Package wallet управляет счетами пользователей.
// Все суммы — в копейках (int64). models.go описывает структуры
// для балансов и истории операций.
package wallet

import "time"

// Balance представляет счёт пользователя.
// Каждый участник имеет ровно одну запись в таблице balances.
type Balance struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`      // Telegram user ID
	Balance     int64     `db:"balance"`      // Текущий баланс, копейки
	TotalEarned int64     `db:"total_earned"` // Всего получено
	TotalSpent  int64     `db:"total_spent"`  // Всего потрачено
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Transaction — одна операция по счёту.
// Каждое движение денег (отправка конверта, доля, возврат) пишется сюда,
// это аудиторский след для сверки с леджером конвертов.
type Transaction struct {
	ID              int64     `db:"id"`
	FromUserID      *int64    `db:"from_user_id"` // nil для системных начислений
	ToUserID        *int64    `db:"to_user_id"`   // nil для системных списаний
	Amount          int64     `db:"amount"`       // Копейки, всегда положительная
	TransactionType string    `db:"transaction_type"`
	Description     string    `db:"description"`
	CreatedAt       time.Time `db:"created_at"`
}

// Типы транзакций.
const (
	TxTypeRedPacketSend   = "redpacket_send"   // Списание при создании конверта
	TxTypeRedPacketClaim  = "redpacket_claim"  // Начисление доли получателю
	TxTypeRedPacketRefund = "redpacket_refund" // Возврат при отзыве/истечении
	TxTypeAdminGive       = "admin_give"       // Выдача админом
)
