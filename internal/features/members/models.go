// Package members управляет реестром пользователей бота.
// models.go описывает структуру участника.
package members

import "time"

// Member — пользователь, которого бот хоть раз видел.
// Заводится при первом сообщении; is_banned выключает для него
// создание и получение красных конвертов.
type Member struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"` // Telegram user ID
	Username  string    `db:"username"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	IsBanned  bool      `db:"is_banned"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UpdateInfo — поля, обновляемые при повторной встрече пользователя.
type UpdateInfo struct {
	Username  string
	FirstName string
	LastName  string
}
