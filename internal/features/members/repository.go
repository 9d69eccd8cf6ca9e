// Package members — repository.go выполняет операции с таблицей members.
package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository работает с таблицей members.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий участников.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create регистрирует нового участника.
func (r *Repository) Create(ctx context.Context, m *Member) error {
	query := `
		INSERT INTO members (user_id, username, first_name, last_name, is_banned)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, m.UserID, m.Username, m.FirstName, m.LastName)
	if err != nil {
		return fmt.Errorf("ошибка регистрации участника: %w", err)
	}
	return nil
}

// GetByUserID возвращает участника по Telegram user ID.
// Если участника нет — (nil, nil).
func (r *Repository) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	query := `
		SELECT id, user_id, username, first_name, last_name, is_banned, created_at, updated_at
		FROM members WHERE user_id = $1
	`
	var m Member
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&m.ID, &m.UserID, &m.Username, &m.FirstName, &m.LastName,
		&m.IsBanned, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения участника: %w", err)
	}
	return &m, nil
}

// Exists проверяет, зарегистрирован ли пользователь.
func (r *Repository) Exists(ctx context.Context, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM members WHERE user_id = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&exists)
	return exists, err
}

// UpdateInfo обновляет имя/username при повторной встрече пользователя.
func (r *Repository) UpdateInfo(ctx context.Context, userID int64, info UpdateInfo) error {
	query := `
		UPDATE members
		SET username = $2, first_name = $3, last_name = $4, updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := r.db.Exec(ctx, query, userID, info.Username, info.FirstName, info.LastName)
	return err
}

// SetBanned включает или выключает блокировку участника.
func (r *Repository) SetBanned(ctx context.Context, userID int64, banned bool) error {
	query := `UPDATE members SET is_banned = $2, updated_at = NOW() WHERE user_id = $1`
	tag, err := r.db.Exec(ctx, query, userID, banned)
	if err != nil {
		return fmt.Errorf("ошибка обновления блокировки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("участник %d не найден", userID)
	}
	return nil
}
