// Package wallet — repository.go выполняет все операции с таблицами
// balances и transactions. Все денежные операции выполняются в транзакциях
// БД для целостности данных.
package wallet

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/redpacket-bot/internal/common"
)

// Repository предоставляет методы для работы с балансами и транзакциями.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий счетов.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// EnsureBalance гарантирует, что у пользователя есть запись счёта.
func (r *Repository) EnsureBalance(ctx context.Context, userID int64) error {
	query := `
		INSERT INTO balances (user_id, balance, total_earned, total_spent)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("ошибка создания счёта: %w", err)
	}
	return nil
}

// GetBalance возвращает текущий баланс пользователя в копейках.
func (r *Repository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	query := `SELECT balance FROM balances WHERE user_id = $1`
	var balance int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return balance, nil
}

// Credit начисляет деньги на счёт и пишет транзакцию в историю.
// Обновление баланса и запись истории атомарны.
func (r *Repository) Credit(ctx context.Context, userID int64, amount int64, txType, description string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (user_id, balance, total_earned, total_spent)
		VALUES ($1, $2, $2, 0)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = balances.balance + $2,
		    total_earned = balances.total_earned + $2,
		    updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("ошибка начисления: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (to_user_id, amount, transaction_type, description)
		VALUES ($1, $2, $3, $4)
	`, userID, amount, txType, description)
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}

	return tx.Commit(ctx)
}

// Debit списывает деньги со счёта с проверкой достатка (строка блокируется
// FOR UPDATE, чтобы параллельные списания не ушли в минус).
func (r *Repository) Debit(ctx context.Context, userID int64, amount int64, txType, description string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentBalance int64
	err = tx.QueryRow(ctx, `
		SELECT balance FROM balances WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&currentBalance)
	if err != nil {
		return fmt.Errorf("счёт не найден: %w", err)
	}

	if currentBalance < amount {
		return common.ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `
		UPDATE balances
		SET balance = balance - $2, total_spent = total_spent + $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("ошибка списания: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (from_user_id, amount, transaction_type, description)
		VALUES ($1, $2, $3, $4)
	`, userID, amount, txType, description)
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}

	return tx.Commit(ctx)
}

// GetTransactions возвращает последние N операций пользователя,
// и входящие, и исходящие.
func (r *Repository) GetTransactions(ctx context.Context, userID int64, limit int) ([]*Transaction, error) {
	query := `
		SELECT id, from_user_id, to_user_id, amount, transaction_type, description, created_at
		FROM transactions
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var transactions []*Transaction
	for rows.Next() {
		var t Transaction
		err := rows.Scan(
			&t.ID, &t.FromUserID, &t.ToUserID,
			&t.Amount, &t.TransactionType, &t.Description, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		transactions = append(transactions, &t)
	}
	return transactions, rows.Err()
}
