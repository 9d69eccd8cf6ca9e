// Package wallet — service.go содержит бизнес-логику счетов:
// валидация сумм, начисления, история операций.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/common"
)

// Service управляет счетами пользователей.
type Service struct {
	repo *Repository
	loc  *time.Location
}

// NewService создаёт сервис счетов.
func NewService(repo *Repository, loc *time.Location) *Service {
	return &Service{repo: repo, loc: loc}
}

// GetBalance возвращает текущий баланс пользователя в копейках.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// EnsureBalance заводит счёт, если его ещё нет.
func (s *Service) EnsureBalance(ctx context.Context, userID int64) error {
	return s.repo.EnsureBalance(ctx, userID)
}

// Credit начисляет деньги пользователю.
func (s *Service) Credit(ctx context.Context, userID int64, amount int64, txType, description string) error {
	if amount <= 0 {
		return common.ErrBadAmount
	}
	if err := s.repo.Credit(ctx, userID, amount, txType, description); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"user_id": userID,
		"amount":  common.FormatMoney(amount),
		"type":    txType,
	}).Debug("Начисление выполнено")
	return nil
}

// Debit списывает деньги пользователя.
func (s *Service) Debit(ctx context.Context, userID int64, amount int64, txType, description string) error {
	if amount <= 0 {
		return common.ErrBadAmount
	}
	return s.repo.Debit(ctx, userID, amount, txType, description)
}

// GetHistory возвращает форматированную историю последних операций.
// Последние 10 операций; если больше 5 — хвост оборачивается в спойлер.
func (s *Service) GetHistory(ctx context.Context, userID int64) (string, error) {
	transactions, err := s.repo.GetTransactions(ctx, userID, 10)
	if err != nil {
		return "", err
	}

	if len(transactions) == 0 {
		return "📋 У вас пока нет операций", nil
	}

	var lines []string
	for i, tx := range transactions {
		// + если получили, - если отправили
		sign := "+"
		if tx.FromUserID != nil && *tx.FromUserID == userID {
			sign = "-"
		}
		lines = append(lines, fmt.Sprintf("%d. %s | %s%s | %s",
			i+1,
			common.FormatDateTime(tx.CreatedAt, s.loc),
			sign,
			common.FormatMoney(tx.Amount),
			tx.Description,
		))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 Последние %d операций:\n\n", len(lines)))
	if len(lines) > 5 {
		for _, line := range lines[:5] {
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n||")
		for _, line := range lines[5:] {
			sb.WriteString(line + "\n")
		}
		sb.WriteString("||")
	} else {
		for _, line := range lines {
			sb.WriteString(line + "\n")
		}
	}
	return sb.String(), nil
}
